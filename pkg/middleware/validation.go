package middleware

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/pos-platform/stock-service/pkg/errors"
)

var validatorOnce sync.Once

var productCodeRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

var stockLocations = map[string]bool{"SHELF": true, "MAIN_STORE": true, "WEB": true}

// InitValidator registers the stock validators on Gin's binding engine and
// reports fields by their JSON names.
func InitValidator() {
	validatorOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("product_code", func(fl validator.FieldLevel) bool {
			return productCodeRegex.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("stock_location", func(fl validator.FieldLevel) bool {
			return stockLocations[fl.Field().String()]
		})
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
}

// BindingError converts a ShouldBind error into a validation AppError with
// one detail per failed field.
func BindingError(err error) *errors.AppError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.ErrBadRequest("malformed request body").Wrap(err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return errors.ErrValidationWithFields("request validation failed", fields)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "dive":
		return "has an invalid element"
	case "product_code":
		return "must be 1-64 letters, digits, '.', '_' or '-'"
	case "stock_location":
		return "must be one of SHELF, MAIN_STORE, WEB"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
