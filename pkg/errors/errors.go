// Package errors carries the error envelope rendered by the HTTP layer.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error codes returned in API responses.
const (
	CodeValidationError    = "VALIDATION_ERROR"
	CodeNotFound           = "RESOURCE_NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeInsufficientStock  = "INSUFFICIENT_STOCK"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeBadRequest         = "BAD_REQUEST"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
)

var statusByCode = map[string]int{
	CodeValidationError:    http.StatusBadRequest,
	CodeBadRequest:         http.StatusBadRequest,
	CodeNotFound:           http.StatusNotFound,
	CodeConflict:           http.StatusConflict,
	CodeInsufficientStock:  http.StatusConflict,
	CodeServiceUnavailable: http.StatusServiceUnavailable,
	CodeTimeout:            http.StatusGatewayTimeout,
	CodeInternalError:      http.StatusInternalServerError,
}

// AppError is an error with a stable code and the HTTP status it renders as.
type AppError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key to the details map.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Wrap sets the underlying cause.
func (e *AppError) Wrap(err error) *AppError {
	e.Err = err
	return e
}

func newAppError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: statusByCode[code]}
}

func ErrValidation(message string) *AppError {
	return newAppError(CodeValidationError, message)
}

// ErrValidationWithFields reports one message per offending request field.
func ErrValidationWithFields(message string, fields map[string]string) *AppError {
	err := ErrValidation(message)
	for field, reason := range fields {
		err.WithDetail(field, reason)
	}
	return err
}

func ErrNotFound(resource string) *AppError {
	return newAppError(CodeNotFound, resource+" not found")
}

func ErrConflict(message string) *AppError {
	return newAppError(CodeConflict, message)
}

// ErrInsufficientStock is the conflict returned when a product cannot be supplied.
func ErrInsufficientStock(message string) *AppError {
	return newAppError(CodeInsufficientStock, message)
}

func ErrInternal(message string) *AppError {
	if message == "" {
		message = "an internal error occurred"
	}
	return newAppError(CodeInternalError, message)
}

func ErrBadRequest(message string) *AppError {
	return newAppError(CodeBadRequest, message)
}

// ErrServiceUnavailable names the dependency that is down.
func ErrServiceUnavailable(dependency string) *AppError {
	return newAppError(CodeServiceUnavailable, dependency+" is temporarily unavailable")
}

func ErrTimeout(operation string) *AppError {
	return newAppError(CodeTimeout, operation+" timed out")
}

// AsAppError finds an AppError anywhere in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// MapDomainError is the fallback mapping for errors without a typed match.
// It relies on the wording conventions of the stock domain errors.
func MapDomainError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout("operation").Wrap(err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found"):
		return ErrNotFound("resource").Wrap(err)
	case strings.Contains(msg, "insufficient stock"):
		return ErrInsufficientStock(err.Error()).Wrap(err)
	case strings.Contains(msg, "already exists"):
		return ErrConflict(err.Error()).Wrap(err)
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "required"):
		return ErrValidation(err.Error()).Wrap(err)
	default:
		return ErrInternal("").Wrap(err)
	}
}
