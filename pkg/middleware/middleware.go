package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/pos-platform/stock-service/pkg/errors"
	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
)

// Config selects the collaborators of the middleware chain. A nil Metrics
// disables request metrics.
type Config struct {
	Logger         *logging.Logger
	Metrics        *metrics.Metrics
	ServiceName    string
	AllowedOrigins []string
	TrustedProxies []string
	// ErrorMapper turns handler errors into responses. Defaults to
	// errors.MapDomainError.
	ErrorMapper func(error) *errors.AppError
}

// DefaultConfig allows any origin.
func DefaultConfig(serviceName string, logger *logging.Logger) *Config {
	return &Config{
		Logger:         logger,
		ServiceName:    serviceName,
		AllowedOrigins: []string{"*"},
	}
}

// Setup installs the middleware chain. Recovery comes first so a panic in any
// later middleware still renders a 500; the IDs are set before tracing and
// logging read them.
func Setup(router *gin.Engine, config *Config) {
	InitValidator()

	if len(config.TrustedProxies) > 0 {
		_ = router.SetTrustedProxies(config.TrustedProxies)
	}

	router.Use(Recovery(config.Logger))
	router.Use(RequestID())
	router.Use(CorrelationID())
	router.Use(Tracing(config.ServiceName))
	router.Use(Logger(config.Logger))
	if config.Metrics != nil {
		router.Use(Metrics(config.Metrics))
	}
	router.Use(CORS(config.AllowedOrigins))
	router.Use(ErrorHandler(config.Logger, config.ErrorMapper))

	router.NoRoute(NoRoute())
	router.NoMethod(NoMethod())
	router.HandleMethodNotAllowed = true
}

// CORS allows the configured origins. A single "*" allows any origin.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", HeaderRequestID, HeaderCorrelationID},
		ExposeHeaders: []string{HeaderRequestID, HeaderCorrelationID},
		MaxAge:        24 * time.Hour,
	}
	if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

// HealthCheck creates a liveness handler
func HealthCheck(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
		})
	}
}

// ReadinessCheck creates a readiness handler that runs checkFn with the
// request context.
func ReadinessCheck(serviceName string, checkFn func(c *gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := checkFn(c); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"service": serviceName,
				"error":   err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "ready",
			"service": serviceName,
		})
	}
}

// NoRoute renders unknown paths with the standard error body.
func NoRoute() gin.HandlerFunc {
	return routingError(http.StatusNotFound, "ROUTE_NOT_FOUND", "The requested resource was not found")
}

// NoMethod renders known paths hit with an unsupported method.
func NoMethod() gin.HandlerFunc {
	return routingError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "The request method is not supported for this resource")
}

func routingError(status int, code, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		AbortWithAppError(c, &errors.AppError{Code: code, Message: message, HTTPStatus: status})
	}
}

// WrapHandler adapts an error-returning handler; the error is rendered by
// ErrorHandler.
func WrapHandler(handler func(*gin.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := handler(c); err != nil {
			_ = c.Error(err)
		}
	}
}
