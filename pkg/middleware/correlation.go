package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pos-platform/stock-service/pkg/errors"
	"github.com/pos-platform/stock-service/pkg/logging"
)

const (
	ContextKeyRequestID     = "requestId"
	ContextKeyCorrelationID = "correlationId"
)

const (
	HeaderRequestID     = "X-Request-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// probePaths are polled by orchestrators and scrapers and are not logged.
var probePaths = []string{"/health", "/ready", "/metrics"}

// RequestID accepts the caller's X-Request-ID or generates one.
func RequestID() gin.HandlerFunc {
	return propagateID(HeaderRequestID, ContextKeyRequestID, logging.ContextWithRequestID, func(*gin.Context) string {
		return uuid.New().String()
	})
}

// CorrelationID ties the requests of one till session together. Without the
// header the request ID is reused, so a lone request still correlates with
// its own log lines and shortage events.
func CorrelationID() gin.HandlerFunc {
	return propagateID(HeaderCorrelationID, ContextKeyCorrelationID, logging.ContextWithCorrelationID, func(c *gin.Context) string {
		if id := GetRequestID(c); id != "" {
			return id
		}
		return uuid.New().String()
	})
}

func propagateID(header, key string, withID func(context.Context, string) context.Context, fallback func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(header)
		if id == "" {
			id = fallback(c)
		}
		c.Set(key, id)
		c.Header(header, id)
		c.Request = c.Request.WithContext(withID(c.Request.Context(), id))
		c.Next()
	}
}

// Logger logs every request except the probe and metrics paths.
func Logger(logger *logging.Logger) gin.HandlerFunc {
	return LoggerWithConfig(logger, probePaths...)
}

// LoggerWithConfig logs requests, skipping the given paths.
func LoggerWithConfig(logger *logging.Logger, excludePaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(excludePaths))
	for _, path := range excludePaths {
		skip[path] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		logger.HTTPRequest(c.Request.Context(),
			c.Request.Method,
			c.Request.URL.Path,
			c.Writer.Status(),
			time.Since(start),
			c.ClientIP(),
			c.Request.UserAgent(),
		)
	}
}

// Recovery turns panics into 500 responses
func Recovery(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Panic(c.Request.Context(), rec)
				AbortWithAppError(c, errors.ErrInternal("An unexpected error occurred"))
			}
		}()
		c.Next()
	}
}

func GetRequestID(c *gin.Context) string {
	return c.GetString(ContextKeyRequestID)
}

func GetCorrelationID(c *gin.Context) string {
	return c.GetString(ContextKeyCorrelationID)
}
