// Package logging provides the service's JSON logger, a thin layer over
// log/slog with helpers for the events the stock service reports.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

type Config struct {
	Level       slog.Level
	ServiceName string
	Environment string
	Version     string
	Output      io.Writer
	AddSource   bool
}

// DefaultConfig reads LOG_LEVEL, ENVIRONMENT and VERSION from the
// environment. The logger exists before the config file is parsed, so it
// cannot take its settings from there.
func DefaultConfig(serviceName string) *Config {
	return &Config{
		Level:       ParseLevel(os.Getenv("LOG_LEVEL")),
		ServiceName: serviceName,
		Environment: envOr("ENVIRONMENT", "development"),
		Version:     envOr("VERSION", "unknown"),
		Output:      os.Stdout,
		AddSource:   os.Getenv("LOG_SOURCE") == "true",
	}
}

// ParseLevel accepts slog level names ("debug", "WARN", "error+2") and
// falls back to info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Logger wraps slog.Logger with the stock service's structured helpers.
type Logger struct {
	*slog.Logger
}

func New(config *Config) *Logger {
	output := config.Output
	if output == nil {
		output = os.Stdout
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level:     config.Level,
		AddSource: config.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				a.Value = slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return a
		},
	})

	return &Logger{Logger: slog.New(handler).With(
		"service", config.ServiceName,
		"environment", config.Environment,
		"version", config.Version,
	)}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithContext adds the request, correlation, trace and sale IDs found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	attrs := contextAttrs(ctx)
	if len(attrs) == 0 {
		return l
	}
	return l.with(attrs...)
}

func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with("error", err.Error())
}

func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithProduct scopes the logger to a single product code.
func (l *Logger) WithProduct(productCode string) *Logger {
	return l.with("productCode", productCode)
}

// Event logs a business event such as a received batch or a recorded shortage.
func (l *Logger) Event(ctx context.Context, eventType string, data map[string]any) {
	l.WithContext(ctx).Info("Business event", withMap([]any{"eventType", eventType}, data)...)
}

// Audit logs a stock mutation performed on behalf of an operator or sale.
func (l *Logger) Audit(ctx context.Context, action, resource, resourceID string, details map[string]any) {
	attrs := []any{"auditAction", action, "resource", resource, "resourceId", resourceID}
	l.WithContext(ctx).Info("Audit event", withMap(attrs, details)...)
}

func (l *Logger) Performance(ctx context.Context, operation string, duration time.Duration, success bool, details map[string]any) {
	attrs := []any{"operation", operation, "durationMs", duration.Milliseconds(), "success", success}
	l.WithContext(ctx).Info("Performance metric", withMap(attrs, details)...)
}

// HTTPRequest logs 5xx responses as errors and 4xx as warnings.
func (l *Logger) HTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration, clientIP, userAgent string) {
	level := slog.LevelInfo
	switch {
	case status >= 500:
		level = slog.LevelError
	case status >= 400:
		level = slog.LevelWarn
	}

	l.WithContext(ctx).Log(ctx, level, "HTTP request",
		"method", method,
		"path", path,
		"status", status,
		"durationMs", duration.Milliseconds(),
		"clientIP", clientIP,
		"userAgent", userAgent,
	)
}

// StoreOperation logs a call against the stock store backend. Successful
// calls log at debug.
func (l *Logger) StoreOperation(ctx context.Context, backend, operation string, duration time.Duration, err error) {
	level := slog.LevelDebug
	args := []any{
		"backend", backend,
		"operation", operation,
		"durationMs", duration.Milliseconds(),
		"success", err == nil,
	}
	if err != nil {
		level = slog.LevelError
		args = append(args, "error", err.Error())
	}
	l.WithContext(ctx).Log(ctx, level, "Store operation", args...)
}

// BrokerPublish logs an outbound message to Kafka or RabbitMQ.
func (l *Logger) BrokerPublish(ctx context.Context, broker, destination, eventType string, success bool, duration time.Duration) {
	level := slog.LevelDebug
	if !success {
		level = slog.LevelError
	}
	l.WithContext(ctx).Log(ctx, level, "Broker publish",
		"broker", broker,
		"destination", destination,
		"eventType", eventType,
		"success", success,
		"durationMs", duration.Milliseconds(),
	)
}

func (l *Logger) WorkflowStart(ctx context.Context, workflowType, workflowID string) {
	l.WithContext(ctx).Info("Workflow started", "workflowType", workflowType, "workflowId", workflowID)
}

// Panic logs a recovered panic with the current goroutine's stack.
func (l *Logger) Panic(ctx context.Context, recovered any) {
	stack := make([]byte, 4096)
	n := runtime.Stack(stack, false)
	l.WithContext(ctx).Error("Panic recovered", "panic", recovered, "stack", string(stack[:n]))
}

// SetDefault routes the slog package-level functions through l.
func (l *Logger) SetDefault() {
	slog.SetDefault(l.Logger)
}

func withMap(attrs []any, fields map[string]any) []any {
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	return attrs
}

type contextKey string

const (
	RequestIDKey     contextKey = "requestId"
	CorrelationIDKey contextKey = "correlationId"
	TraceIDKey       contextKey = "traceId"
	SaleIDKey        contextKey = "saleId"
)

var contextKeys = []contextKey{RequestIDKey, CorrelationIDKey, TraceIDKey, SaleIDKey}

func contextAttrs(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	var attrs []any
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			attrs = append(attrs, string(key), v)
		}
	}
	return attrs
}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// ContextWithSaleID tags every log line of a checkout with its sale ID.
func ContextWithSaleID(ctx context.Context, saleID string) context.Context {
	return context.WithValue(ctx, SaleIDKey, saleID)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
