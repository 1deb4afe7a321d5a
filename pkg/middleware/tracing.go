package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/tracing"
)

// Tracing starts a server span per request, continuing any incoming trace.
// The trace ID is added to the request context so log lines carry it.
func Tracing(serviceName string) gin.HandlerFunc {
	tracer := otel.Tracer(tracing.InstrumentationName, trace.WithInstrumentationAttributes(
		semconv.ServiceNameKey.String(serviceName),
	))
	skip := make(map[string]bool, len(probePaths))
	for _, path := range probePaths {
		skip[path] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		// read the global propagator per request; it is installed after routes are built
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := routeLabel(c, c.Request.URL.Path)
		attrs := []attribute.KeyValue{
			semconv.HTTPMethodKey.String(c.Request.Method),
			semconv.HTTPRouteKey.String(route),
			attribute.String("request.id", GetRequestID(c)),
			attribute.String("correlation.id", GetCorrelationID(c)),
		}
		if product := c.Param("productCode"); product != "" {
			attrs = append(attrs, attribute.String("pos.product_code", product))
		}
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		if sc := span.SpanContext(); sc.HasTraceID() {
			ctx = logging.ContextWithTraceID(ctx, sc.TraceID().String())
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(status))
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
		for _, err := range c.Errors {
			span.RecordError(err.Err)
		}
	}
}

// routeLabel is the matched route pattern, or fallback for unmatched paths.
// Raw paths would give every product code its own label.
func routeLabel(c *gin.Context, fallback string) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return fallback
}
