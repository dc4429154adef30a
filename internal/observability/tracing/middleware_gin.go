package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/seatledger/internal/orgcontext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware starts a server span per request, continuing any propagated
// parent. Routes are resolved before middleware runs, so the span is named
// after the route template rather than the raw path.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("seatledger/http")
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		parent := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(parent, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		attrs := []attribute.KeyValue{attribute.Int("http.status_code", status)}
		reqCtx := c.Request.Context()
		if id := orgcontext.RequestIDFromContext(reqCtx); id != "" {
			attrs = append(attrs, attribute.String("request_id", id))
		}
		if businessID, ok := orgcontext.BusinessIDFromContext(reqCtx); ok {
			attrs = append(attrs, attribute.String("business_id", businessID.String()))
		}
		span.SetAttributes(SafeAttributes(attrs...)...)

		if status >= http.StatusInternalServerError {
			if last := c.Errors.Last(); last != nil {
				span.RecordError(SafeError(last.Err))
			}
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
