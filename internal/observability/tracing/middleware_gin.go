package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/carlot/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// GinMiddleware opens a server span per request, continuing any trace
// propagated by the caller. The request id travels as span attribute and
// baggage so downstream feed and object store calls carry it.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("carlot/http")
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if id := correlation.ExtractCorrelationID(ctx); id != "" {
			span.SetAttributes(attribute.String("request_id", id))
			if m, err := baggage.NewMember("request_id", id); err == nil {
				if bag, err := baggage.FromContext(ctx).SetMember(m); err == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()

		route, status := c.FullPath(), c.Writer.Status()
		if route == "" {
			route = "unknown"
		}
		span.SetName(c.Request.Method + " " + route)
		span.SetAttributes(SafeAttributes(
			attribute.String("http.request.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.response.status_code", status),
		)...)
		if status < http.StatusInternalServerError {
			return
		}
		if last := c.Errors.Last(); last != nil {
			span.RecordError(SafeError(last.Err))
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}
