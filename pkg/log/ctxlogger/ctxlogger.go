package ctxlogger

import (
	"context"
	"sync/atomic"

	"github.com/smallbiznis/carlot/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runKey struct{}

type runInfo struct {
	command string
	runID   string
}

var serviceName atomic.Pointer[string]

// SetServiceName configures the service name added to every log entry.
func SetServiceName(name string) {
	serviceName.Store(&name)
}

// ContextWithRun annotates the context with the command and run identifier.
func ContextWithRun(ctx context.Context, command, runID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if command == "" && runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runKey{}, runInfo{command: command, runID: runID})
}

// RunFromContext returns the command and run id stored on the context.
func RunFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	info, _ := ctx.Value(runKey{}).(runInfo)
	return info.command, info.runID
}

// FromContext returns a logger enriched with tracing and correlation metadata from context.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext enriches the provided logger using metadata in the context.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if base == nil {
		base = zap.L()
	}
	if ctx == nil {
		return base
	}

	fields := make([]zap.Field, 0, 6)
	fields = append(fields, ExtractCorrelation(ctx))
	fields = append(fields, ExtractTrace(ctx)...)

	name := "unknown"
	if namePtr := serviceName.Load(); namePtr != nil {
		name = *namePtr
	}
	fields = append(fields, zap.String("service", name))

	if command, runID := RunFromContext(ctx); command != "" || runID != "" {
		fields = append(fields, zap.String("command", command), zap.String("run_id", runID))
	}

	return base.With(fields...)
}

// ExtractCorrelation pulls the correlation ID from the context.
func ExtractCorrelation(ctx context.Context) zap.Field {
	cid := correlation.ExtractCorrelationID(ctx)
	if cid == "" {
		_, cid = correlation.EnsureCorrelationID(ctx)
	}
	return zap.String("correlation_id", cid)
}

// ExtractTrace pulls tracing identifiers from the context span.
func ExtractTrace(ctx context.Context) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return []zap.Field{zap.String("trace_id", ""), zap.String("span_id", "")}
	}

	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}
