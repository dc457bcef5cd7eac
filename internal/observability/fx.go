package observability

import (
	"github.com/smallbiznis/carlot/internal/observability/logger"
	"github.com/smallbiznis/carlot/internal/observability/metrics"
	"github.com/smallbiznis/carlot/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		logger.New,
		provideGormLoggerConfig,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
		provideIngestMetrics,
	),
	fx.Invoke(ensureTracingProvider),
	fx.Invoke(ensureSchedulerMetrics),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}

func provideLoggerConfig(cfg Config) logger.Config {
	return cfg.LoggerConfig()
}

func provideGormLoggerConfig(cfg Config) logger.GormLoggerConfig {
	return cfg.GormLoggerConfig()
}

func provideTracingConfig(cfg Config) tracing.Config {
	return cfg.TracingConfig()
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return cfg.MetricsConfig()
}

func provideIngestMetrics(cfg metrics.Config) *metrics.IngestMetrics {
	return metrics.IngestWithConfig(cfg)
}

func ensureSchedulerMetrics(cfg metrics.Config) {
	metrics.SchedulerWithConfig(cfg)
}
