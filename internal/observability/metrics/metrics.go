package metrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const exportInterval = 10 * time.Second

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics holds the OTel instruments for imports, feed downloads and
// anomaly detection. A nil *Metrics records nothing.
type Metrics struct {
	rows      metric.Int64Counter
	fetches   metric.Int64Counter
	feedBytes metric.Int64Counter
	anomalies metric.Int64Counter
	runTime   metric.Float64Histogram
}

// NewProvider installs the global meter provider. With metrics disabled it
// installs a noop provider. lc is nil for the CLI, which has no lifecycle.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if !cfg.Enabled {
		p := noop.NewMeterProvider()
		otel.SetMeterProvider(p)
		return p, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}
	p := sdkmetric.NewMeterProvider(sdkmetric.WithReader(
		sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval)),
	))
	otel.SetMeterProvider(p)
	if lc != nil {
		lc.Append(fx.StopHook(func(ctx context.Context) error {
			log.Info("flushing meter provider")
			return p.Shutdown(ctx)
		}))
	}
	log.Info("otel metrics enabled",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return p, nil
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc", "grpc/protobuf":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	}
	return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
}

// New creates the instruments on a meter named after the service.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "carlot"
	}
	meter := provider.Meter(name)

	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	m := &Metrics{
		rows:      counter("carlot_import_rows_total", "Cars written or skipped by source and outcome."),
		fetches:   counter("carlot_feed_fetch_total", "Feed snapshot requests by kind and status."),
		feedBytes: counter("carlot_feed_bytes_total", "Raw bytes read from feed snapshots."),
		anomalies: counter("carlot_price_anomalies_total", "Price anomalies found by method and type."),
	}
	runTime, err := meter.Float64Histogram("carlot_run_duration_seconds",
		metric.WithDescription("Wall time of one command run."),
		metric.WithUnit("s"),
	)
	m.runTime = runTime
	if err := errors.Join(append(errs, err)...); err != nil {
		return nil, err
	}
	return m, nil
}

func attrs(kv ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(FilterAttributes(kv...)...)
}

func label(key, value string) attribute.KeyValue {
	return attribute.String(key, strings.TrimSpace(value))
}

// RecordRows adds count rows for source under outcome. See the Outcome constants.
func (m *Metrics) RecordRows(ctx context.Context, source, outcome string, count int) {
	if m != nil && count > 0 {
		m.rows.Add(ctx, int64(count), attrs(label("source", source), label("outcome", outcome)))
	}
}

// RecordFeedFetch counts one snapshot request. status is 0 when no response arrived.
func (m *Metrics) RecordFeedFetch(ctx context.Context, kind string, status int) {
	if m != nil {
		m.fetches.Add(ctx, 1, attrs(label("kind", kind), attribute.Int("status_code", status)))
	}
}

func (m *Metrics) RecordFeedBytes(ctx context.Context, kind string, n int64) {
	if m != nil && n > 0 {
		m.feedBytes.Add(ctx, n, attrs(label("kind", kind)))
	}
}

func (m *Metrics) RecordAnomalies(ctx context.Context, method, anomalyType string, count int) {
	if m != nil && count > 0 {
		m.anomalies.Add(ctx, int64(count), attrs(label("method", method), label("anomaly_type", anomalyType)))
	}
}

// ObserveRun records how long a CLI command or scheduler job took.
func (m *Metrics) ObserveRun(ctx context.Context, command string, d time.Duration, dryRun bool) {
	if m != nil {
		m.runTime.Record(ctx, d.Seconds(), attrs(label("command", command), attribute.Bool("dry_run", dryRun)))
	}
}

// labelKeys are the only attributes exported. Lot numbers, car ids and
// dates never become labels.
var labelKeys = map[attribute.Key]bool{
	"source":       true,
	"outcome":      true,
	"kind":         true,
	"status_code":  true,
	"method":       true,
	"anomaly_type": true,
	"command":      true,
	"dry_run":      true,
}

// FilterAttributes drops attributes whose key is not a known label.
func FilterAttributes(kv ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(kv))
	for _, a := range kv {
		if labelKeys[a.Key] {
			out = append(out, a)
		}
	}
	return out
}
