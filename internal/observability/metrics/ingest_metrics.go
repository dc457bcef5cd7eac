package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
	OutcomeDeleted   = "deleted"
	OutcomeSkipped   = "skipped"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"

	BatchCommitted  = "committed"
	BatchRolledBack = "rolled_back"
	BatchDryRun     = "dry_run"
)

// IngestMetrics tracks reconciliation throughput for scraping and push export.
type IngestMetrics struct {
	rows          *prometheus.CounterVec
	batches       *prometheus.CounterVec
	batchDuration *prometheus.HistogramVec
	anomalies     *prometheus.CounterVec
	lastSuccess   *prometheus.GaugeVec
}

var (
	ingestMetricsOnce sync.Once
	ingestMetrics     *IngestMetrics
)

// Ingest returns the singleton ingest metrics registry.
func Ingest() *IngestMetrics {
	return IngestWithConfig(Config{})
}

// IngestWithConfig returns the singleton ingest metrics registry using config labels.
func IngestWithConfig(cfg Config) *IngestMetrics {
	ingestMetricsOnce.Do(func() {
		ingestMetrics = NewIngestMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return ingestMetrics
}

// ResetIngestMetricsForTest resets the ingest metrics singleton for tests.
func ResetIngestMetricsForTest() {
	ingestMetricsOnce = sync.Once{}
	ingestMetrics = nil
}

// NewIngestMetrics registers ingest collectors on registerer.
func NewIngestMetrics(registerer prometheus.Registerer, cfg Config) *IngestMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "carlot_ingest_rows_total",
		Help:        "Feed rows reconciled by source and outcome.",
		ConstLabels: labels,
	}, []string{"source", "outcome"})
	batches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "carlot_ingest_batches_total",
		Help:        "Reconciliation batches by result.",
		ConstLabels: labels,
	}, []string{"source", "result"})
	batchDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "carlot_ingest_batch_duration_seconds",
		Help:        "Time spent inside one reconciliation batch transaction.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: labels,
	}, []string{"source"})
	anomalies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "carlot_price_anomalies_found_total",
		Help:        "Price anomalies found by method and type.",
		ConstLabels: labels,
	}, []string{"method", "type"})
	lastSuccess := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "carlot_last_success_timestamp_seconds",
		Help:        "Unix time of the last successful run per command.",
		ConstLabels: labels,
	}, []string{"command"})

	registerer.MustRegister(rows, batches, batchDuration, anomalies, lastSuccess)

	return &IngestMetrics{
		rows:          rows,
		batches:       batches,
		batchDuration: batchDuration,
		anomalies:     anomalies,
		lastSuccess:   lastSuccess,
	}
}

// AddRows counts reconciled rows.
func (m *IngestMetrics) AddRows(source, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.rows.WithLabelValues(source, outcome).Add(float64(count))
}

// ObserveBatch records one batch result and its duration.
func (m *IngestMetrics) ObserveBatch(source, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(source, result).Inc()
	m.batchDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// AddAnomalies counts findings.
func (m *IngestMetrics) AddAnomalies(method, anomalyType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.anomalies.WithLabelValues(method, anomalyType).Add(float64(count))
}

// MarkSuccess stamps the last successful run of command.
func (m *IngestMetrics) MarkSuccess(command string, at time.Time) {
	if m == nil {
		return
	}
	m.lastSuccess.WithLabelValues(command).Set(float64(at.Unix()))
}
