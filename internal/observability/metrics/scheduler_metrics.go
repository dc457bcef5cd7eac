package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobDurationBuckets = []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600}
	loopLagBuckets     = []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300}
)

// SchedulerMetrics counts scheduler job runs, failures and the cars they
// touched. A nil *SchedulerMetrics records nothing.
type SchedulerMetrics struct {
	runs      *prometheus.CounterVec
	timeouts  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	loopLag   prometheus.Histogram
}

var (
	schedulerOnce sync.Once
	scheduler     *SchedulerMetrics
)

// Scheduler returns the process-wide scheduler metrics.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the process-wide scheduler metrics, creating
// them with the service and env labels of cfg on first use.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerOnce.Do(func() {
		scheduler = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return scheduler
}

// ResetSchedulerMetricsForTest forgets the process-wide instance so a test
// can register against its own registry.
func ResetSchedulerMetricsForTest() {
	schedulerOnce = sync.Once{}
	scheduler = nil
}

func constLabels(cfg Config) prometheus.Labels {
	service, env := strings.TrimSpace(cfg.ServiceName), strings.TrimSpace(cfg.Environment)
	if service == "" {
		service = "carlot"
	}
	if env == "" {
		env = "unknown"
	}
	return prometheus.Labels{"service": service, "env": env}
}

func newSchedulerMetrics(reg prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := constLabels(cfg)
	counter := func(name, help string, dims ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "carlot",
			Subsystem:   "scheduler",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, dims)
	}

	return &SchedulerMetrics{
		runs:      counter("job_runs_total", "Job runs started.", "job"),
		timeouts:  counter("job_timeouts_total", "Jobs cut off by their timeout.", "job"),
		failures:  counter("job_errors_total", "Job failures by reason.", "job", "reason"),
		processed: counter("batch_processed_total", "Rows touched by jobs.", "job", "resource"),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "carlot",
			Subsystem:   "scheduler",
			Name:        "job_duration_seconds",
			Help:        "Wall time per job run.",
			Buckets:     jobDurationBuckets,
			ConstLabels: labels,
		}, []string{"job"}),
		loopLag: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "carlot",
			Subsystem:   "scheduler",
			Name:        "runloop_lag_seconds",
			Help:        "Delay between the planned and actual start of a cycle.",
			Buckets:     loopLagBuckets,
			ConstLabels: labels,
		}),
	}
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	if m != nil {
		m.runs.WithLabelValues(job).Inc()
	}
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	if m != nil {
		m.duration.WithLabelValues(job).Observe(d.Seconds())
	}
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m != nil {
		m.timeouts.WithLabelValues(job).Inc()
	}
}

// IncJobError counts err under the reason ClassifySchedulerJobReason picks.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m != nil && err != nil {
		m.failures.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
	}
}

func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, n int) {
	if m != nil && n > 0 {
		m.processed.WithLabelValues(job, resource).Add(float64(n))
	}
}

// ObserveRunLoopLag records how late a cycle started. Negative lag counts as zero.
func (m *SchedulerMetrics) ObserveRunLoopLag(lag time.Duration) {
	if m == nil {
		return
	}
	m.loopLag.Observe(max(lag, 0).Seconds())
}
