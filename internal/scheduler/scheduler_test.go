package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/carlot/internal/anomaly"
	"github.com/smallbiznis/carlot/internal/clock"
	"github.com/smallbiznis/carlot/internal/config"
	"github.com/smallbiznis/carlot/internal/feed"
	"github.com/smallbiznis/carlot/internal/maintenance"
	obsmetrics "github.com/smallbiznis/carlot/internal/observability/metrics"
	"github.com/smallbiznis/carlot/internal/pipeline"
	"github.com/smallbiznis/carlot/internal/reconcile"
	"github.com/smallbiznis/carlot/internal/runlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)

type fakeImporter struct {
	reqs  []pipeline.DailyRequest
	err   error
	onRun func()
}

func (f *fakeImporter) Daily(_ context.Context, req pipeline.DailyRequest) (pipeline.Report, error) {
	f.reqs = append(f.reqs, req)
	if f.onRun != nil {
		f.onRun()
	}
	return pipeline.Report{Import: reconcile.Summary{Created: 3, Updated: 2}}, f.err
}

type savedCall struct {
	method    string
	findings  int
	overwrite bool
	runID     int64
}

type fakeDetector struct {
	detected []anomaly.Options
	saved    []savedCall
	err      error
}

func (f *fakeDetector) Detect(_ context.Context, opts anomaly.Options) (anomaly.Result, error) {
	f.detected = append(f.detected, opts)
	if f.err != nil {
		return anomaly.Result{}, f.err
	}
	return anomaly.Result{Method: opts.Method, Findings: make([]anomaly.Finding, 2)}, nil
}

func (f *fakeDetector) Save(_ context.Context, method string, findings []anomaly.Finding, overwrite bool, runID int64) (int, error) {
	f.saved = append(f.saved, savedCall{method, len(findings), overwrite, runID})
	return len(findings), nil
}

type fakeExpirer struct {
	opts []maintenance.ExpireOptions
}

func (f *fakeExpirer) ExpireAuctions(_ context.Context, opts maintenance.ExpireOptions) (maintenance.ExpireResult, error) {
	f.opts = append(f.opts, opts)
	return maintenance.ExpireResult{Found: 1, Deleted: 1}, nil
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string) (runlock.ReleaseFunc, error) {
	return nil, runlock.ErrLocked
}

type fixture struct {
	sched    *Scheduler
	registry *prometheus.Registry
	importer *fakeImporter
	detector *fakeDetector
	expirer  *fakeExpirer
}

func newFixture(t *testing.T, pc config.PipelineConfig, locker runlock.Locker) *fixture {
	t.Helper()
	registry := prometheus.NewRegistry()
	t.Cleanup(swapPrometheusRegistry(registry))
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{ServiceName: "carlot", Environment: "test"})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		registry: registry,
		importer: &fakeImporter{},
		detector: &fakeDetector{},
		expirer:  &fakeExpirer{},
	}
	f.sched, err = New(Params{
		App:      config.Config{DeletionPolicy: config.DeletionPolicyFullSync},
		Pipeline: config.NewStaticPipelineConfigHolder(pc),
		Log:      zaptest.NewLogger(t),
		GenID:    node,
		Clock:    clock.NewFakeClock(testNow),
		Locker:   locker,
		Importer: f.importer,
		Detector: f.detector,
		Expirer:  f.expirer,
	})
	require.NoError(t, err)
	return f
}

func jobs(enabled ...string) config.PipelineConfig {
	pc := config.DefaultPipelineConfig()
	pc.Scheduler.Jobs = map[string]bool{}
	for _, name := range enabled {
		pc.Scheduler.Jobs[name] = true
	}
	return pc
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zaptest.NewLogger(t)})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	f := newFixture(t, jobs(), nil)

	err := f.sched.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{"service": "carlot", "env": "test", "job": "timeout_job"}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "carlot_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "carlot",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "carlot_scheduler_job_errors_total", errorLabels))
}

func TestRunJobHeldLockIsSkipped(t *testing.T) {
	f := newFixture(t, jobs(), heldLocker{})

	err := f.sched.runJob(context.Background(), JobDetectAnomalies, time.Minute, f.sched.DetectAnomaliesJob)
	require.NoError(t, err)
	assert.Empty(t, f.detector.detected)

	labels := map[string]string{
		"service": "carlot",
		"env":     "test",
		"job":     JobDetectAnomalies,
		"reason":  obsmetrics.SchedulerJobReasonLockHeld,
	}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "carlot_scheduler_job_errors_total", labels))
}

func TestRunJobWrapsFailure(t *testing.T) {
	f := newFixture(t, jobs(), nil)
	boom := errors.New("boom")

	err := f.sched.runJob(context.Background(), "failing", time.Minute, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "failing: boom")

	labels := map[string]string{"service": "carlot", "env": "test", "job": "failing"}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "carlot_scheduler_job_runs_total", labels))
}

func TestRunJobCountsTouchedCars(t *testing.T) {
	f := newFixture(t, jobs(), nil)

	require.NoError(t, f.sched.runJob(context.Background(), JobDailyImport, time.Minute, f.sched.DailyImportJob))

	labels := map[string]string{"service": "carlot", "env": "test", "job": JobDailyImport, "resource": "cars"}
	assert.Equal(t, 5.0, getCounterValue(t, f.registry, "carlot_scheduler_batch_processed_total", labels))
}

func TestRunOnceRunsEnabledJobs(t *testing.T) {
	f := newFixture(t, jobs(JobDailyImport, JobDetectAnomalies), nil)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	require.Len(t, f.importer.reqs, 1)
	req := f.importer.reqs[0]
	assert.Equal(t, "2025-06-01", req.Date)
	assert.Equal(t, config.DeletionPolicyFullSync, req.DeletionPolicy)
	assert.Equal(t, 500, req.Options.ChunkSize)

	require.Len(t, f.detector.detected, 1)
	assert.Equal(t, "iqr", f.detector.detected[0].Method)
	assert.Equal(t, []string{"manufacturer", "model", "year"}, f.detector.detected[0].Params.GroupBy)
	require.Len(t, f.detector.saved, 1)
	assert.True(t, f.detector.saved[0].overwrite)
	assert.NotZero(t, f.detector.saved[0].runID)
	assert.Equal(t, 2, f.detector.saved[0].findings)

	assert.Empty(t, f.expirer.opts)

	labels := map[string]string{"service": "carlot", "env": "test", "job": JobDailyImport, "resource": "cars"}
	assert.Equal(t, 5.0, getCounterValue(t, f.registry, "carlot_scheduler_batch_processed_total", labels))
}

func TestDailyImportWithoutFeedIsQuiet(t *testing.T) {
	f := newFixture(t, jobs(JobDailyImport), nil)
	f.importer.err = feed.ErrNoData

	assert.NoError(t, f.sched.RunOnce(context.Background()))
}

func TestDailyImportFailureSurfaces(t *testing.T) {
	f := newFixture(t, jobs(JobDailyImport, JobExpireAuctions), nil)
	f.importer.err = errors.New("db down")

	err := f.sched.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily_import")
	assert.Len(t, f.expirer.opts, 1, "later jobs still run")
}

func TestDetectAnomaliesSummaryStoresEveryMethod(t *testing.T) {
	pc := jobs(JobDetectAnomalies)
	pc.Anomaly.Method = "summary"
	f := newFixture(t, pc, nil)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	methods := make([]string, 0, len(f.detector.saved))
	for _, call := range f.detector.saved {
		methods = append(methods, call.method)
	}
	assert.Equal(t, anomaly.Names(), methods)
}

func TestDetectAnomaliesEmptyInventory(t *testing.T) {
	f := newFixture(t, jobs(JobDetectAnomalies), nil)
	f.detector.err = anomaly.ErrNoCars

	require.NoError(t, f.sched.RunOnce(context.Background()))
	assert.Empty(t, f.detector.saved)
}

func TestExpireAuctionsUsesPipelineSettings(t *testing.T) {
	pc := jobs(JobExpireAuctions)
	pc.Scheduler.ExpireAuctionDays = 3
	pc.Scheduler.Protect = []string{"site_orders.car_id"}
	pc.Scheduler.Schemas = []string{"dealer_a"}
	f := newFixture(t, pc, nil)

	require.NoError(t, f.sched.RunOnce(context.Background()))
	require.Len(t, f.expirer.opts, 1)
	opts := f.expirer.opts[0]
	assert.Equal(t, 3, opts.Days)
	assert.Equal(t, []string{"dealer_a"}, opts.Schemas)
	require.Len(t, opts.Protected, 1)
	assert.Equal(t, "site_orders", opts.Protected[0].Table)
}

func TestExpireAuctionsRejectsBadProtectRef(t *testing.T) {
	pc := jobs(JobExpireAuctions)
	pc.Scheduler.Protect = []string{"nodot"}
	f := newFixture(t, pc, nil)

	assert.Error(t, f.sched.RunOnce(context.Background()))
	assert.Empty(t, f.expirer.opts)
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	f := newFixture(t, jobs(JobDailyImport), nil)
	ctx, cancel := context.WithCancel(context.Background())
	f.importer.onRun = cancel

	done := make(chan struct{})
	go func() {
		f.sched.RunForever(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunForever did not return after cancel")
	}
	assert.Len(t, f.importer.reqs, 1)
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	obsmetrics.ResetSchedulerMetricsForTest()
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
