// Package scheduler runs the daily pipeline jobs inside the long-lived
// daemon: the feed import, anomaly detection and auction expiry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carlot/internal/anomaly"
	"github.com/smallbiznis/carlot/internal/clock"
	"github.com/smallbiznis/carlot/internal/config"
	"github.com/smallbiznis/carlot/internal/feed"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/maintenance"
	obsmetrics "github.com/smallbiznis/carlot/internal/observability/metrics"
	"github.com/smallbiznis/carlot/internal/pipeline"
	"github.com/smallbiznis/carlot/internal/reconcile"
	"github.com/smallbiznis/carlot/internal/runlock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobDailyImport     = "daily_import"
	JobDetectAnomalies = "detect_anomalies"
	JobExpireAuctions  = "expire_auctions"

	// Lock names are shared with the matching CLI commands.
	lockDetectAnomalies = "detect-anomalies"
	lockExpireAuctions  = "expire-auctions"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

// Importer runs the dated feed import.
type Importer interface {
	Daily(ctx context.Context, req pipeline.DailyRequest) (pipeline.Report, error)
}

// Detector scores and persists anomalies.
type Detector interface {
	Detect(ctx context.Context, opts anomaly.Options) (anomaly.Result, error)
	Save(ctx context.Context, method string, findings []anomaly.Finding, overwrite bool, runID int64) (int, error)
}

// Expirer removes auction cars past their auction date.
type Expirer interface {
	ExpireAuctions(ctx context.Context, opts maintenance.ExpireOptions) (maintenance.ExpireResult, error)
}

type Params struct {
	fx.In

	App      config.Config
	Pipeline *config.PipelineConfigHolder
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Locker   runlock.Locker
	Importer Importer
	Detector Detector
	Expirer  Expirer
	Config   Config `optional:"true"`
}

type Scheduler struct {
	app      config.Config
	pipeline *config.PipelineConfigHolder
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	locker   runlock.Locker
	importer Importer
	detector Detector
	expirer  Expirer
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Importer == nil || p.Detector == nil || p.Expirer == nil {
		return nil, ErrInvalidConfig
	}
	locker := p.Locker
	if locker == nil {
		locker = runlock.NopLocker{}
	}
	return &Scheduler{
		app:      p.App,
		pipeline: p.Pipeline,
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		locker:   locker,
		importer: p.Importer,
		detector: p.Detector,
		expirer:  p.Expirer,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, end := s.beginJob(ctx, name)
	log := s.logger(ctx)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	schedMetrics.AddBatchProcessed(name, "cars", run.touched)
	if err != nil && run.failed == 0 {
		run.fail()
	}
	end()
	if err == nil {
		return nil
	}

	if errors.Is(err, runlock.ErrLocked) {
		schedMetrics.IncJobError(name, fmt.Errorf("%w: %w", obsmetrics.ErrLockHeld, err))
		log.Info("job skipped, another run holds the lock")
		return nil
	}

	// a deadline is a soft failure; the next tick retries
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	log.Error("job failed",
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
		zap.Error(err),
	)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job in order. Job failures do not stop the
// jobs after them.
func (s *Scheduler) RunOnce(parent context.Context) error {
	opts := s.pipeline.Get().Scheduler

	jobs := []struct {
		Name    string
		Timeout time.Duration
		Run     func(context.Context) error
	}{
		{JobDailyImport, s.cfg.ImportTimeout, s.DailyImportJob},
		{JobDetectAnomalies, s.cfg.AnomalyTimeout, s.DetectAnomaliesJob},
		{JobExpireAuctions, s.cfg.ExpireTimeout, s.ExpireAuctionsJob},
	}

	var err error
	for _, job := range jobs {
		if !opts.JobEnabled(job.Name) {
			continue
		}
		if parent.Err() != nil {
			return errors.Join(err, parent.Err())
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Timeout, job.Run))
	}
	return err
}

// RunForever runs the jobs, then again after every interval until ctx is
// done. The interval is re-read each time so pipeline.yml edits apply on
// the next cycle.
func (s *Scheduler) RunForever(ctx context.Context) {
	interval := s.pipeline.Get().Scheduler.Interval
	nextRun := s.clock.Now()
	schedMetrics := obsmetrics.Scheduler()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			schedMetrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		interval = s.pipeline.Get().Scheduler.Interval
		nextRun = nextRun.Add(interval)
		wait := nextRun.Sub(s.clock.Now())
		if wait < 0 {
			wait = 0
			nextRun = s.clock.Now()
		}
		timer.Reset(wait)
	}
}

// DailyImportJob imports today's UTC feed. An unpublished feed is not an
// error; the next cycle picks it up.
func (s *Scheduler) DailyImportJob(ctx context.Context) error {
	ctx, run, end := s.beginJob(ctx, JobDailyImport)
	defer end()
	cfg := s.pipeline.Get()
	date := s.clock.Now().UTC().Format(feed.DateLayout)

	report, err := s.importer.Daily(ctx, pipeline.DailyRequest{
		Date:           date,
		Options:        reconcile.OptionsFromPipeline(cfg.Import),
		DeletionPolicy: s.app.DeletionPolicy,
	})
	total := report.Total()
	run.touch(int(total.Created + total.Updated + total.Deleted))
	if errors.Is(err, feed.ErrNoData) {
		s.logger(ctx).Info("feed not published yet", zap.String("date", date))
		return nil
	}
	if err != nil {
		return err
	}
	s.logger(ctx).Info("daily import finished",
		zap.String("date", date),
		zap.String("summary", total.Line(false)),
		zap.String("detail", total.Detail()),
		zap.Int64("import_run_id", report.RunID),
		zap.Strings("warnings", report.Warnings),
	)
	return nil
}

// DetectAnomaliesJob scores the inventory with the configured method and
// replaces the stored findings of that method. The summary method stores
// each underlying method separately.
func (s *Scheduler) DetectAnomaliesJob(ctx context.Context) error {
	ctx, run, end := s.beginJob(ctx, JobDetectAnomalies)
	defer end()
	cfg := s.pipeline.Get().Anomaly

	methods := []string{strings.ToLower(strings.TrimSpace(cfg.Method))}
	if methods[0] == anomaly.MethodSummary {
		methods = anomaly.Names()
	}

	return runlock.Run(ctx, s.locker, lockDetectAnomalies, func(ctx context.Context) error {
		var jobErr error
		for _, method := range methods {
			result, err := s.detector.Detect(ctx, anomaly.Options{
				Method: method,
				Params: anomaly.MethodParams{
					GroupBy:      cfg.GroupBy,
					MinGroupSize: cfg.MinGroupSize,
					K:            cfg.K,
					Threshold:    cfg.Threshold,
				},
				SeverityFilter: cfg.SeverityFilter,
			})
			if errors.Is(err, anomaly.ErrNoCars) {
				s.logger(ctx).Info("no cars to score")
				return nil
			}
			if err != nil {
				run.fail()
				jobErr = errors.Join(jobErr, fmt.Errorf("%s: %w", method, err))
				continue
			}
			saved, err := s.detector.Save(ctx, method, result.Findings, true, run.id.Int64())
			if err != nil {
				run.fail()
				jobErr = errors.Join(jobErr, fmt.Errorf("save %s: %w", method, err))
				continue
			}
			run.touch(saved)
			s.logger(ctx).Info("anomalies stored",
				zap.String("method", method),
				zap.Int("saved", saved),
				zap.Int("total_cars", result.Stats.TotalCars),
			)
		}
		return jobErr
	})
}

// ExpireAuctionsJob deletes auction cars whose auction date passed more
// than the configured number of days ago.
func (s *Scheduler) ExpireAuctionsJob(ctx context.Context) error {
	ctx, run, end := s.beginJob(ctx, JobExpireAuctions)
	defer end()
	cfg := s.pipeline.Get().Scheduler

	protected := make([]domain.ProtectedRef, 0, len(cfg.Protect))
	for _, raw := range cfg.Protect {
		ref, err := maintenance.ParseProtectedRef(raw)
		if err != nil {
			return err
		}
		protected = append(protected, ref)
	}

	return runlock.Run(ctx, s.locker, lockExpireAuctions, func(ctx context.Context) error {
		result, err := s.expirer.ExpireAuctions(ctx, maintenance.ExpireOptions{
			Days:      cfg.ExpireAuctionDays,
			Schemas:   cfg.Schemas,
			Protected: protected,
		})
		run.touch(int(result.Deleted))
		if err != nil {
			return err
		}
		s.logger(ctx).Info("expired auctions removed",
			zap.Time("cutoff", result.Cutoff),
			zap.Int("found", result.Found),
			zap.Int64("deleted", result.Deleted),
		)
		return nil
	})
}
