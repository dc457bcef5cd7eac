package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/carlot/internal/anomaly"
	"github.com/smallbiznis/carlot/internal/clock"
	"github.com/smallbiznis/carlot/internal/cloudmetrics"
	"github.com/smallbiznis/carlot/internal/config"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/inventory/repository"
	"github.com/smallbiznis/carlot/internal/inventory/service"
	"github.com/smallbiznis/carlot/internal/maintenance"
	"github.com/smallbiznis/carlot/internal/observability"
	obslogger "github.com/smallbiznis/carlot/internal/observability/logger"
	"github.com/smallbiznis/carlot/internal/observability/metrics"
	"github.com/smallbiznis/carlot/internal/observability/tracing"
	"github.com/smallbiznis/carlot/internal/pipeline"
	"github.com/smallbiznis/carlot/internal/reconcile"
	"github.com/smallbiznis/carlot/internal/runlock"
	"github.com/smallbiznis/carlot/pkg/db"
	"github.com/smallbiznis/carlot/pkg/log/ctxlogger"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// runtime is what one command invocation needs. The scheduler daemon gets
// the same pieces from fx; a one-shot command builds them by hand.
type runtime struct {
	cfg     config.Config
	obs     observability.Config
	log     *zap.Logger
	db      *gorm.DB
	clock   clock.Clock
	genID   *snowflake.Node
	repo    domain.Repository
	metrics *metrics.Metrics
	ingest  *metrics.IngestMetrics
	locker  runlock.Locker
	pusher  cloudmetrics.Pusher
	tracer  *sdktrace.TracerProvider

	closers []func() error
}

func newRuntime(command string) (*runtime, error) {
	cfg := config.Load()
	obs := observability.LoadConfig(cfg)
	ctxlogger.SetServiceName(obs.ServiceName)

	log, syncLog, err := obslogger.NewCLI(obs.LoggerConfig())
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log = log.With(zap.String("command", command))

	rt := &runtime{
		cfg:     cfg,
		obs:     obs,
		log:     log,
		clock:   clock.New(),
		repo:    repository.Provide(),
		closers: []func() error{func() error { syncLog(); return nil }},
	}

	tp, err := tracing.NewProvider(nil, obs.TracingConfig(), log)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	rt.tracer = tp

	provider, err := metrics.NewProvider(nil, obs.MetricsConfig(), log)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	if rt.metrics, err = metrics.New(obs.MetricsConfig(), provider); err != nil {
		rt.close()
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	rt.ingest = metrics.IngestWithConfig(obs.MetricsConfig())

	dbCfg := db.FromAppConfig(cfg)
	dbCfg.ExportStats = obs.PrometheusDBStats
	conn, err := db.Open(dbCfg, obs.GormLoggerConfig(), log)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.db = conn
	rt.closers = append(rt.closers, func() error {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	node, err := snowflake.NewNode(1)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.genID = node

	locker, closeLocker := runlock.New(cfg.Redis, runlock.DefaultTTL, log)
	rt.locker = locker
	rt.closers = append(rt.closers, closeLocker)

	rt.pusher = cloudmetrics.NewPusher(cfg, log)
	return rt, nil
}

// finish pushes the run metrics and releases everything newRuntime opened.
func (rt *runtime) finish(ctx context.Context) {
	cloudmetrics.PushOnce(ctx, rt.pusher, prometheus.DefaultGatherer, rt.log)
	if rt.tracer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		if err := rt.tracer.Shutdown(shutdownCtx); err != nil {
			rt.log.Warn("tracer shutdown failed", zap.Error(err))
		}
		cancel()
	}
	rt.close()
}

func (rt *runtime) close() {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if err := errors.Join(errs...); err != nil && rt.log != nil {
		rt.log.Debug("close runtime", zap.Error(err))
	}
}

func (rt *runtime) engine() *reconcile.Engine {
	return reconcile.NewEngine(reconcile.Params{
		DB:      rt.db,
		Repo:    rt.repo,
		Log:     rt.log,
		Clock:   rt.clock,
		Ingest:  rt.ingest,
		Metrics: rt.metrics,
	})
}

func (rt *runtime) runs() *service.RunService {
	return service.NewRunService(service.Params{
		DB:    rt.db,
		Log:   rt.log,
		GenID: rt.genID,
		Repo:  rt.repo,
		Clock: rt.clock,
	})
}

// runner builds the pipeline runner. feeds may be nil for commands that
// never touch the CSV feed.
func (rt *runtime) runner(feeds pipeline.FeedOpener) *pipeline.Runner {
	return pipeline.NewRunner(pipeline.Params{
		Config:  rt.cfg,
		Engine:  rt.engine(),
		Runs:    rt.runs(),
		Locker:  rt.locker,
		Log:     rt.log,
		Clock:   rt.clock,
		Metrics: rt.metrics,
		Ingest:  rt.ingest,
		Feeds:   feeds,
	})
}

func (rt *runtime) detector() *anomaly.Detector {
	return anomaly.NewDetector(anomaly.Params{
		DB:      rt.db,
		Repo:    rt.repo,
		Log:     rt.log,
		Clock:   rt.clock,
		GenID:   rt.genID,
		Ingest:  rt.ingest,
		Metrics: rt.metrics,
	})
}

func (rt *runtime) maintenance() *maintenance.Service {
	return maintenance.NewService(maintenance.Params{
		DB:     rt.db,
		Repo:   rt.repo,
		Log:    rt.log,
		Clock:  rt.clock,
		Ingest: rt.ingest,
	})
}

// withRuntime runs fn with a fresh runtime and tears it down afterwards.
// A held run lock is not an error: the other run does the work.
func withRuntime(ctx context.Context, command string, dryRun bool, fn func(ctx context.Context, rt *runtime) error) error {
	rt, err := newRuntime(command)
	if err != nil {
		return err
	}
	defer rt.finish(ctx)

	start := rt.clock.Now()
	err = fn(ctx, rt)
	elapsed := rt.clock.Now().Sub(start)
	rt.metrics.ObserveRun(ctx, command, elapsed, dryRun)
	if errors.Is(err, runlock.ErrLocked) {
		rt.log.Info("another run holds the lock, nothing to do")
		return nil
	}
	if err != nil {
		rt.log.Error("command failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return err
	}
	rt.log.Info("command finished", zap.Duration("elapsed", elapsed))
	return nil
}
