package scheduler

import (
	"context"

	"github.com/smallbiznis/carlot/internal/anomaly"
	"github.com/smallbiznis/carlot/internal/maintenance"
	"github.com/smallbiznis/carlot/internal/pipeline"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(
		func(r *pipeline.Runner) Importer { return r },
		func(d *anomaly.Detector) Detector { return d },
		func(m *maintenance.Service) Expirer { return m },
		New,
	),
	fx.Invoke(StartScheduler),
)

// StartScheduler runs the loop for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, sched *Scheduler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				sched.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
