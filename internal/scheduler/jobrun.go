package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carlot/pkg/log/ctxlogger"
	"go.uber.org/zap"
)

// jobRun is one execution of a job. Its id is the run id on every log line
// and the run id stored with saved anomalies.
type jobRun struct {
	job     string
	id      snowflake.ID
	started time.Time
	touched int
	failed  int
}

type jobRunKey struct{}

// touch adds n to the rows or findings the job wrote.
func (r *jobRun) touch(n int) {
	if r != nil && n > 0 {
		r.touched += n
	}
}

func (r *jobRun) fail() {
	if r != nil {
		r.failed++
	}
}

// beginJob starts a jobRun on ctx unless runJob already did. The returned
// func writes the finish line and is a no-op for the nested call.
func (s *Scheduler) beginJob(ctx context.Context, job string) (context.Context, *jobRun, func()) {
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return ctx, run, func() {}
	}
	run := &jobRun{job: job, id: s.genID.Generate(), started: s.clock.Now()}
	ctx = ctxlogger.ContextWithRun(context.WithValue(ctx, jobRunKey{}, run), job, run.id.String())
	s.logger(ctx).Info("scheduler.job.start", zap.String("job", job))
	return ctx, run, func() { s.finishJob(ctx, run) }
}

func (s *Scheduler) finishJob(ctx context.Context, run *jobRun) {
	level := zap.InfoLevel
	if run.failed > 0 {
		level = zap.WarnLevel
	}
	s.logger(ctx).Log(level, "scheduler.job.finish",
		zap.String("job", run.job),
		zap.Duration("took", s.clock.Now().Sub(run.started)),
		zap.Int("touched", run.touched),
		zap.Int("failures", run.failed),
	)
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return ctxlogger.WithContext(ctx, s.log)
}
