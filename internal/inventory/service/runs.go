package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carlot/internal/clock"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
}

// RunService records pipeline runs so operators can audit what each one did.
type RunService struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func NewRunService(p Params) *RunService {
	return &RunService{
		db:    p.DB,
		log:   p.Log.Named("inventory.runs"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
	}
}

// Start persists a running record. The run id doubles as the log run_id.
func (s *RunService) Start(ctx context.Context, command, feedDate string) (*domain.ImportRun, error) {
	run := &domain.ImportRun{
		ID:        s.genID.Generate().Int64(),
		Command:   strings.TrimSpace(command),
		FeedDate:  strings.TrimSpace(feedDate),
		Status:    domain.RunStatusRunning,
		StartedAt: s.clock.Now(),
	}
	if err := s.repo.CreateRun(ctx, s.db, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Finish stores the outcome. A failure to write the record is logged, not returned,
// because the run itself already happened.
func (s *RunService) Finish(ctx context.Context, run *domain.ImportRun, outcome domain.RunOutcome) {
	if run == nil {
		return
	}
	finished := s.clock.Now()
	run.FinishedAt = &finished
	run.Created = outcome.Created
	run.Updated = outcome.Updated
	run.Deleted = outcome.Deleted
	run.Skipped = outcome.Skipped
	run.Failed = outcome.Failed
	run.RowsRead = outcome.RowsRead
	run.FeedDigest = outcome.FeedDigest
	run.Status = domain.RunStatusSucceeded
	if outcome.Err != nil {
		msg := outcome.Err.Error()
		run.Error = &msg
		run.Status = domain.RunStatusFailed
	}
	if err := s.repo.FinishRun(ctx, s.db, run); err != nil {
		s.log.Warn("failed to finish run record",
			zap.Int64("run_id", run.ID),
			zap.String("command", run.Command),
			zap.Error(err),
		)
	}
}

// Recent lists the latest runs, newest first.
func (s *RunService) Recent(ctx context.Context, limit int) ([]domain.ImportRun, error) {
	return s.repo.ListRuns(ctx, s.db, limit)
}
