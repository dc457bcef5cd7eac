// Package maintenance holds housekeeping jobs over the inventory that are
// not driven by a feed.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/carlot/internal/clock"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/observability/metrics"
	pkgdb "github.com/smallbiznis/carlot/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultDeleteBatch = 1000

type Params struct {
	fx.In

	DB     *gorm.DB
	Repo   domain.Repository
	Log    *zap.Logger
	Clock  clock.Clock
	Ingest *metrics.IngestMetrics `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	repo   domain.Repository
	log    *zap.Logger
	clock  clock.Clock
	ingest *metrics.IngestMetrics
}

func NewService(p Params) *Service {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:     p.DB,
		repo:   p.Repo,
		log:    log.Named("maintenance"),
		clock:  clk,
		ingest: p.Ingest,
	}
}

type DedupeResult struct {
	Found   int
	Deleted int64
	DryRun  bool
}

// Dedupe removes every car sharing a lot number with an older row. The
// lowest id per lot survives.
func (s *Service) Dedupe(ctx context.Context, dryRun bool) (DedupeResult, error) {
	res := DedupeResult{DryRun: dryRun}
	ids, err := s.repo.DuplicateIDs(ctx, s.db)
	if err != nil {
		return res, fmt.Errorf("find duplicates: %w", err)
	}
	res.Found = len(ids)
	if dryRun || len(ids) == 0 {
		s.log.Info("dedupe finished", zap.Int("found", res.Found), zap.Bool("dry_run", dryRun))
		return res, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := deleteInBatches(ctx, s.repo, tx, ids)
		res.Deleted = n
		return err
	})
	if err != nil {
		return DedupeResult{Found: res.Found}, fmt.Errorf("delete duplicates: %w", err)
	}
	s.ingest.AddRows("dedupe", metrics.OutcomeDeleted, int(res.Deleted))
	s.log.Info("dedupe finished", zap.Int("found", res.Found), zap.Int64("deleted", res.Deleted))
	return res, nil
}

// ExpireOptions select which auction cars are stale.
type ExpireOptions struct {
	// Days keeps auctions that ended less than Days ago. Zero expires
	// everything whose auction date has passed.
	Days      int
	DryRun    bool
	Schemas   []string
	Protected []domain.ProtectedRef
}

type SchemaResult struct {
	Schema  string
	Found   int
	Deleted int64
	Err     error
}

type ExpireResult struct {
	Cutoff  time.Time
	Found   int
	Deleted int64
	DryRun  bool
	Schemas []SchemaResult
}

// ExpireAuctions deletes available auction cars whose auction date is before
// now - Days. Cars referenced by a protected column are kept. Each schema is
// handled in its own transaction; a failing schema does not stop the rest.
func (s *Service) ExpireAuctions(ctx context.Context, opts ExpireOptions) (ExpireResult, error) {
	if opts.Days < 0 {
		return ExpireResult{}, fmt.Errorf("days must not be negative, got %d", opts.Days)
	}
	res := ExpireResult{
		Cutoff: s.clock.Now().AddDate(0, 0, -opts.Days),
		DryRun: opts.DryRun,
	}
	schemas := opts.Schemas
	if len(schemas) == 0 {
		schemas = []string{""}
	}

	var errs []error
	for _, schema := range schemas {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		sr := s.expireSchema(ctx, schema, res.Cutoff, opts)
		res.Found += sr.Found
		res.Deleted += sr.Deleted
		res.Schemas = append(res.Schemas, sr)
		if sr.Err != nil {
			errs = append(errs, fmt.Errorf("schema %q: %w", schema, sr.Err))
		}
	}
	s.ingest.AddRows("expire_auctions", metrics.OutcomeDeleted, int(res.Deleted))
	s.log.Info("expired auctions",
		zap.Time("cutoff", res.Cutoff),
		zap.Int("found", res.Found),
		zap.Int64("deleted", res.Deleted),
		zap.Bool("dry_run", opts.DryRun),
	)
	return res, errors.Join(errs...)
}

func (s *Service) expireSchema(ctx context.Context, schema string, cutoff time.Time, opts ExpireOptions) SchemaResult {
	sr := SchemaResult{Schema: schema}
	log := s.log.With(zap.String("schema", schema))
	sr.Err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := pkgdb.WithSearchPath(tx, schema); err != nil {
			return err
		}
		ids, err := s.repo.ExpiredAuctionIDs(ctx, tx, cutoff, opts.Protected)
		if err != nil {
			return err
		}
		sr.Found = len(ids)
		if opts.DryRun || len(ids) == 0 {
			return nil
		}
		sr.Deleted, err = deleteInBatches(ctx, s.repo, tx, ids)
		return err
	})
	if sr.Err != nil {
		sr.Deleted = 0
		log.Error("expire auctions failed", zap.Error(sr.Err))
		return sr
	}
	log.Info("schema processed", zap.Int("found", sr.Found), zap.Int64("deleted", sr.Deleted))
	return sr
}

func deleteInBatches(ctx context.Context, repo domain.Repository, tx *gorm.DB, ids []int64) (int64, error) {
	var total int64
	for start := 0; start < len(ids); start += defaultDeleteBatch {
		end := min(start+defaultDeleteBatch, len(ids))
		n, err := repo.DeleteByIDs(ctx, tx, ids[start:end])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ParseProtectedRef parses "table.column".
func ParseProtectedRef(s string) (domain.ProtectedRef, error) {
	table, column, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok || table == "" || column == "" {
		return domain.ProtectedRef{}, fmt.Errorf("protected reference %q must look like table.column", s)
	}
	return domain.ProtectedRef{Table: table, Column: column}, nil
}
