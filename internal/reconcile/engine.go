// Package reconcile applies a feed to the inventory in bounded, independently
// committed chunks.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/smallbiznis/carlot/internal/clock"
	"github.com/smallbiznis/carlot/internal/dimension"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/normalize"
	"github.com/smallbiznis/carlot/internal/observability/metrics"
	"github.com/smallbiznis/carlot/internal/observability/tracing"
	pkgdb "github.com/smallbiznis/carlot/pkg/db"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Repo    domain.Repository
	Log     *zap.Logger
	Clock   clock.Clock
	Ingest  *metrics.IngestMetrics `optional:"true"`
	Metrics *metrics.Metrics       `optional:"true"`
}

type Engine struct {
	db      *gorm.DB
	repo    domain.Repository
	log     *zap.Logger
	clock   clock.Clock
	ingest  *metrics.IngestMetrics
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewEngine(p Params) *Engine {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		db:      p.DB,
		repo:    p.Repo,
		log:     log.Named("reconcile"),
		clock:   clk,
		ingest:  p.Ingest,
		metrics: p.Metrics,
		tracer:  otel.Tracer("carlot/reconcile"),
	}
}

// importRun is the per-invocation state of Import.
type importRun struct {
	*Engine
	source   string
	opts     Options
	resolver *dimension.Resolver
	sum      Summary
	warnings int
}

// Import streams src into the inventory. Each chunk commits on its own, so
// a failing chunk loses only its own rows. Only a broken source or a
// cancelled context aborts the run.
func (e *Engine) Import(ctx context.Context, src Source, opts Options) (Summary, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return Summary{}, err
	}

	run := &importRun{
		Engine:   e,
		source:   src.Name(),
		opts:     opts,
		resolver: dimension.NewResolver(e.db, e.repo, e.log, dimension.Options{ReadOnly: opts.DryRun}),
	}
	run.sum.lots = LotSet{}

	e.log.Info("import started",
		zap.String("source", run.source),
		zap.String("policy", string(opts.Policy)),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("chunk_size", opts.ChunkSize),
		zap.Int("max_rows", opts.MaxRows),
	)

	chunk := make([]normalize.Record, 0, opts.ChunkSize)
	for {
		if opts.MaxRows > 0 && run.sum.RowsRead >= int64(opts.MaxRows) {
			run.sum.Truncated = true
			break
		}

		rec, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrSkipRow) {
			run.sum.RowsRead++
			run.sum.Skipped++
			run.sum.unreadable = true
			run.warn("row skipped", zap.Error(err))
			run.progress()
			continue
		}
		if err != nil {
			run.sum.readFail = true
			run.flush(ctx, chunk)
			return run.finish(), fmt.Errorf("read %s: %w", run.source, err)
		}

		run.sum.RowsRead++
		run.progress()

		lot := strings.TrimSpace(rec.Lot)
		if lot == "" {
			run.sum.SkippedEmpty++
			continue
		}
		if run.sum.lots.Has(lot) {
			run.sum.Duplicates++
			continue
		}
		run.sum.lots[lot] = struct{}{}
		rec.Lot = lot

		chunk = append(chunk, rec)
		if len(chunk) >= opts.ChunkSize {
			run.flush(ctx, chunk)
			chunk = chunk[:0]
		}
	}
	run.flush(ctx, chunk)
	return run.finish(), nil
}

func (r *importRun) finish() Summary {
	st := r.resolver.Stats()
	r.log.Info("import finished",
		zap.String("source", r.source),
		zap.Bool("dry_run", r.opts.DryRun),
		zap.Int64("created", r.sum.Created),
		zap.Int64("updated", r.sum.Updated),
		zap.Int64("unchanged", r.sum.Unchanged),
		zap.Int64("skipped", r.sum.Skipped),
		zap.Int64("skipped_empty", r.sum.SkippedEmpty),
		zap.Int64("duplicates", r.sum.Duplicates),
		zap.Int64("failed", r.sum.Failed),
		zap.Int64("rows_read", r.sum.RowsRead),
		zap.Bool("truncated", r.sum.Truncated),
		zap.Int64("dimension_hits", st.Hits),
		zap.Int64("dimension_created", st.Created),
	)
	if r.warnings > r.opts.MaxWarnings {
		r.log.Warn("warnings suppressed", zap.Int("count", r.warnings-r.opts.MaxWarnings))
	}
	return r.sum
}

func (r *importRun) warn(msg string, fields ...zap.Field) {
	r.warnings++
	if r.warnings <= r.opts.MaxWarnings {
		r.log.Warn(msg, append(fields, zap.String("source", r.source))...)
	}
}

func (r *importRun) progress() {
	if !r.opts.Progress || r.sum.RowsRead%int64(r.opts.ProgressEvery) != 0 {
		return
	}
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(r.sum)
		return
	}
	r.log.Info("import progress",
		zap.Int64("rows_read", r.sum.RowsRead),
		zap.Int64("created", r.sum.Created),
		zap.Int64("updated", r.sum.Updated),
		zap.Int64("skipped", r.sum.Skipped),
	)
}

// flush runs one chunk: resolve lookups, classify against the store with a
// single query, then write inside one transaction.
func (r *importRun) flush(ctx context.Context, chunk []normalize.Record) {
	if len(chunk) == 0 {
		return
	}
	start := time.Now()
	r.sum.Batches++

	ctx, span := r.tracer.Start(ctx, "reconcile.chunk", trace.WithAttributes(tracing.SafeAttributes(
		attribute.String("source", r.source),
		attribute.Int("rows", len(chunk)),
		attribute.Bool("dry_run", r.opts.DryRun),
	)...))
	defer span.End()

	now := r.clock.Now()
	cars := make([]*domain.Car, 0, len(chunk))
	lots := make([]string, 0, len(chunk))
	for _, rec := range chunk {
		refs, err := r.resolver.ResolveAll(ctx, namesOf(rec))
		if err != nil {
			r.sum.Skipped++
			r.warn("dimension resolution failed", zap.String("lot", rec.Lot), zap.Error(err))
			continue
		}
		car, err := buildCar(rec, refs, now)
		if err != nil {
			r.sum.Skipped++
			r.warn("row mapping failed", zap.String("lot", rec.Lot), zap.Error(err))
			continue
		}
		cars = append(cars, car)
		lots = append(lots, car.LotNumber)
	}
	if len(cars) == 0 {
		return
	}

	var (
		inserts, updates []*domain.Car
		unchanged        int64
		created          int64
	)
	// Classification and writes share one schema scope, so the ids matched
	// here are the ids updated below.
	err := pkgdb.InSchema(ctx, r.db, r.opts.Schema, func(tx *gorm.DB) error {
		existing, err := r.repo.ExistingIDs(ctx, tx, lots)
		if err != nil {
			return fmt.Errorf("existence lookup: %w", err)
		}
		for _, car := range cars {
			id, ok := existing[car.LotNumber]
			switch {
			case !ok:
				inserts = append(inserts, car)
			case r.opts.Policy == PolicyInsertOnly:
				unchanged++
			default:
				car.ID = id
				updates = append(updates, car)
			}
		}
		if r.opts.DryRun {
			return nil
		}

		if err := pkgdb.DisableStatementTimeout(tx); err != nil {
			return err
		}
		n, err := r.repo.InsertCars(ctx, tx, inserts, r.opts.CreateBatchSize)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		created = n
		for i := 0; i < len(updates); i += r.opts.UpdateBatchSize {
			end := min(i+r.opts.UpdateBatchSize, len(updates))
			if _, err := r.repo.UpdateCars(ctx, tx, updates[i:end]); err != nil {
				return fmt.Errorf("update: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		r.fail(ctx, span, len(cars), start, err)
		return
	}

	if r.opts.DryRun {
		r.sum.Created += int64(len(inserts))
		r.sum.Updated += int64(len(updates))
		r.sum.Unchanged += unchanged
		r.record(ctx, int64(len(inserts)), int64(len(updates)), unchanged)
		r.ingest.ObserveBatch(r.source, metrics.BatchDryRun, time.Since(start))
		return
	}

	// Conflict-ignored inserts lost a race to another writer.
	lost := int64(len(inserts)) - created
	r.sum.Created += created
	r.sum.Updated += int64(len(updates))
	r.sum.Unchanged += unchanged + lost
	r.record(ctx, created, int64(len(updates)), unchanged+lost)
	r.ingest.ObserveBatch(r.source, metrics.BatchCommitted, time.Since(start))
	span.SetAttributes(
		attribute.Int64("created", created),
		attribute.Int("updated", len(updates)),
	)
}

func (r *importRun) fail(ctx context.Context, span trace.Span, rows int, start time.Time, err error) {
	r.sum.Failed += int64(rows)
	span.RecordError(err)
	span.SetStatus(codes.Error, "chunk failed")
	r.ingest.ObserveBatch(r.source, metrics.BatchRolledBack, time.Since(start))
	r.ingest.AddRows(r.source, metrics.OutcomeFailed, rows)
	r.metrics.RecordRows(ctx, r.source, metrics.OutcomeFailed, rows)
	r.log.Error("chunk rolled back",
		zap.String("source", r.source),
		zap.Int("rows", rows),
		zap.Int64("batch", r.sum.Batches),
		zap.Error(err),
	)
}

func (r *importRun) record(ctx context.Context, created, updated, unchanged int64) {
	for outcome, n := range map[string]int64{
		metrics.OutcomeCreated:   created,
		metrics.OutcomeUpdated:   updated,
		metrics.OutcomeUnchanged: unchanged,
	} {
		if n == 0 {
			continue
		}
		r.ingest.AddRows(r.source, outcome, int(n))
		r.metrics.RecordRows(ctx, r.source, outcome, int(n))
	}
}
