package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/observability/metrics"
	pkgdb "github.com/smallbiznis/carlot/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrEmptySnapshot      = errors.New("active snapshot is empty")
	ErrIncompleteSnapshot = errors.New("active snapshot was not read to the end")
)

// Remove deletes every stored car whose lot appears in src. Lots missing
// from the store are ignored; Deleted counts rows actually removed.
func (e *Engine) Remove(ctx context.Context, src LotSource, opts Options) (Summary, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return Summary{}, err
	}
	source := src.Name()
	var sum Summary
	seen := LotSet{}
	warnings := 0

	batch := make([]string, 0, opts.DeleteBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		e.deleteLots(ctx, source, batch, opts, &sum)
		batch = batch[:0]
	}

	for {
		if opts.MaxRows > 0 && sum.RowsRead >= int64(opts.MaxRows) {
			sum.Truncated = true
			break
		}
		lot, err := src.NextLot(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrSkipRow) {
			sum.RowsRead++
			sum.Skipped++
			warnings++
			if warnings <= opts.MaxWarnings {
				e.log.Warn("removed row skipped", zap.String("source", source), zap.Error(err))
			}
			continue
		}
		if err != nil {
			flush()
			return sum, fmt.Errorf("read %s: %w", source, err)
		}
		sum.RowsRead++
		if opts.Progress && sum.RowsRead%int64(opts.ProgressEvery) == 0 {
			if opts.OnProgress != nil {
				opts.OnProgress(sum)
			} else {
				e.log.Info("removal progress", zap.Int64("rows_read", sum.RowsRead), zap.Int64("deleted", sum.Deleted))
			}
		}

		lot = strings.TrimSpace(lot)
		if lot == "" {
			sum.SkippedEmpty++
			continue
		}
		if seen.Has(lot) {
			sum.Duplicates++
			continue
		}
		seen[lot] = struct{}{}

		batch = append(batch, lot)
		if len(batch) >= opts.DeleteBatchSize {
			flush()
		}
	}
	flush()

	e.log.Info("removal finished",
		zap.String("source", source),
		zap.Bool("dry_run", opts.DryRun),
		zap.Int64("deleted", sum.Deleted),
		zap.Int64("rows_read", sum.RowsRead),
		zap.Int64("skipped", sum.Skipped+sum.SkippedEmpty),
		zap.Int64("failed", sum.Failed),
	)
	return sum, nil
}

func (e *Engine) deleteLots(ctx context.Context, source string, lots []string, opts Options, sum *Summary) {
	start := time.Now()
	sum.Batches++
	ctx, span := e.tracer.Start(ctx, "reconcile.remove_batch", trace.WithAttributes(
		attribute.String("source", source),
		attribute.Int("lots", len(lots)),
		attribute.Bool("dry_run", opts.DryRun),
	))
	defer span.End()

	var deleted int64
	err := pkgdb.InSchema(ctx, e.db, opts.Schema, func(tx *gorm.DB) error {
		var err error
		if opts.DryRun {
			deleted, err = e.repo.CountByLots(ctx, tx, lots)
			return err
		}
		deleted, err = e.repo.DeleteByLots(ctx, tx, lots)
		return err
	})
	if err != nil {
		e.removeFailed(span, source, len(lots), start, err, sum)
		return
	}
	sum.Deleted += deleted
	if opts.DryRun {
		e.ingest.ObserveBatch(source, metrics.BatchDryRun, time.Since(start))
		return
	}
	e.ingest.AddRows(source, metrics.OutcomeDeleted, int(deleted))
	e.metrics.RecordRows(ctx, source, metrics.OutcomeDeleted, int(deleted))
	e.ingest.ObserveBatch(source, metrics.BatchCommitted, time.Since(start))
	span.SetAttributes(attribute.Int64("deleted", deleted))
}

func (e *Engine) removeFailed(span trace.Span, source string, lots int, start time.Time, err error, sum *Summary) {
	sum.Failed += int64(lots)
	span.RecordError(err)
	span.SetStatus(codes.Error, "delete batch failed")
	e.ingest.ObserveBatch(source, metrics.BatchRolledBack, time.Since(start))
	e.log.Error("delete batch rolled back", zap.String("source", source), zap.Int("lots", lots), zap.Error(err))
}

// FullSync deletes every stored car whose lot is absent from snap. It
// refuses an empty or partially read snapshot, either of which would wipe
// live inventory.
func (e *Engine) FullSync(ctx context.Context, snap Snapshot, opts Options) (Summary, error) {
	opts = opts.withDefaults()
	if len(snap.Lots) == 0 {
		return Summary{}, ErrEmptySnapshot
	}
	if !snap.Complete {
		return Summary{}, ErrIncompleteSnapshot
	}

	var (
		sum     Summary
		scanned int64
		stale   []int64
	)
	const source = "full_sync"
	err := pkgdb.InSchema(ctx, e.db, opts.Schema, func(tx *gorm.DB) error {
		return e.repo.ScanLotRefs(ctx, tx, opts.DeleteBatchSize, func(refs []domain.LotRef) error {
			for _, ref := range refs {
				if !snap.Lots.Has(strings.TrimSpace(ref.LotNumber)) {
					stale = append(stale, ref.ID)
				}
			}
			scanned += int64(len(refs))
			return nil
		})
	})
	if err != nil {
		return sum, fmt.Errorf("scan inventory: %w", err)
	}

	for i := 0; i < len(stale); i += opts.DeleteBatchSize {
		ids := stale[i:min(i+opts.DeleteBatchSize, len(stale))]
		sum.Batches++
		if opts.DryRun {
			sum.Deleted += int64(len(ids))
			continue
		}
		start := time.Now()
		var deleted int64
		err := pkgdb.InSchema(ctx, e.db, opts.Schema, func(tx *gorm.DB) error {
			n, err := e.repo.DeleteByIDs(ctx, tx, ids)
			deleted = n
			return err
		})
		if err != nil {
			sum.Failed += int64(len(ids))
			e.ingest.ObserveBatch(source, metrics.BatchRolledBack, time.Since(start))
			e.log.Error("full sync batch rolled back", zap.Int("ids", len(ids)), zap.Error(err))
			continue
		}
		sum.Deleted += deleted
		e.ingest.AddRows(source, metrics.OutcomeDeleted, int(deleted))
		e.metrics.RecordRows(ctx, source, metrics.OutcomeDeleted, int(deleted))
		e.ingest.ObserveBatch(source, metrics.BatchCommitted, time.Since(start))
	}

	e.log.Info("full sync finished",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("snapshot_lots", len(snap.Lots)),
		zap.Int64("scanned", scanned),
		zap.Int64("deleted", sum.Deleted),
		zap.Int64("failed", sum.Failed),
	)
	return sum, nil
}
