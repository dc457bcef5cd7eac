// Package pipeline runs the import commands end to end: run lock, run
// record, feed download and the reconcile passes the deletion policy asks for.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/smallbiznis/carlot/internal/clock"
	"github.com/smallbiznis/carlot/internal/config"
	"github.com/smallbiznis/carlot/internal/feed"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/inventory/service"
	"github.com/smallbiznis/carlot/internal/normalize"
	"github.com/smallbiznis/carlot/internal/objectstore"
	"github.com/smallbiznis/carlot/internal/observability/metrics"
	"github.com/smallbiznis/carlot/internal/reconcile"
	"github.com/smallbiznis/carlot/internal/runlock"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	CommandImport        = "import"
	CommandRemoveMissing = "remove-missing"
	CommandImportJSON    = "import-json"
	CommandImportAuction = "import-auction"
)

// FeedOpener opens a dated CSV snapshot.
type FeedOpener interface {
	Open(ctx context.Context, date string, kind feed.Kind) (*feed.Stream, error)
}

// ObjectOpener opens an object from the JSON feed bucket.
type ObjectOpener interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type Params struct {
	fx.In

	Config  config.Config
	Engine  *reconcile.Engine
	Runs    *service.RunService
	Locker  runlock.Locker
	Log     *zap.Logger
	Clock   clock.Clock
	Metrics *metrics.Metrics       `optional:"true"`
	Ingest  *metrics.IngestMetrics `optional:"true"`
	Feeds   FeedOpener             `optional:"true"`
	Objects ObjectOpener           `optional:"true"`
}

type Runner struct {
	engine  *reconcile.Engine
	runs    *service.RunService
	locker  runlock.Locker
	log     *zap.Logger
	clock   clock.Clock
	ingest  *metrics.IngestMetrics
	feeds   FeedOpener
	objects ObjectOpener
	// feedErr and objectErr hold the configuration error of a missing
	// client, reported when a command first needs it.
	feedErr   error
	objectErr error
}

func NewRunner(p Params) *Runner {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	locker := p.Locker
	if locker == nil {
		locker = runlock.NopLocker{}
	}
	r := &Runner{
		engine:  p.Engine,
		runs:    p.Runs,
		locker:  locker,
		log:     log.Named("pipeline"),
		clock:   clk,
		ingest:  p.Ingest,
		feeds:   p.Feeds,
		objects: p.Objects,
	}
	if r.feeds == nil {
		client, err := feed.NewClient(FeedConfig(p.Config.Feed), log, p.Metrics)
		if err != nil {
			r.feedErr = err
		} else {
			r.feeds = client
		}
	}
	if r.objects == nil {
		client, err := objectstore.New(p.Config.ObjectStore, log)
		if err != nil {
			r.objectErr = err
		} else {
			r.objects = client
		}
	}
	return r
}

// FeedConfig maps the deployment feed settings onto the client config.
func FeedConfig(cfg config.FeedConfig) feed.Config {
	return feed.Config{
		Host:     cfg.Host,
		Username: cfg.Username,
		Password: cfg.Password,
	}
}

// Report is what a command did, split by pass.
type Report struct {
	Command  string
	RunID    int64
	Import   reconcile.Summary
	Removal  reconcile.Summary
	Digest   string
	Warnings []string
}

// Total folds both passes into one summary.
func (r Report) Total() reconcile.Summary {
	return r.Import.Add(r.Removal)
}

// DailyRequest configures the dated CSV import.
type DailyRequest struct {
	Date           string
	Options        reconcile.Options
	DeletionPolicy string
	Profile        normalize.Profile
	// SkipRemoved stops after the import pass whatever the policy.
	SkipRemoved bool
}

// Daily imports the active snapshot of req.Date and then removes cars
// according to the deletion policy. The two feeds are independent: a
// missing snapshot of either is a warning, and a failed download of one
// does not stop the other. Failures of both passes are joined.
func (r *Runner) Daily(ctx context.Context, req DailyRequest) (Report, error) {
	report := Report{Command: CommandImport}
	if r.feedErr != nil {
		return report, r.feedErr
	}
	if req.Profile.Name == "" {
		req.Profile = normalize.EncarProfile
	}
	policy := config.NormalizeDeletionPolicy(req.DeletionPolicy)

	err := r.locked(ctx, CommandImport, req.Date, req.Options.DryRun, &report, func(ctx context.Context) error {
		snap, activeErr := r.importActive(ctx, req, &report)
		if req.SkipRemoved {
			return activeErr
		}
		var removeErr error
		if policy == config.DeletionPolicyFullSync {
			removeErr = r.syncActive(ctx, snap, req.Options, &report)
		} else {
			removeErr = r.removeListed(ctx, req, &report)
		}
		return errors.Join(activeErr, removeErr)
	})
	return report, err
}

// importActive runs the active pass. The snapshot is nil unless the feed
// was imported without error.
func (r *Runner) importActive(ctx context.Context, req DailyRequest, report *Report) (*reconcile.Snapshot, error) {
	active, err := r.feeds.Open(ctx, req.Date, feed.KindActive)
	if errors.Is(err, feed.ErrNoData) {
		r.warn(report, "no active snapshot for %s, nothing imported", req.Date)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active feed: %w", err)
	}
	defer active.Close()

	sum, err := r.engine.Import(ctx, reconcile.NewCSVSource(active, req.Profile), req.Options)
	report.Import = sum
	report.Digest = active.Digest()
	if err != nil {
		return nil, fmt.Errorf("active feed: %w", err)
	}
	snap := sum.Snapshot()
	return &snap, nil
}

// syncActive deletes cars absent from the active snapshot. Without a
// complete snapshot nothing is deleted and the run carries a warning.
func (r *Runner) syncActive(ctx context.Context, snap *reconcile.Snapshot, opts reconcile.Options, report *Report) error {
	if snap == nil {
		r.warn(report, "full sync skipped: no usable active snapshot")
		return nil
	}
	removed, err := r.engine.FullSync(ctx, *snap, opts)
	report.Removal = removed
	if errors.Is(err, reconcile.ErrIncompleteSnapshot) || errors.Is(err, reconcile.ErrEmptySnapshot) {
		r.warn(report, "full sync skipped: %v", err)
		return nil
	}
	return err
}

// removeListed deletes the lots the removed snapshot lists.
func (r *Runner) removeListed(ctx context.Context, req DailyRequest, report *Report) error {
	removedFeed, err := r.feeds.Open(ctx, req.Date, feed.KindRemoved)
	if errors.Is(err, feed.ErrNoData) {
		r.warn(report, "no removed snapshot for %s", req.Date)
		return nil
	}
	if err != nil {
		return fmt.Errorf("removed feed: %w", err)
	}
	defer removedFeed.Close()

	removed, err := r.engine.Remove(ctx, reconcile.NewCSVLotSource(removedFeed), req.Options)
	report.Removal = removed
	if err != nil {
		return fmt.Errorf("removed feed: %w", err)
	}
	return nil
}

func (r *Runner) warn(report *Report, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	report.Warnings = append(report.Warnings, msg)
	r.log.Warn(msg, zap.String("command", report.Command))
}

// RemoveMissing deletes every stored car absent from the active snapshot
// of date without importing anything.
func (r *Runner) RemoveMissing(ctx context.Context, date string, opts reconcile.Options) (Report, error) {
	report := Report{Command: CommandRemoveMissing}
	if r.feedErr != nil {
		return report, r.feedErr
	}
	err := r.locked(ctx, CommandRemoveMissing, date, opts.DryRun, &report, func(ctx context.Context) error {
		active, err := r.feeds.Open(ctx, date, feed.KindActive)
		if errors.Is(err, feed.ErrNoData) {
			r.warn(&report, "no active snapshot for %s, nothing removed", date)
			return nil
		}
		if err != nil {
			return fmt.Errorf("active feed: %w", err)
		}
		defer active.Close()

		snap, read, err := collectLots(ctx, reconcile.NewCSVLotSource(active), opts.MaxRows)
		report.Import.RowsRead = read
		report.Digest = active.Digest()
		if err != nil {
			return err
		}
		removed, err := r.engine.FullSync(ctx, snap, opts)
		report.Removal = removed
		return err
	})
	return report, err
}

// JSONRequest configures the object store vehicle import.
type JSONRequest struct {
	Bucket   string
	Key      string
	Upsert   bool
	FullSync bool
	Options  reconcile.Options
}

// ImportJSON imports the detailed vehicle feed. Without Upsert existing
// lots are left untouched.
func (r *Runner) ImportJSON(ctx context.Context, req JSONRequest) (Report, error) {
	report := Report{Command: CommandImportJSON}
	if r.objectErr != nil {
		return report, r.objectErr
	}
	opts := req.Options
	opts.Policy = reconcile.PolicyInsertOnly
	if req.Upsert {
		opts.Policy = reconcile.PolicyUpsert
	}

	err := r.locked(ctx, CommandImportJSON, "", opts.DryRun, &report, func(ctx context.Context) error {
		body, err := r.objects.Open(ctx, req.Bucket, req.Key)
		if err != nil {
			return err
		}
		defer body.Close()

		sum, err := r.engine.Import(ctx, reconcile.NewVehicleSource(body), opts)
		report.Import = sum
		if err != nil || !req.FullSync {
			return err
		}
		snap := sum.Snapshot()
		return r.syncActive(ctx, &snap, opts, &report)
	})
	return report, err
}

// ImportAuction upserts a local auction export.
func (r *Runner) ImportAuction(ctx context.Context, path string, opts reconcile.Options) (Report, error) {
	report := Report{Command: CommandImportAuction}
	f, err := os.Open(path)
	if err != nil {
		return report, err
	}
	defer f.Close()

	opts.Policy = reconcile.PolicyUpsert
	err = r.locked(ctx, CommandImportAuction, "", opts.DryRun, &report, func(ctx context.Context) error {
		sum, err := r.engine.Import(ctx, reconcile.NewAuctionSource(f), opts)
		report.Import = sum
		return err
	})
	return report, err
}

// locked runs fn under the command lock and, outside dry-run, wraps it in
// a run record.
func (r *Runner) locked(ctx context.Context, command, feedDate string, dryRun bool, report *Report, fn func(ctx context.Context) error) error {
	err := runlock.Run(ctx, r.locker, command, func(ctx context.Context) error {
		var run *domain.ImportRun
		if !dryRun && r.runs != nil {
			started, err := r.runs.Start(ctx, command, feedDate)
			if err != nil {
				return fmt.Errorf("start run record: %w", err)
			}
			run = started
			report.RunID = run.ID
		}

		err := fn(ctx)
		if run != nil {
			r.runs.Finish(ctx, run, report.Total().Outcome(report.Digest, err))
		}
		return err
	})
	if err == nil && !dryRun {
		r.ingest.MarkSuccess(command, r.clock.Now())
	}
	return err
}

func collectLots(ctx context.Context, src reconcile.LotSource, maxRows int) (reconcile.Snapshot, int64, error) {
	lots := reconcile.LotSet{}
	var read int64
	unreadable := false
	for {
		if maxRows > 0 && read >= int64(maxRows) {
			return reconcile.Snapshot{Lots: lots}, read, nil
		}
		lot, err := src.NextLot(ctx)
		if errors.Is(err, io.EOF) {
			return reconcile.Snapshot{Lots: lots, Complete: !unreadable}, read, nil
		}
		read++
		if errors.Is(err, reconcile.ErrSkipRow) {
			unreadable = true
			continue
		}
		if err != nil {
			return reconcile.Snapshot{Lots: lots}, read, err
		}
		if lot = strings.TrimSpace(lot); lot != "" {
			lots[lot] = struct{}{}
		}
	}
}
