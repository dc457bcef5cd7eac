package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/smallbiznis/carlot/internal/config"
	"github.com/smallbiznis/carlot/internal/feed"
	"github.com/smallbiznis/carlot/internal/normalize"
	"github.com/smallbiznis/carlot/internal/pipeline"
	"github.com/smallbiznis/carlot/internal/reconcile"
	"github.com/urfave/cli/v3"
)

func importCommand() *cli.Command {
	return &cli.Command{
		Name:  pipeline.CommandImport,
		Usage: "Import the active snapshot of a date and remove cars per the deletion policy",
		Flags: joinFlags(feedFlags(), batchFlags(), []cli.Flag{
			&cli.BoolFlag{Name: "skip-removed", Usage: "skip the removal pass"},
			&cli.StringFlag{Name: "policy", Usage: "upsert or insert-only (default from pipeline.yml)"},
			&cli.StringFlag{Name: "deletion-policy", Usage: "removed-feed or full-sync", Sources: cli.EnvVars("DELETION_POLICY")},
			&cli.IntFlag{Name: "price-scale", Value: int(normalize.EncarPriceScale), Usage: "multiplier applied to feed prices"},
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			pipe, err := loadPipeline(cmd)
			if err != nil {
				return err
			}
			opts := reconcileOptions(cmd, pipe)
			if raw := cmd.String("policy"); raw != "" {
				if opts.Policy, err = reconcile.ParsePolicy(raw); err != nil {
					return err
				}
			}
			if cmd.Int("price-scale") <= 0 {
				return fmt.Errorf("price scale must be positive")
			}
			profile := normalize.EncarProfile.WithPriceScale(int64(cmd.Int("price-scale")))

			feedCfg, err := feedSettings(cmd)
			if err != nil {
				return err
			}

			return withRuntime(ctx, pipeline.CommandImport, opts.DryRun, func(ctx context.Context, rt *runtime) error {
				date, err := feedDate(cmd, rt.clock.Now())
				if err != nil {
					return err
				}
				feeds, err := feed.NewClient(feedCfg, rt.log, rt.metrics)
				if err != nil {
					return err
				}
				policy := rt.cfg.DeletionPolicy
				if raw := cmd.String("deletion-policy"); raw != "" {
					policy = config.NormalizeDeletionPolicy(raw)
				}

				report, err := rt.runner(feeds).Daily(ctx, pipeline.DailyRequest{
					Date:           date,
					Options:        opts,
					DeletionPolicy: policy,
					Profile:        profile,
					SkipRemoved:    cmd.Bool("skip-removed"),
				})
				return emitReport(cmd, report, opts.DryRun, err)
			})
		},
	}
}

func removeMissingCommand() *cli.Command {
	return &cli.Command{
		Name:  pipeline.CommandRemoveMissing,
		Usage: "Delete every car absent from the active snapshot of a date",
		Flags: joinFlags(feedFlags(), batchFlags()),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			pipe, err := loadPipeline(cmd)
			if err != nil {
				return err
			}
			opts := reconcileOptions(cmd, pipe)

			feedCfg, err := feedSettings(cmd)
			if err != nil {
				return err
			}

			return withRuntime(ctx, pipeline.CommandRemoveMissing, opts.DryRun, func(ctx context.Context, rt *runtime) error {
				date, err := feedDate(cmd, rt.clock.Now())
				if err != nil {
					return err
				}
				feeds, err := feed.NewClient(feedCfg, rt.log, rt.metrics)
				if err != nil {
					return err
				}
				report, err := rt.runner(feeds).RemoveMissing(ctx, date, opts)
				return emitReport(cmd, report, opts.DryRun, err)
			})
		},
	}
}

func importJSONCommand() *cli.Command {
	return &cli.Command{
		Name:  pipeline.CommandImportJSON,
		Usage: "Import the detailed vehicle JSON feed from the object store",
		Flags: joinFlags(batchFlags(), []cli.Flag{
			&cli.StringFlag{Name: "bucket", Usage: "object store bucket", Sources: cli.EnvVars("OBJECT_STORE_BUCKET")},
			&cli.StringFlag{Name: "key", Usage: "object key", Sources: cli.EnvVars("OBJECT_STORE_KEY")},
			&cli.BoolFlag{Name: "upsert", Usage: "update existing lots instead of leaving them untouched"},
			&cli.BoolFlag{Name: "full-sync", Usage: "delete cars absent from the feed afterwards"},
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			pipe, err := loadPipeline(cmd)
			if err != nil {
				return err
			}
			opts := reconcileOptions(cmd, pipe)

			return withRuntime(ctx, pipeline.CommandImportJSON, opts.DryRun, func(ctx context.Context, rt *runtime) error {
				bucket := firstNonEmpty(cmd.String("bucket"), rt.cfg.ObjectStore.Bucket)
				key := firstNonEmpty(cmd.String("key"), rt.cfg.ObjectStore.Key)
				if bucket == "" || key == "" {
					return fmt.Errorf("bucket and key are required")
				}
				report, err := rt.runner(nil).ImportJSON(ctx, pipeline.JSONRequest{
					Bucket:   bucket,
					Key:      key,
					Upsert:   cmd.Bool("upsert"),
					FullSync: cmd.Bool("full-sync"),
					Options:  opts,
				})
				return emitReport(cmd, report, opts.DryRun, err)
			})
		},
	}
}

func importAuctionCommand() *cli.Command {
	return &cli.Command{
		Name:      pipeline.CommandImportAuction,
		Usage:     "Upsert a local auction JSON export",
		ArgsUsage: "FILE",
		Flags:     batchFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := strings.TrimSpace(cmd.Args().First())
			if path == "" {
				return fmt.Errorf("auction file is required")
			}
			pipe, err := loadPipeline(cmd)
			if err != nil {
				return err
			}
			opts := reconcileOptions(cmd, pipe)

			return withRuntime(ctx, pipeline.CommandImportAuction, opts.DryRun, func(ctx context.Context, rt *runtime) error {
				report, err := rt.runner(nil).ImportAuction(ctx, path, opts)
				return emitReport(cmd, report, opts.DryRun, err)
			})
		},
	}
}

// feedSettings resolves the feed flags and rejects a missing host or
// credentials before any database, lock or network connection is opened.
func feedSettings(cmd *cli.Command) (feed.Config, error) {
	cfg, err := feedClientConfig(cmd, config.Load().Feed)
	if err != nil {
		return feed.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return feed.Config{}, err
	}
	return cfg, nil
}

// emitReport prints the report whatever the outcome, so committed chunks
// of a failed run still show up, and passes err through.
func emitReport(cmd *cli.Command, report pipeline.Report, dryRun bool, err error) error {
	printReport(stdout(cmd), report, dryRun)
	return err
}

// printReport writes the operator summary: warnings, the secondary
// counters and the final Created/Updated/Deleted line.
func printReport(w io.Writer, report pipeline.Report, dryRun bool) {
	for _, warning := range report.Warnings {
		fmt.Fprintln(w, "warning:", warning)
	}
	total := report.Total()
	fmt.Fprintln(w, total.Detail())
	fmt.Fprintln(w, total.Line(dryRun))
}
