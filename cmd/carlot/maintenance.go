package main

import (
	"context"
	"fmt"

	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/maintenance"
	"github.com/smallbiznis/carlot/internal/migration"
	"github.com/smallbiznis/carlot/internal/runlock"
	"github.com/urfave/cli/v3"
)

const (
	commandDedupe         = "dedupe"
	commandExpireAuctions = "expire-auctions"
	commandMigrate        = "migrate"
)

func dedupeCommand() *cli.Command {
	return &cli.Command{
		Name:  commandDedupe,
		Usage: "Delete duplicate cars, keeping the oldest row per lot",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "count duplicates without deleting"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dryRun := cmd.Bool("dry-run")
			return withRuntime(ctx, commandDedupe, dryRun, func(ctx context.Context, rt *runtime) error {
				return runlock.Run(ctx, rt.locker, commandDedupe, func(ctx context.Context) error {
					res, err := rt.maintenance().Dedupe(ctx, dryRun)
					if err != nil {
						return err
					}
					w := stdout(cmd)
					if res.Found == 0 {
						fmt.Fprintln(w, "No duplicates found.")
						return nil
					}
					if dryRun {
						fmt.Fprintf(w, "[DRY-RUN] Would delete %d duplicate cars.\n", res.Found)
						return nil
					}
					fmt.Fprintf(w, "Deleted %d duplicate cars.\n", res.Deleted)
					return nil
				})
			})
		},
	}
}

func expireAuctionsCommand() *cli.Command {
	return &cli.Command{
		Name:  commandExpireAuctions,
		Usage: "Delete available auction cars whose auction date has passed",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Usage: "only delete auctions that ended more than N days ago"},
			&cli.BoolFlag{Name: "dry-run", Usage: "count expired cars without deleting"},
			&cli.StringSliceFlag{Name: "schema", Usage: "postgres schema to process (repeatable)"},
			&cli.StringSliceFlag{Name: "protect", Usage: "table.column whose referenced cars are kept (repeatable)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			pipe, err := loadPipeline(cmd)
			if err != nil {
				return err
			}
			opts, err := expireOptions(cmd, pipe.Scheduler.ExpireAuctionDays, pipe.Scheduler.Protect, pipe.Scheduler.Schemas)
			if err != nil {
				return err
			}

			return withRuntime(ctx, commandExpireAuctions, opts.DryRun, func(ctx context.Context, rt *runtime) error {
				return runlock.Run(ctx, rt.locker, commandExpireAuctions, func(ctx context.Context) error {
					res, err := rt.maintenance().ExpireAuctions(ctx, opts)
					w := stdout(cmd)
					for _, sr := range res.Schemas {
						name := sr.Schema
						if name == "" {
							name = "default"
						}
						if sr.Err != nil {
							fmt.Fprintf(w, "%s: failed: %v\n", name, sr.Err)
							continue
						}
						fmt.Fprintf(w, "%s: found %d, deleted %d\n", name, sr.Found, sr.Deleted)
					}
					prefix := ""
					if res.DryRun {
						prefix = "[DRY-RUN] "
					}
					fmt.Fprintf(w, "%sExpired before %s: found %d, deleted %d\n",
						prefix, res.Cutoff.Format(dateLayout), res.Found, res.Deleted)
					return err
				})
			})
		},
	}
}

// expireOptions applies the flags over the pipeline.yml scheduler settings.
func expireOptions(cmd *cli.Command, days int, protect, schemas []string) (maintenance.ExpireOptions, error) {
	if cmd.IsSet("days") {
		days = int(cmd.Int("days"))
	}
	if cmd.IsSet("protect") {
		protect = splitFields(cmd.StringSlice("protect"))
	}
	if cmd.IsSet("schema") {
		schemas = splitFields(cmd.StringSlice("schema"))
	}
	refs := make([]domain.ProtectedRef, 0, len(protect))
	for _, raw := range protect {
		ref, err := maintenance.ParseProtectedRef(raw)
		if err != nil {
			return maintenance.ExpireOptions{}, err
		}
		refs = append(refs, ref)
	}
	return maintenance.ExpireOptions{
		Days:      days,
		DryRun:    cmd.Bool("dry-run"),
		Schemas:   schemas,
		Protected: refs,
	}, nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  commandMigrate,
		Usage: "Apply database migrations",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withRuntime(ctx, commandMigrate, false, func(ctx context.Context, rt *runtime) error {
				if err := migration.Apply(rt.db.WithContext(ctx)); err != nil {
					return fmt.Errorf("apply migrations: %w", err)
				}
				fmt.Fprintln(stdout(cmd), "Migrations applied.")
				return nil
			})
		},
	}
}
