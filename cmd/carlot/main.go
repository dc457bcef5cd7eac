package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/smallbiznis/carlot/internal/feed"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:  "carlot",
		Usage: "Car inventory feed import and maintenance",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pipeline-config", Usage: "path to pipeline.yml", Sources: cli.EnvVars("CARLOT_PIPELINE_CONFIG")},
		},
		Commands: []*cli.Command{
			importCommand(),
			removeMissingCommand(),
			importJSONCommand(),
			importAuctionCommand(),
			detectAnomaliesCommand(),
			dedupeCommand(),
			expireAuctionsCommand(),
			migrateCommand(),
		},
	}
}

// exitCode separates configuration problems from failed runs so cron
// wrappers can tell them apart.
func exitCode(err error) int {
	switch {
	case errors.Is(err, feed.ErrMissingHost), errors.Is(err, feed.ErrMissingCredentials):
		return 2
	default:
		return 1
	}
}

func stdout(cmd *cli.Command) io.Writer {
	if cmd.Writer != nil {
		return cmd.Writer
	}
	return os.Stdout
}
