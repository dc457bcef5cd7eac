package main

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/smallbiznis/carlot/internal/config"
	"github.com/smallbiznis/carlot/internal/feed"
	"github.com/smallbiznis/carlot/internal/pipeline"
	"github.com/smallbiznis/carlot/internal/reconcile"
	"github.com/urfave/cli/v3"
)

const dateLayout = "2006-01-02"

func feedFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "date", Usage: "feed date YYYY-MM-DD (default: today UTC)"},
		&cli.StringFlag{Name: "host", Usage: "feed host", Sources: cli.EnvVars("ENCAR_HOST", "ENCAR_AUTObASE_HOST")},
		&cli.StringFlag{Name: "username", Usage: "feed basic auth user", Sources: cli.EnvVars("ENCAR_USER", "ENCAR_AUTObASE_USER")},
		&cli.StringFlag{Name: "password", Usage: "feed basic auth password", Sources: cli.EnvVars("ENCAR_PASS", "ENCAR_AUTObASE_PASS")},
		&cli.StringFlag{Name: "delimiter", Value: "|", Usage: "CSV field delimiter (single character or \"tab\")"},
	}
}

// batchFlags are shared by every command that writes inventory rows.
func batchFlags() []cli.Flag {
	d := config.DefaultPipelineConfig().Import
	return []cli.Flag{
		&cli.BoolFlag{Name: "dry-run", Usage: "count what would change without writing"},
		&cli.BoolFlag{Name: "progress", Usage: "print progress while importing"},
		&cli.IntFlag{Name: "progress-every", Value: d.ProgressEvery, Usage: "rows between progress reports"},
		&cli.IntFlag{Name: "max-rows", Usage: "stop after N rows (0 reads everything)"},
		&cli.IntFlag{Name: "max-warnings", Value: d.MaxWarnings, Usage: "row warnings logged before going quiet"},
		&cli.IntFlag{Name: "chunk-size", Value: d.ChunkSize, Usage: "rows per reconcile chunk"},
		&cli.IntFlag{Name: "create-batch-size", Value: d.CreateBatchSize, Usage: "rows per insert statement"},
		&cli.IntFlag{Name: "update-batch-size", Value: d.UpdateBatchSize, Usage: "rows per update batch"},
		&cli.IntFlag{Name: "delete-batch-size", Value: d.DeleteBatchSize, Usage: "lots per delete statement"},
		&cli.StringFlag{Name: "schema", Usage: "postgres schema to write into"},
	}
}

func joinFlags(sets ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

// loadPipeline reads pipeline.yml from --pipeline-config or the default
// search paths.
func loadPipeline(cmd *cli.Command) (config.PipelineConfig, error) {
	holder, err := config.NewPipelineConfigHolder(cmd.String("pipeline-config"))
	if err != nil {
		return config.PipelineConfig{}, fmt.Errorf("load pipeline config: %w", err)
	}
	return holder.Get(), nil
}

// reconcileOptions starts from the pipeline.yml defaults and applies every
// flag the operator set explicitly.
func reconcileOptions(cmd *cli.Command, pipe config.PipelineConfig) reconcile.Options {
	opts := reconcile.OptionsFromPipeline(pipe.Import)
	setInt := func(name string, dst *int) {
		if cmd.IsSet(name) || *dst <= 0 {
			*dst = int(cmd.Int(name))
		}
	}
	setInt("chunk-size", &opts.ChunkSize)
	setInt("create-batch-size", &opts.CreateBatchSize)
	setInt("update-batch-size", &opts.UpdateBatchSize)
	setInt("delete-batch-size", &opts.DeleteBatchSize)
	setInt("progress-every", &opts.ProgressEvery)
	setInt("max-warnings", &opts.MaxWarnings)

	opts.MaxRows = int(cmd.Int("max-rows"))
	opts.DryRun = cmd.Bool("dry-run")
	opts.Schema = strings.TrimSpace(cmd.String("schema"))
	opts.Progress = cmd.Bool("progress")
	if opts.Progress {
		dryRun := opts.DryRun
		opts.OnProgress = func(s reconcile.Summary) {
			fmt.Fprintf(os.Stderr, "rows %d: %s\n", s.RowsRead, s.Line(dryRun))
		}
	}
	return opts
}

// feedDate returns --date or today in UTC, validated as YYYY-MM-DD.
func feedDate(cmd *cli.Command, now time.Time) (string, error) {
	raw := strings.TrimSpace(cmd.String("date"))
	if raw == "" {
		return now.UTC().Format(dateLayout), nil
	}
	if _, err := time.Parse(dateLayout, raw); err != nil {
		return "", fmt.Errorf("%w: %q", feed.ErrInvalidDate, raw)
	}
	return raw, nil
}

// parseDelimiter accepts a single character, "tab" or a literal \t.
func parseDelimiter(raw string) (rune, error) {
	switch strings.ToLower(raw) {
	case "", "|":
		return '|', nil
	case "tab", `\t`:
		return '\t', nil
	}
	if utf8.RuneCountInString(raw) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", raw)
	}
	r, _ := utf8.DecodeRuneInString(raw)
	switch r {
	case '\r', '\n', '"', utf8.RuneError:
		return 0, fmt.Errorf("delimiter %q is not allowed", raw)
	}
	return r, nil
}

// feedClientConfig merges the deployment feed settings with the flags.
// Flags win; the env fallbacks are already folded in by the flag sources.
func feedClientConfig(cmd *cli.Command, base config.FeedConfig) (feed.Config, error) {
	comma, err := parseDelimiter(cmd.String("delimiter"))
	if err != nil {
		return feed.Config{}, err
	}
	cfg := config.FeedConfig{
		Host:     firstNonEmpty(cmd.String("host"), base.Host),
		Username: firstNonEmpty(cmd.String("username"), base.Username),
		Password: firstNonEmpty(cmd.String("password"), base.Password),
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	out := pipeline.FeedConfig(cfg)
	out.Comma = comma
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
