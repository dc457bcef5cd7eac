package main

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/carlot/internal/anomaly"
	"github.com/smallbiznis/carlot/internal/config"
	"github.com/smallbiznis/carlot/internal/feed"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

// parse runs a throwaway command with flags and hands the parsed command
// to inspect. Flags keep state after a run, so callers pass fresh ones.
func parse(t *testing.T, flags []cli.Flag, args []string, inspect func(cmd *cli.Command) error) error {
	t.Helper()
	cmd := &cli.Command{
		Name:   "test",
		Flags:  flags,
		Action: func(_ context.Context, cmd *cli.Command) error { return inspect(cmd) },
	}
	return cmd.Run(context.Background(), append([]string{"test"}, args...))
}

func TestParseDelimiter(t *testing.T) {
	cases := []struct {
		in   string
		want rune
	}{
		{"", '|'},
		{"|", '|'},
		{",", ','},
		{"tab", '\t'},
		{`\t`, '\t'},
		{";", ';'},
	}
	for _, tc := range cases {
		got, err := parseDelimiter(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"||", "\n", `"`} {
		_, err := parseDelimiter(bad)
		assert.Error(t, err, bad)
	}
}

func TestFeedDate(t *testing.T) {
	now := time.Date(2025, 6, 1, 23, 30, 0, 0, time.FixedZone("KST", 9*3600))

	err := parse(t, feedFlags(), nil, func(cmd *cli.Command) error {
		date, err := feedDate(cmd, now)
		require.NoError(t, err)
		assert.Equal(t, "2025-06-01", date)
		return nil
	})
	require.NoError(t, err)

	err = parse(t, feedFlags(), []string{"--date", "2025-05-30"}, func(cmd *cli.Command) error {
		date, err := feedDate(cmd, now)
		require.NoError(t, err)
		assert.Equal(t, "2025-05-30", date)
		return nil
	})
	require.NoError(t, err)

	err = parse(t, feedFlags(), []string{"--date", "30/05/2025"}, func(cmd *cli.Command) error {
		_, err := feedDate(cmd, now)
		return err
	})
	assert.ErrorIs(t, err, feed.ErrInvalidDate)
}

func TestFeedClientConfigPrefersFlags(t *testing.T) {
	base := config.FeedConfig{Host: "https://env.example/", Username: "env-user", Password: "env-pass"}
	err := parse(t, feedFlags(), []string{"--host", "https://flag.example/", "--password", "secret", "--delimiter", ","}, func(cmd *cli.Command) error {
		cfg, err := feedClientConfig(cmd, base)
		require.NoError(t, err)
		assert.Equal(t, "https://flag.example", cfg.Host)
		assert.Equal(t, "env-user", cfg.Username)
		assert.Equal(t, "secret", cfg.Password)
		assert.Equal(t, ',', cfg.Comma)
		return nil
	})
	require.NoError(t, err)
}

func TestReconcileOptionsLayersFlagsOverPipeline(t *testing.T) {
	pipe := config.DefaultPipelineConfig()
	pipe.Import.ChunkSize = 250
	pipe.Import.Policy = "insert-only"

	err := parse(t, batchFlags(), []string{"--dry-run", "--create-batch-size", "40", "--max-rows", "10", "--schema", " tenant_a "}, func(cmd *cli.Command) error {
		opts := reconcileOptions(cmd, pipe)
		assert.Equal(t, 250, opts.ChunkSize)
		assert.Equal(t, 40, opts.CreateBatchSize)
		assert.Equal(t, pipe.Import.UpdateBatchSize, opts.UpdateBatchSize)
		assert.Equal(t, 10, opts.MaxRows)
		assert.Equal(t, reconcile.PolicyInsertOnly, opts.Policy)
		assert.True(t, opts.DryRun)
		assert.Equal(t, "tenant_a", opts.Schema)
		assert.Nil(t, opts.OnProgress)
		return nil
	})
	require.NoError(t, err)
}

func TestReconcileOptionsProgress(t *testing.T) {
	err := parse(t, batchFlags(), []string{"--progress", "--progress-every", "5"}, func(cmd *cli.Command) error {
		opts := reconcileOptions(cmd, config.DefaultPipelineConfig())
		assert.True(t, opts.Progress)
		assert.Equal(t, 5, opts.ProgressEvery)
		assert.NotNil(t, opts.OnProgress)
		return nil
	})
	require.NoError(t, err)
}

func TestAnomalyOptions(t *testing.T) {
	flags := func() []cli.Flag { return detectAnomaliesCommand().Flags }
	err := parse(t, flags(), []string{
		"--method", "ZScore", "--group-by", "manufacturer,model", "--group-by", "fuel",
		"--threshold", "2.5", "--manufacturer", "Kia", "--min-year", "2018", "--limit", "20",
	}, func(cmd *cli.Command) error {
		opts, err := anomalyOptions(cmd, config.DefaultPipelineConfig().Anomaly)
		require.NoError(t, err)
		assert.Equal(t, "zscore", opts.Method)
		assert.Equal(t, []string{"manufacturer", "model", "fuel"}, opts.Params.GroupBy)
		assert.Equal(t, 2.5, opts.Params.Threshold)
		assert.Equal(t, 5, opts.Params.MinGroupSize)
		assert.Equal(t, 1.5, opts.Params.K)
		assert.Equal(t, 1.0, opts.SeverityFilter)
		assert.Equal(t, domain.SampleFilter{Manufacturer: "Kia", MinYear: 2018}, opts.Filter)
		assert.Equal(t, 20, opts.Limit)
		return nil
	})
	require.NoError(t, err)
}

func TestAnomalyOptionsRejectsUnknownInput(t *testing.T) {
	flags := func() []cli.Flag { return detectAnomaliesCommand().Flags }
	err := parse(t, flags(), []string{"--method", "magic"}, func(cmd *cli.Command) error {
		_, err := anomalyOptions(cmd, config.DefaultPipelineConfig().Anomaly)
		return err
	})
	assert.ErrorIs(t, err, anomaly.ErrUnknownMethod)

	err = parse(t, flags(), []string{"--group-by", "colour"}, func(cmd *cli.Command) error {
		_, err := anomalyOptions(cmd, config.DefaultPipelineConfig().Anomaly)
		return err
	})
	assert.Error(t, err)
}

func TestAnomalyOptionsSummary(t *testing.T) {
	flags := func() []cli.Flag { return detectAnomaliesCommand().Flags }
	err := parse(t, flags(), []string{"--method", "summary"}, func(cmd *cli.Command) error {
		opts, err := anomalyOptions(cmd, config.DefaultPipelineConfig().Anomaly)
		require.NoError(t, err)
		assert.Equal(t, anomaly.MethodSummary, opts.Method)
		return nil
	})
	require.NoError(t, err)
}

func TestOutputFormat(t *testing.T) {
	flags := func() []cli.Flag { return detectAnomaliesCommand().Flags }
	cases := []struct {
		args []string
		want string
	}{
		{nil, anomaly.FormatTable},
		{[]string{"--output", "report.xlsx"}, anomaly.FormatXLSX},
		{[]string{"--output", "report.PDF"}, anomaly.FormatPDF},
		{[]string{"--output", "report.txt"}, anomaly.FormatTable},
		{[]string{"--output-format", "json", "--output", "report.csv"}, anomaly.FormatJSON},
	}
	for _, tc := range cases {
		err := parse(t, flags(), tc.args, func(cmd *cli.Command) error {
			got, err := outputFormat(cmd)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got, tc.args)
			return nil
		})
		require.NoError(t, err)
	}

	err := parse(t, flags(), []string{"--output-format", "html"}, func(cmd *cli.Command) error {
		_, err := outputFormat(cmd)
		return err
	})
	assert.ErrorIs(t, err, anomaly.ErrUnknownFormat)
}

func TestExpireOptions(t *testing.T) {
	flags := func() []cli.Flag { return expireAuctionsCommand().Flags }
	err := parse(t, flags(), []string{"--days", "7", "--protect", "orders.car_id", "--schema", "tenant_a", "--schema", "tenant_b"}, func(cmd *cli.Command) error {
		opts, err := expireOptions(cmd, 1, []string{"ignored.car_id"}, nil)
		require.NoError(t, err)
		assert.Equal(t, 7, opts.Days)
		assert.Equal(t, []string{"tenant_a", "tenant_b"}, opts.Schemas)
		assert.Equal(t, []domain.ProtectedRef{{Table: "orders", Column: "car_id"}}, opts.Protected)
		assert.False(t, opts.DryRun)
		return nil
	})
	require.NoError(t, err)

	err = parse(t, flags(), []string{"--dry-run"}, func(cmd *cli.Command) error {
		opts, err := expireOptions(cmd, 2, []string{"favorites.car_id"}, []string{"public"})
		require.NoError(t, err)
		assert.Equal(t, 2, opts.Days)
		assert.Equal(t, []string{"public"}, opts.Schemas)
		assert.Len(t, opts.Protected, 1)
		assert.True(t, opts.DryRun)
		return nil
	})
	require.NoError(t, err)

	err = parse(t, flags(), []string{"--protect", "orders"}, func(cmd *cli.Command) error {
		_, err := expireOptions(cmd, 0, nil, nil)
		return err
	})
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(feed.ErrMissingCredentials))
	assert.Equal(t, 2, exitCode(feed.ErrMissingHost))
	assert.Equal(t, 1, exitCode(feed.ErrDownload))
}
