package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/carlot/internal/feed"
	"github.com/smallbiznis/carlot/internal/pipeline"
	"github.com/smallbiznis/carlot/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"
)

func clearFeedEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENCAR_HOST", "ENCAR_AUTObASE_HOST",
		"ENCAR_USER", "ENCAR_AUTObASE_USER",
		"ENCAR_PASS", "ENCAR_AUTObASE_PASS",
	} {
		t.Setenv(key, "")
	}
}

func TestFeedSettingsRejectsMissingCredentials(t *testing.T) {
	clearFeedEnv(t)

	err := parse(t, feedFlags(), []string{"--host", "https://feed.example"}, func(cmd *cli.Command) error {
		_, err := feedSettings(cmd)
		return err
	})
	require.ErrorIs(t, err, feed.ErrMissingCredentials)

	err = parse(t, feedFlags(), []string{"--host", "https://feed.example/", "--username", "u", "--password", "p"}, func(cmd *cli.Command) error {
		cfg, err := feedSettings(cmd)
		require.NoError(t, err)
		assert.Equal(t, "https://feed.example", cfg.Host)
		return nil
	})
	require.NoError(t, err)
}

func TestImportMissingCredentialsExitsBeforeConnecting(t *testing.T) {
	clearFeedEnv(t)
	// Nothing listens here; reaching the database would fail with a
	// connection error instead of the credentials error.
	t.Setenv("DATABASE_TYPE", "postgres")
	t.Setenv("DATABASE_HOST", "127.0.0.1")
	t.Setenv("DATABASE_PORT", "1")
	t.Setenv("REDIS_ADDR", "127.0.0.1:1")

	for _, command := range []string{pipeline.CommandImport, pipeline.CommandRemoveMissing} {
		err := rootCommand().Run(context.Background(), []string{"carlot", command, "--host", "https://feed.example", "--date", "2025-06-01"})
		require.ErrorIs(t, err, feed.ErrMissingCredentials, command)
		assert.Equal(t, 2, exitCode(err), command)
	}
}

func TestEmitReportPrintsSummaryOnFailure(t *testing.T) {
	var out bytes.Buffer
	cmd := &cli.Command{Writer: &out}
	report := pipeline.Report{
		Import:   reconcile.Summary{Created: 4, Failed: 2, RowsRead: 6, Batches: 3},
		Warnings: []string{"no removed snapshot for 2025-06-01"},
	}
	failure := errors.New("active feed: connection reset")

	err := emitReport(cmd, report, false, failure)
	require.ErrorIs(t, err, failure)
	assert.Contains(t, out.String(), "warning: no removed snapshot for 2025-06-01")
	assert.Contains(t, out.String(), "Failed: 2")
	assert.Contains(t, out.String(), "Created: 4, Updated: 0, Deleted: 0\n")
}
