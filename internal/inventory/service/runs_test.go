package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carlot/internal/clock"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/inventory/inventorytest"
	"github.com/smallbiznis/carlot/internal/inventory/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunServiceLifecycle(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 5, 1, 3, 0, 0, 0, time.UTC))

	svc := NewRunService(Params{DB: conn, Log: zap.NewNop(), GenID: node, Repo: repository.Provide(), Clock: fake})
	ctx := context.Background()

	ok, err := svc.Start(ctx, "import", "2025-05-01")
	require.NoError(t, err)
	fake.Advance(10 * time.Minute)
	svc.Finish(ctx, ok, domain.RunOutcome{Created: 3, Updated: 2, RowsRead: 5, FeedDigest: "abc"})

	failed, err := svc.Start(ctx, "remove-missing", "2025-05-01")
	require.NoError(t, err)
	fake.Advance(time.Minute)
	svc.Finish(ctx, failed, domain.RunOutcome{Err: errors.New("download failed")})

	runs, err := svc.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byCommand := map[string]domain.ImportRun{}
	for _, r := range runs {
		byCommand[r.Command] = r
	}
	assert.Equal(t, domain.RunStatusSucceeded, byCommand["import"].Status)
	assert.EqualValues(t, 3, byCommand["import"].Created)
	assert.Equal(t, "abc", byCommand["import"].FeedDigest)
	assert.Equal(t, domain.RunStatusFailed, byCommand["remove-missing"].Status)
	require.NotNil(t, byCommand["remove-missing"].Error)
	assert.Equal(t, "download failed", *byCommand["remove-missing"].Error)
}
