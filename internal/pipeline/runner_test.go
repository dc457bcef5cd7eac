package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carlot/internal/clock"
	"github.com/smallbiznis/carlot/internal/config"
	"github.com/smallbiznis/carlot/internal/feed"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/inventory/inventorytest"
	"github.com/smallbiznis/carlot/internal/inventory/repository"
	"github.com/smallbiznis/carlot/internal/inventory/service"
	"github.com/smallbiznis/carlot/internal/reconcile"
	"github.com/smallbiznis/carlot/internal/runlock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const (
	testDate   = "2025-06-01"
	activeFeed = "inner_id|mark|model|year|price\nA1|Hyundai|Sonata|2021|2500\nA2|Kia|K5|2022|3100\n"
)

type fakeFeeds struct {
	bodies map[feed.Kind]string
	errs   map[feed.Kind]error
	opened []feed.Kind
}

func (f *fakeFeeds) Open(_ context.Context, _ string, kind feed.Kind) (*feed.Stream, error) {
	f.opened = append(f.opened, kind)
	if err := f.errs[kind]; err != nil {
		return nil, err
	}
	body, ok := f.bodies[kind]
	if !ok {
		return nil, feed.ErrNoData
	}
	return feed.NewStream(io.NopCloser(strings.NewReader(body)), feed.StreamOptions{}), nil
}

type fakeObjects struct{ body string }

func (f fakeObjects) Open(context.Context, string, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.body)), nil
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string) (runlock.ReleaseFunc, error) {
	return nil, runlock.ErrLocked
}

func newRunner(t *testing.T, conn *gorm.DB, feeds FeedOpener, objects ObjectOpener, locker runlock.Locker) *Runner {
	t.Helper()
	log := zaptest.NewLogger(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC))
	repo := repository.Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewRunner(Params{
		Engine:  reconcile.NewEngine(reconcile.Params{DB: conn, Repo: repo, Log: log, Clock: clk}),
		Runs:    service.NewRunService(service.Params{DB: conn, Log: log, GenID: node, Repo: repo, Clock: clk}),
		Locker:  locker,
		Log:     log,
		Clock:   clk,
		Feeds:   feeds,
		Objects: objects,
	})
}

func seedOld(t *testing.T, conn *gorm.DB) {
	t.Helper()
	dims := inventorytest.SeedDims(t, conn, "Genesis", "G80")
	inventorytest.InsertCar(t, conn, dims, "OLD1", 2019, 30_000_000)
	inventorytest.InsertCar(t, conn, dims, "OLD2", 2019, 31_000_000)
}

func latestRun(t *testing.T, conn *gorm.DB) domain.ImportRun {
	t.Helper()
	runs, err := repository.Provide().ListRuns(context.Background(), conn, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return runs[0]
}

func TestDailyRemovedFeedPolicy(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	seedOld(t, conn)
	feeds := &fakeFeeds{bodies: map[feed.Kind]string{
		feed.KindActive:  activeFeed,
		feed.KindRemoved: "inner_id\nOLD1\nMISSING\n",
	}}

	report, err := newRunner(t, conn, feeds, nil, nil).Daily(context.Background(), DailyRequest{Date: testDate})
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.Import.Created)
	assert.Equal(t, int64(1), report.Removal.Deleted)
	assert.Equal(t, "Created: 2, Updated: 0, Deleted: 1", report.Total().Line(false))
	assert.Equal(t, int64(3), inventorytest.CountCars(t, conn))
	assert.Equal(t, []feed.Kind{feed.KindActive, feed.KindRemoved}, feeds.opened)

	run := latestRun(t, conn)
	assert.Equal(t, report.RunID, run.ID)
	assert.Equal(t, CommandImport, run.Command)
	assert.Equal(t, testDate, run.FeedDate)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	assert.Equal(t, int64(2), run.Created)
	assert.Equal(t, int64(1), run.Deleted)
	assert.NotEmpty(t, run.FeedDigest)
}

func TestDailyWithoutRemovedSnapshotWarns(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	seedOld(t, conn)
	feeds := &fakeFeeds{bodies: map[feed.Kind]string{feed.KindActive: activeFeed}}

	report, err := newRunner(t, conn, feeds, nil, nil).Daily(context.Background(), DailyRequest{Date: testDate})
	require.NoError(t, err)
	assert.Len(t, report.Warnings, 1)
	assert.Equal(t, int64(4), inventorytest.CountCars(t, conn))
}

func TestDailyFullSyncPolicy(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	seedOld(t, conn)
	feeds := &fakeFeeds{bodies: map[feed.Kind]string{feed.KindActive: activeFeed}}

	report, err := newRunner(t, conn, feeds, nil, nil).Daily(context.Background(), DailyRequest{
		Date:           testDate,
		DeletionPolicy: config.DeletionPolicyFullSync,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Removal.Deleted)
	assert.Equal(t, int64(2), inventorytest.CountCars(t, conn))
	assert.Equal(t, []feed.Kind{feed.KindActive}, feeds.opened)
}

func TestDailySkipRemoved(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	seedOld(t, conn)
	feeds := &fakeFeeds{bodies: map[feed.Kind]string{
		feed.KindActive:  activeFeed,
		feed.KindRemoved: "inner_id\nOLD1\n",
	}}

	report, err := newRunner(t, conn, feeds, nil, nil).Daily(context.Background(), DailyRequest{
		Date:        testDate,
		SkipRemoved: true,
	})
	require.NoError(t, err)
	assert.Zero(t, report.Removal.Deleted)
	assert.Equal(t, int64(4), inventorytest.CountCars(t, conn))
	assert.Equal(t, []feed.Kind{feed.KindActive}, feeds.opened)
}

func TestDailyMissingActiveStillRemoves(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	seedOld(t, conn)
	feeds := &fakeFeeds{bodies: map[feed.Kind]string{feed.KindRemoved: "inner_id\nOLD1\n"}}

	report, err := newRunner(t, conn, feeds, nil, nil).Daily(context.Background(), DailyRequest{Date: testDate})
	require.NoError(t, err)
	assert.Equal(t, []feed.Kind{feed.KindActive, feed.KindRemoved}, feeds.opened)
	assert.Equal(t, int64(1), report.Removal.Deleted)
	assert.Equal(t, []string{"no active snapshot for 2025-06-01, nothing imported"}, report.Warnings)
	assert.Equal(t, int64(1), inventorytest.CountCars(t, conn))
	assert.Equal(t, domain.RunStatusSucceeded, latestRun(t, conn).Status)
}

func TestDailyNoFeedsIsNotAFailure(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	feeds := &fakeFeeds{bodies: map[feed.Kind]string{}}

	report, err := newRunner(t, conn, feeds, nil, nil).Daily(context.Background(), DailyRequest{Date: testDate})
	require.NoError(t, err)
	assert.Len(t, report.Warnings, 2)
	assert.Equal(t, domain.RunStatusSucceeded, latestRun(t, conn).Status)
}

func TestDailyFailedActiveDownloadStillRemoves(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	seedOld(t, conn)
	feeds := &fakeFeeds{
		bodies: map[feed.Kind]string{feed.KindRemoved: "inner_id\nOLD1\n"},
		errs:   map[feed.Kind]error{feed.KindActive: fmt.Errorf("%w: status 503", feed.ErrDownload)},
	}

	report, err := newRunner(t, conn, feeds, nil, nil).Daily(context.Background(), DailyRequest{Date: testDate})
	require.ErrorIs(t, err, feed.ErrDownload)
	assert.Equal(t, int64(1), report.Removal.Deleted)
	assert.Equal(t, int64(1), inventorytest.CountCars(t, conn))

	run := latestRun(t, conn)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Equal(t, int64(1), run.Deleted)
}

func TestDailyJoinsFailuresOfBothFeeds(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	seedOld(t, conn)
	reset := errors.New("connection reset")
	feeds := &fakeFeeds{
		bodies: map[feed.Kind]string{feed.KindActive: activeFeed},
		errs:   map[feed.Kind]error{feed.KindRemoved: reset},
	}
	feeds.errs[feed.KindActive] = fmt.Errorf("%w: status 502", feed.ErrDownload)

	_, err := newRunner(t, conn, feeds, nil, nil).Daily(context.Background(), DailyRequest{Date: testDate})
	require.ErrorIs(t, err, feed.ErrDownload)
	require.ErrorIs(t, err, reset)
	assert.Contains(t, err.Error(), "active feed")
	assert.Contains(t, err.Error(), "removed feed")
	assert.Equal(t, int64(2), inventorytest.CountCars(t, conn))
}

func TestDailyFullSyncSkipsOnMalformedRow(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	seedOld(t, conn)
	body := "inner_id|mark|model|year|price\nA1|Hyundai|Sonata|2021|2500\nA2|Kia\n"
	feeds := &fakeFeeds{bodies: map[feed.Kind]string{feed.KindActive: body}}

	report, err := newRunner(t, conn, feeds, nil, nil).Daily(context.Background(), DailyRequest{
		Date:           testDate,
		DeletionPolicy: config.DeletionPolicyFullSync,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Import.Created)
	assert.Zero(t, report.Removal.Deleted)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "full sync skipped")
	assert.Equal(t, int64(3), inventorytest.CountCars(t, conn))
}

func TestDailyDryRunSkipsRunRecord(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	feeds := &fakeFeeds{bodies: map[feed.Kind]string{feed.KindActive: activeFeed}}

	report, err := newRunner(t, conn, feeds, nil, nil).Daily(context.Background(), DailyRequest{
		Date:    testDate,
		Options: reconcile.Options{DryRun: true},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.Import.Created)
	assert.Zero(t, report.RunID)
	assert.Equal(t, int64(0), inventorytest.CountCars(t, conn))

	runs, err := repository.Provide().ListRuns(context.Background(), conn, 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestDailyHeldLockStopsBeforeDownload(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	feeds := &fakeFeeds{bodies: map[feed.Kind]string{feed.KindActive: activeFeed}}

	_, err := newRunner(t, conn, feeds, nil, heldLocker{}).Daily(context.Background(), DailyRequest{Date: testDate})
	require.ErrorIs(t, err, runlock.ErrLocked)
	assert.Empty(t, feeds.opened)
}

func TestDailyWithoutFeedConfig(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	r := NewRunner(Params{Log: zaptest.NewLogger(t), Engine: reconcile.NewEngine(reconcile.Params{DB: conn, Repo: repository.Provide()})})

	_, err := r.Daily(context.Background(), DailyRequest{Date: testDate})
	assert.ErrorIs(t, err, feed.ErrMissingHost)

	_, err = r.ImportJSON(context.Background(), JSONRequest{})
	assert.Error(t, err)
}

func TestRemoveMissing(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	seedOld(t, conn)
	feeds := &fakeFeeds{bodies: map[feed.Kind]string{feed.KindActive: "inner_id|mark\nOLD2|Genesis\nNEW|Kia\n"}}
	r := newRunner(t, conn, feeds, nil, nil)

	report, err := r.RemoveMissing(context.Background(), testDate, reconcile.Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Removal.Deleted)
	assert.Equal(t, int64(2), report.Import.RowsRead)
	assert.Equal(t, int64(2), inventorytest.CountCars(t, conn))

	report, err = r.RemoveMissing(context.Background(), testDate, reconcile.Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Removal.Deleted)
	assert.Equal(t, int64(1), inventorytest.CountCars(t, conn))
}

func TestRemoveMissingRefusesTruncatedSnapshot(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	seedOld(t, conn)
	feeds := &fakeFeeds{bodies: map[feed.Kind]string{feed.KindActive: "inner_id\nOLD2\nNEW\n"}}

	_, err := newRunner(t, conn, feeds, nil, nil).RemoveMissing(context.Background(), testDate, reconcile.Options{MaxRows: 1})
	require.ErrorIs(t, err, reconcile.ErrIncompleteSnapshot)
	assert.Equal(t, int64(2), inventorytest.CountCars(t, conn))
}

func TestImportJSONInsertOnlyByDefault(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	seedOld(t, conn)
	body := `[
		{"vehicleId": "OLD1", "category": {"manufacturerEnglishName": "Genesis", "modelGroupEnglishName": "G80", "formYear": "2019", "originPrice": 1}},
		{"vehicleId": "V2", "category": {"manufacturerEnglishName": "Kia", "modelGroupEnglishName": "K5", "formYear": "2022", "originPrice": 28000000}},
		{"vehicleId": "V2", "category": {"manufacturerEnglishName": "Kia", "modelGroupEnglishName": "K5", "formYear": "2022", "originPrice": 1}}
	]`
	r := newRunner(t, conn, nil, fakeObjects{body: body}, nil)

	report, err := r.ImportJSON(context.Background(), JSONRequest{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Import.Created)
	assert.Equal(t, int64(0), report.Import.Updated)
	assert.Equal(t, int64(1), report.Import.Duplicates)

	var old domain.Car
	require.NoError(t, conn.Where("lot_number = ?", "OLD1").First(&old).Error)
	assert.Equal(t, int64(30_000_000), old.Price)

	var v2 domain.Car
	require.NoError(t, conn.Where("lot_number = ?", "V2").First(&v2).Error)
	assert.Equal(t, int64(28_000_000), v2.Price)
}

func TestImportJSONFullSync(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	seedOld(t, conn)
	body := `[{"vehicleId": "OLD1", "category": {"manufacturerEnglishName": "Genesis", "modelGroupEnglishName": "G80"}}]`

	report, err := newRunner(t, conn, nil, fakeObjects{body: body}, nil).ImportJSON(context.Background(), JSONRequest{Upsert: true, FullSync: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Import.Updated)
	assert.Equal(t, int64(1), report.Removal.Deleted)
	assert.Equal(t, int64(1), inventorytest.CountCars(t, conn))
}

func TestImportAuction(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	path := filepath.Join(t.TempDir(), "auction.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"car_ids": "AU-1", "make": "Toyota", "models_en": "Camry", "year": 2019, "price": "15000000", "auction_date": "2024-03-05"},
		{"car_ids": "", "make": "Toyota"}
	]`), 0o600))
	r := newRunner(t, conn, nil, nil, nil)

	report, err := r.ImportAuction(context.Background(), path, reconcile.Options{Policy: reconcile.PolicyInsertOnly})
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Import.Created)
	assert.Equal(t, int64(1), report.Import.SkippedEmpty)
	assert.Equal(t, CommandImportAuction, latestRun(t, conn).Command)

	_, err = r.ImportAuction(context.Background(), filepath.Join(t.TempDir(), "missing.json"), reconcile.Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
