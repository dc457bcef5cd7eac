package repository

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/inventory/inventorytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestExistingIDsPicksLowestID(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	dims := inventorytest.SeedDims(t, conn, "Hyundai", "Sonata")
	first := inventorytest.InsertCar(t, conn, dims, "L1", 2020, 100)
	inventorytest.InsertCar(t, conn, dims, "L1", 2020, 200)
	other := inventorytest.InsertCar(t, conn, dims, "L2", 2021, 300)

	got, err := Provide().ExistingIDs(context.Background(), conn, []string{"L1", "L2", "L3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"L1": first.ID, "L2": other.ID}, got)
}

func TestUpdateCarsKeepsStatus(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	dims := inventorytest.SeedDims(t, conn, "Kia", "K5")
	car := inventorytest.InsertCar(t, conn, dims, "L1", 2020, 100)
	require.NoError(t, conn.Model(&domain.Car{}).Where("id = ?", car.ID).Update("status", domain.CarStatusSold).Error)

	update := car
	update.Price = 999
	update.Title = "fresh"
	update.Status = domain.CarStatusAvailable
	n, err := Provide().UpdateCars(context.Background(), conn, []*domain.Car{&update})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var stored domain.Car
	require.NoError(t, conn.First(&stored, car.ID).Error)
	assert.Equal(t, int64(999), stored.Price)
	assert.Equal(t, "fresh", stored.Title)
	assert.Equal(t, domain.CarStatusSold, stored.Status)
}

func TestInsertAndDeleteByLots(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	dims := inventorytest.SeedDims(t, conn, "Kia", "Morning")
	r := Provide()
	ctx := context.Background()

	now := time.Now().UTC()
	cars := []*domain.Car{
		{LotNumber: "A", CarID: "A", Title: "a", ManufacturerID: dims.ManufacturerID, ModelID: dims.ModelID, BadgeID: dims.BadgeID, ColorID: dims.ColorID, Status: domain.CarStatusAvailable, CreatedAt: now, UpdatedAt: now},
		{LotNumber: "B", CarID: "B", Title: "b", ManufacturerID: dims.ManufacturerID, ModelID: dims.ModelID, BadgeID: dims.BadgeID, ColorID: dims.ColorID, Status: domain.CarStatusAvailable, CreatedAt: now, UpdatedAt: now},
	}
	created, err := r.InsertCars(ctx, conn, cars, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, created)

	count, err := r.CountByLots(ctx, conn, []string{"A", "Z"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	deleted, err := r.DeleteByLots(ctx, conn, []string{"A", "Z"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
	assert.EqualValues(t, 1, inventorytest.CountCars(t, conn))
}

func TestScanLotRefsPages(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	dims := inventorytest.SeedDims(t, conn, "Kia", "Ray")
	for _, lot := range []string{"1", "2", "3", "4", "5"} {
		inventorytest.InsertCar(t, conn, dims, lot, 2019, 10)
	}

	var pages [][]domain.LotRef
	err := Provide().ScanLotRefs(context.Background(), conn, 2, func(refs []domain.LotRef) error {
		pages = append(pages, refs)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Len(t, pages[2], 1)
	assert.Equal(t, "5", pages[2][0].LotNumber)
}

func TestDuplicateIDs(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	dims := inventorytest.SeedDims(t, conn, "BMW", "520d")
	inventorytest.InsertCar(t, conn, dims, "D", 2018, 10)
	dup1 := inventorytest.InsertCar(t, conn, dims, "D", 2018, 11)
	dup2 := inventorytest.InsertCar(t, conn, dims, "D", 2018, 12)
	inventorytest.InsertCar(t, conn, dims, "U", 2018, 13)

	ids, err := Provide().DuplicateIDs(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, []int64{dup1.ID, dup2.ID}, ids)
}

type testOrder struct {
	ID    int64 `gorm:"primaryKey"`
	CarID int64
}

func (testOrder) TableName() string { return "orders" }

func TestExpiredAuctionIDsSkipsProtected(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	require.NoError(t, conn.AutoMigrate(&testOrder{}))
	dims := inventorytest.SeedDims(t, conn, "Audi", "A6")
	auction := domain.Category{Name: domain.CategoryAuction}
	require.NoError(t, conn.Create(&auction).Error)

	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	mk := func(lot string, at time.Time, status domain.CarStatus) domain.Car {
		car := inventorytest.InsertCar(t, conn, dims, lot, 2020, 10)
		require.NoError(t, conn.Model(&domain.Car{}).Where("id = ?", car.ID).Updates(map[string]any{
			"category_id":  auction.ID,
			"auction_date": at,
			"status":       status,
		}).Error)
		return car
	}
	expired := mk("E1", old, domain.CarStatusAvailable)
	ordered := mk("E2", old, domain.CarStatusAvailable)
	mk("E3", old, domain.CarStatusSold)
	mk("E4", recent, domain.CarStatusAvailable)
	require.NoError(t, conn.Create(&testOrder{CarID: ordered.ID}).Error)

	cutoff := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	ids, err := Provide().ExpiredAuctionIDs(context.Background(), conn, cutoff, []domain.ProtectedRef{{Table: "orders", Column: "car_id"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{expired.ID}, ids)

	_, err = Provide().ExpiredAuctionIDs(context.Background(), conn, cutoff, []domain.ProtectedRef{{Table: "orders;drop", Column: "car_id"}})
	assert.Error(t, err)
}

func TestDimensionOldestWins(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	r := Provide()
	ctx := context.Background()

	require.NoError(t, r.InsertDimension(ctx, conn, domain.KindManufacturer, "Toyota", 0))
	require.NoError(t, r.InsertDimension(ctx, conn, domain.KindManufacturer, "Toyota", 0))

	var rows []domain.Manufacturer
	require.NoError(t, conn.Order("id").Find(&rows).Error)
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].Country)
	assert.Equal(t, domain.UnknownName, *rows[0].Country)

	id, err := r.FindDimension(ctx, conn, domain.KindManufacturer, "Toyota", 0)
	require.NoError(t, err)
	assert.Equal(t, rows[0].ID, id)

	// Names match exactly; a differently cased name is a different row.
	id, err = r.FindDimension(ctx, conn, domain.KindManufacturer, "toyota", 0)
	require.NoError(t, err)
	assert.Zero(t, id)

	require.NoError(t, r.InsertDimension(ctx, conn, domain.KindModel, "Camry", rows[0].ID))
	id, err = r.FindDimension(ctx, conn, domain.KindModel, "Camry", rows[1].ID)
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = r.FindDimension(ctx, conn, domain.DimensionKind("trim"), "x", 0)
	assert.Error(t, err)
}

func TestAnomaliesAndRuns(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	r := Provide()
	ctx := context.Background()
	now := time.Now().UTC()

	rows := []domain.PriceAnomaly{
		{ID: 1, CarID: 10, Method: "iqr", AnomalyType: "too_high", Severity: 4, DetectedAt: now},
		{ID: 2, CarID: 11, Method: "iqr", AnomalyType: "too_low", Severity: 1.2, DetectedAt: now},
	}
	require.NoError(t, r.SaveAnomalies(ctx, conn, []string{"iqr"}, true, rows))
	require.NoError(t, r.SaveAnomalies(ctx, conn, []string{"iqr"}, true, rows[:1]))

	items, err := r.ListAnomalies(ctx, conn, domain.AnomalyFilter{Method: "iqr"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(10), items[0].CarID)

	run := &domain.ImportRun{ID: 7, Command: "import", Status: domain.RunStatusRunning, StartedAt: now}
	require.NoError(t, r.CreateRun(ctx, conn, run))
	run.Status = domain.RunStatusSucceeded
	run.Created = 3
	finished := now.Add(time.Minute)
	run.FinishedAt = &finished
	require.NoError(t, r.FinishRun(ctx, conn, run))
	require.ErrorIs(t, r.FinishRun(ctx, conn, &domain.ImportRun{}), gorm.ErrInvalidData)

	runs, err := r.ListRuns(ctx, conn, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunStatusSucceeded, runs[0].Status)
	assert.EqualValues(t, 3, runs[0].Created)
}
