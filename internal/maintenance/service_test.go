package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/carlot/internal/clock"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/inventory/inventorytest"
	"github.com/smallbiznis/carlot/internal/inventory/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, conn *gorm.DB) *Service {
	return NewService(Params{
		DB:    conn,
		Repo:  repository.Provide(),
		Log:   zaptest.NewLogger(t),
		Clock: clock.NewFakeClock(now),
	})
}

func lots(t *testing.T, conn *gorm.DB) []string {
	t.Helper()
	var out []string
	require.NoError(t, conn.Model(&domain.Car{}).Order("id").Pluck("lot_number", &out).Error)
	return out
}

func TestDedupeKeepsOldest(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	dims := inventorytest.SeedDims(t, conn, "Kia", "K5")
	first := inventorytest.InsertCar(t, conn, dims, "A", 2020, 100)
	inventorytest.InsertCar(t, conn, dims, "B", 2020, 100)
	inventorytest.InsertCar(t, conn, dims, "A", 2021, 200)
	inventorytest.InsertCar(t, conn, dims, "A", 2022, 300)
	svc := newService(t, conn)

	res, err := svc.Dedupe(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Found)
	assert.Zero(t, res.Deleted)
	assert.EqualValues(t, 4, inventorytest.CountCars(t, conn))

	res, err = svc.Dedupe(context.Background(), false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Deleted)
	assert.Equal(t, []string{"A", "B"}, lots(t, conn))

	var kept domain.Car
	require.NoError(t, conn.Where("lot_number = ?", "A").First(&kept).Error)
	assert.Equal(t, first.ID, kept.ID)

	res, err = svc.Dedupe(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, res.Found)
}

func seedAuction(t *testing.T, conn *gorm.DB, dims inventorytest.Dims, categoryID int64, lot string, date *time.Time, status domain.CarStatus) domain.Car {
	t.Helper()
	car := inventorytest.InsertCar(t, conn, dims, lot, 2019, 1000)
	require.NoError(t, conn.Model(&domain.Car{}).Where("id = ?", car.ID).Updates(map[string]any{
		"category_id":  categoryID,
		"auction_date": date,
		"status":       status,
	}).Error)
	return car
}

func TestExpireAuctions(t *testing.T) {
	conn := inventorytest.OpenDB(t)
	dims := inventorytest.SeedDims(t, conn, "Toyota", "Camry")
	auction := domain.Category{Name: domain.CategoryAuction}
	require.NoError(t, conn.Create(&auction).Error)
	retail := domain.Category{Name: "CAR"}
	require.NoError(t, conn.Create(&retail).Error)

	old := now.AddDate(0, 0, -10)
	recent := now.AddDate(0, 0, -2)
	future := now.AddDate(0, 0, 3)

	seedAuction(t, conn, dims, auction.ID, "OLD", &old, domain.CarStatusAvailable)
	seedAuction(t, conn, dims, auction.ID, "RECENT", &recent, domain.CarStatusAvailable)
	seedAuction(t, conn, dims, auction.ID, "FUTURE", &future, domain.CarStatusAvailable)
	seedAuction(t, conn, dims, auction.ID, "SOLD", &old, domain.CarStatusSold)
	seedAuction(t, conn, dims, auction.ID, "NODATE", nil, domain.CarStatusAvailable)
	seedAuction(t, conn, dims, retail.ID, "RETAIL", &old, domain.CarStatusAvailable)
	ordered := seedAuction(t, conn, dims, auction.ID, "ORDERED", &old, domain.CarStatusAvailable)

	require.NoError(t, conn.Exec("CREATE TABLE site_orders (id INTEGER PRIMARY KEY, car_id INTEGER)").Error)
	require.NoError(t, conn.Exec("INSERT INTO site_orders (car_id) VALUES (?)", ordered.ID).Error)
	protected := []domain.ProtectedRef{{Table: "site_orders", Column: "car_id"}}

	svc := newService(t, conn)
	ctx := context.Background()

	res, err := svc.ExpireAuctions(ctx, ExpireOptions{Days: 5, DryRun: true, Protected: protected})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Found)
	assert.Zero(t, res.Deleted)
	assert.True(t, now.AddDate(0, 0, -5).Equal(res.Cutoff))

	res, err = svc.ExpireAuctions(ctx, ExpireOptions{Protected: protected})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Found)
	assert.EqualValues(t, 2, res.Deleted)
	require.Len(t, res.Schemas, 1)
	assert.Equal(t, []string{"FUTURE", "SOLD", "NODATE", "RETAIL", "ORDERED"}, lots(t, conn))
}

func TestExpireAuctionsRejectsBadInput(t *testing.T) {
	svc := newService(t, inventorytest.OpenDB(t))

	_, err := svc.ExpireAuctions(context.Background(), ExpireOptions{Days: -1})
	assert.Error(t, err)
}

func TestParseProtectedRef(t *testing.T) {
	ref, err := ParseProtectedRef(" site_orders.car_id ")
	require.NoError(t, err)
	assert.Equal(t, domain.ProtectedRef{Table: "site_orders", Column: "car_id"}, ref)

	_, err = ParseProtectedRef("site_orders")
	assert.Error(t, err)
	_, err = ParseProtectedRef(".car_id")
	assert.Error(t, err)
}
