// Package inventorytest provides an in-memory inventory store for tests.
package inventorytest

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// OpenDB returns a migrated, isolated SQLite database.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, conn.AutoMigrate(domain.Models()...))
	return conn
}

// Dims holds the ids of a seeded manufacturer/model/badge/color chain.
type Dims struct {
	ManufacturerID int64
	ModelID        int64
	BadgeID        int64
	ColorID        int64
}

// SeedDims inserts one dimension chain.
func SeedDims(t testing.TB, conn *gorm.DB, manufacturer, model string) Dims {
	t.Helper()
	m := domain.Manufacturer{Name: manufacturer}
	require.NoError(t, conn.Create(&m).Error)
	cm := domain.CarModel{Name: model, ManufacturerID: m.ID}
	require.NoError(t, conn.Create(&cm).Error)
	b := domain.CarBadge{Name: model, ModelID: cm.ID}
	require.NoError(t, conn.Create(&b).Error)
	c := domain.CarColor{Name: "White"}
	require.NoError(t, conn.Create(&c).Error)
	return Dims{ManufacturerID: m.ID, ModelID: cm.ID, BadgeID: b.ID, ColorID: c.ID}
}

// InsertCar stores a minimal available car for lot with the given price and year.
func InsertCar(t testing.TB, conn *gorm.DB, dims Dims, lot string, year int, price int64) domain.Car {
	t.Helper()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	car := domain.Car{
		CarID:          lot,
		Title:          "seed " + lot,
		ManufacturerID: dims.ManufacturerID,
		ModelID:        dims.ModelID,
		BadgeID:        dims.BadgeID,
		ColorID:        dims.ColorID,
		VIN:            lot,
		LotNumber:      lot,
		Year:           year,
		Price:          price,
		Status:         domain.CarStatusAvailable,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, conn.Create(&car).Error)
	return car
}

// CountCars returns the number of rows in api_cars.
func CountCars(t testing.TB, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&domain.Car{}).Count(&n).Error)
	return n
}
