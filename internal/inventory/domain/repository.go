package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// LotRef pairs a car id with its lot number.
type LotRef struct {
	ID        int64  `gorm:"column:id"`
	LotNumber string `gorm:"column:lot_number"`
}

// PriceSample is the flattened view of a car the anomaly detector scores.
type PriceSample struct {
	CarID        int64  `json:"car_id" gorm:"column:car_id"`
	LotNumber    string `json:"lot_number" gorm:"column:lot_number"`
	VIN          string `json:"vin" gorm:"column:vin"`
	Manufacturer string `json:"manufacturer" gorm:"column:manufacturer"`
	Model        string `json:"model" gorm:"column:model"`
	Badge        string `json:"badge" gorm:"column:badge"`
	Fuel         string `json:"fuel" gorm:"column:fuel"`
	Body         string `json:"body" gorm:"column:body"`
	Year         int    `json:"year" gorm:"column:year"`
	Price        int64  `json:"price" gorm:"column:price"`
	Mileage      int64  `json:"mileage" gorm:"column:mileage"`
}

type SampleFilter struct {
	Manufacturer string
	Category     string
	MinYear      int
}

type AnomalyFilter struct {
	Method      string
	MinSeverity float64
	Limit       int
}

// ProtectedRef names a table column whose values are car ids that must not be deleted.
type ProtectedRef struct {
	Table  string
	Column string
}

type Repository interface {
	ExistingIDs(ctx context.Context, db *gorm.DB, lots []string) (map[string]int64, error)
	InsertCars(ctx context.Context, db *gorm.DB, cars []*Car, batchSize int) (int64, error)
	UpdateCars(ctx context.Context, db *gorm.DB, cars []*Car) (int64, error)
	CountByLots(ctx context.Context, db *gorm.DB, lots []string) (int64, error)
	DeleteByLots(ctx context.Context, db *gorm.DB, lots []string) (int64, error)
	ScanLotRefs(ctx context.Context, db *gorm.DB, batchSize int, fn func([]LotRef) error) error
	DeleteByIDs(ctx context.Context, db *gorm.DB, ids []int64) (int64, error)
	DuplicateIDs(ctx context.Context, db *gorm.DB) ([]int64, error)
	ExpiredAuctionIDs(ctx context.Context, db *gorm.DB, cutoff time.Time, protected []ProtectedRef) ([]int64, error)

	FindDimension(ctx context.Context, db *gorm.DB, kind DimensionKind, name string, parentID int64) (int64, error)
	InsertDimension(ctx context.Context, db *gorm.DB, kind DimensionKind, name string, parentID int64) error

	ListPriceSamples(ctx context.Context, db *gorm.DB, filter SampleFilter) ([]PriceSample, error)
	SaveAnomalies(ctx context.Context, db *gorm.DB, methods []string, overwrite bool, rows []PriceAnomaly) error
	ListAnomalies(ctx context.Context, db *gorm.DB, filter AnomalyFilter) ([]PriceAnomaly, error)

	CreateRun(ctx context.Context, db *gorm.DB, run *ImportRun) error
	FinishRun(ctx context.Context, db *gorm.DB, run *ImportRun) error
	ListRuns(ctx context.Context, db *gorm.DB, limit int) ([]ImportRun, error)
}

// RunOutcome carries the counts written back to a finished run record.
type RunOutcome struct {
	Created    int64
	Updated    int64
	Deleted    int64
	Skipped    int64
	Failed     int64
	RowsRead   int64
	FeedDigest string
	Err        error
}
