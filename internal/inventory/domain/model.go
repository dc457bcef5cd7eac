package domain

import (
	"time"

	"gorm.io/datatypes"
)

type CarStatus string

const (
	CarStatusAvailable CarStatus = "available"
	CarStatusSold      CarStatus = "sold"
	CarStatusPending   CarStatus = "pending"
)

// CategoryAuction is the category name given to auction listings.
const CategoryAuction = "auction"

// Car is one purchasable vehicle listing keyed by the upstream lot number.
type Car struct {
	ID              int64          `json:"id" gorm:"primaryKey;autoIncrement"`
	CarID           string         `json:"car_id" gorm:"column:car_id;type:varchar(100)"`
	Title           string         `json:"title" gorm:"type:varchar(255);not null"`
	Slug            string         `json:"slug" gorm:"type:varchar(255);index"`
	Image           *string        `json:"image,omitempty" gorm:"type:varchar(1024)"`
	ManufacturerID  int64          `json:"manufacturer_id" gorm:"not null;index"`
	ModelID         int64          `json:"model_id" gorm:"not null"`
	BadgeID         int64          `json:"badge_id" gorm:"not null"`
	ColorID         int64          `json:"color_id" gorm:"not null"`
	SeatColorID     *int64         `json:"seat_color_id,omitempty"`
	BodyID          *int64         `json:"body_id,omitempty"`
	CategoryID      *int64         `json:"category_id,omitempty" gorm:"index"`
	AuctionDate     *time.Time     `json:"auction_date,omitempty"`
	AuctionName     *string        `json:"auction_name,omitempty" gorm:"type:varchar(100)"`
	VIN             string         `json:"vin" gorm:"column:vin;type:varchar(100)"`
	LotNumber       string         `json:"lot_number" gorm:"type:varchar(100);not null;index"`
	Year            int            `json:"year" gorm:"not null;default:0"`
	Transmission    *string        `json:"transmission,omitempty" gorm:"type:varchar(100)"`
	Engine          *string        `json:"engine,omitempty" gorm:"type:varchar(100)"`
	Power           int64          `json:"power" gorm:"not null;default:0"`
	Price           int64          `json:"price" gorm:"not null;default:0"`
	Mileage         int64          `json:"mileage" gorm:"not null;default:0"`
	DriveWheel      *string        `json:"drive_wheel,omitempty" gorm:"type:varchar(100)"`
	Fuel            *string        `json:"fuel,omitempty" gorm:"type:varchar(100)"`
	SeatCount       *string        `json:"seat_count,omitempty" gorm:"type:varchar(100)"`
	IsLeasing       bool           `json:"is_leasing" gorm:"not null;default:false"`
	ExtraFeatures   datatypes.JSON `json:"extra_features,omitempty"`
	Options         datatypes.JSON `json:"options,omitempty"`
	Images          datatypes.JSON `json:"images,omitempty"`
	Status          CarStatus      `json:"status" gorm:"type:varchar(20);not null;default:available;index"`
	Address         *string        `json:"address,omitempty" gorm:"type:varchar(255)"`
	PlateNumber     *string        `json:"plate_number,omitempty" gorm:"type:varchar(100)"`
	Points          *string        `json:"points,omitempty" gorm:"type:varchar(50)"`
	InspectionImage *string        `json:"inspection_image,omitempty" gorm:"type:text"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"not null"`
}

func (Car) TableName() string { return "api_cars" }

// OverwriteColumns are rewritten on every re-appearance of a lot. status,
// id and created_at are never part of it so a sale recorded elsewhere
// survives a stale feed.
var OverwriteColumns = []string{
	"car_id", "title", "slug", "image", "images",
	"manufacturer_id", "model_id", "badge_id", "color_id", "seat_color_id", "body_id", "category_id",
	"vin", "lot_number", "year", "transmission", "engine", "power", "price", "mileage",
	"drive_wheel", "seat_count", "fuel", "is_leasing", "extra_features", "options", "address",
	"auction_date", "auction_name", "plate_number", "points", "inspection_image", "updated_at",
}

type Manufacturer struct {
	ID      int64   `json:"id" gorm:"primaryKey;autoIncrement"`
	Name    string  `json:"name" gorm:"type:varchar(100);not null;index"`
	Country *string `json:"country,omitempty" gorm:"type:varchar(100)"`
}

func (Manufacturer) TableName() string { return "manufacturers" }

type CarModel struct {
	ID             int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name           string `json:"name" gorm:"type:varchar(100);not null;index"`
	ManufacturerID int64  `json:"manufacturer_id" gorm:"not null;index"`
}

func (CarModel) TableName() string { return "car_models" }

type CarBadge struct {
	ID      int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name    string `json:"name" gorm:"type:varchar(100);index"`
	ModelID int64  `json:"model_id" gorm:"not null;index"`
}

func (CarBadge) TableName() string { return "car_badges" }

type CarColor struct {
	ID   int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name string `json:"name" gorm:"type:varchar(100);index"`
}

func (CarColor) TableName() string { return "car_colors" }

type CarSeatColor struct {
	ID   int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name string `json:"name" gorm:"type:varchar(100);index"`
}

func (CarSeatColor) TableName() string { return "car_seat_colors" }

type BodyType struct {
	ID   int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name string `json:"name" gorm:"type:varchar(100);index"`
}

func (BodyType) TableName() string { return "body_types" }

type Category struct {
	ID   int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name string `json:"name" gorm:"type:varchar(100);index"`
}

func (Category) TableName() string { return "categories" }

// PriceAnomaly is a persisted finding of one detection run.
type PriceAnomaly struct {
	ID           int64     `json:"id" gorm:"primaryKey;autoIncrement:false"`
	CarID        int64     `json:"car_id" gorm:"not null;index"`
	LotNumber    string    `json:"lot_number" gorm:"type:varchar(100)"`
	Method       string    `json:"method" gorm:"type:varchar(50);not null;index"`
	AnomalyType  string    `json:"anomaly_type" gorm:"type:varchar(20);not null"`
	Severity     float64   `json:"severity" gorm:"not null"`
	Price        int64     `json:"price" gorm:"not null"`
	ExpectedLow  float64   `json:"expected_low"`
	ExpectedHigh float64   `json:"expected_high"`
	GroupKey     string    `json:"group_key" gorm:"type:varchar(255)"`
	Score        float64   `json:"score"`
	RunID        int64     `json:"run_id" gorm:"index"`
	DetectedAt   time.Time `json:"detected_at" gorm:"not null"`
}

func (PriceAnomaly) TableName() string { return "price_anomalies" }

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// ImportRun records one non-dry pipeline run.
type ImportRun struct {
	ID         int64      `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Command    string     `json:"command" gorm:"type:varchar(50);not null;index"`
	FeedDate   string     `json:"feed_date" gorm:"type:varchar(10)"`
	Status     RunStatus  `json:"status" gorm:"type:varchar(20);not null"`
	Created    int64      `json:"created"`
	Updated    int64      `json:"updated"`
	Deleted    int64      `json:"deleted"`
	Skipped    int64      `json:"skipped"`
	Failed     int64      `json:"failed"`
	RowsRead   int64      `json:"rows_read"`
	FeedDigest string     `json:"feed_digest" gorm:"type:varchar(128)"`
	Error      *string    `json:"error,omitempty" gorm:"type:text"`
	StartedAt  time.Time  `json:"started_at" gorm:"not null"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (ImportRun) TableName() string { return "import_runs" }

// Models lists every table owned by the pipeline, in creation order.
func Models() []any {
	return []any{
		&Manufacturer{},
		&CarModel{},
		&CarBadge{},
		&CarColor{},
		&CarSeatColor{},
		&BodyType{},
		&Category{},
		&Car{},
		&PriceAnomaly{},
		&ImportRun{},
	}
}
