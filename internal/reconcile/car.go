package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/carlot/internal/dimension"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
	"github.com/smallbiznis/carlot/internal/normalize"
	"gorm.io/datatypes"
)

func namesOf(rec normalize.Record) dimension.Names {
	return dimension.Names{
		Manufacturer: rec.Manufacturer,
		Model:        rec.Model,
		Badge:        rec.Badge,
		Color:        rec.Color,
		SeatColor:    rec.SeatColor,
		Body:         rec.Body,
		Category:     rec.Category,
	}
}

// buildCar maps a record and its resolved lookups onto a row. Status is
// only set here; updates never write it.
func buildCar(rec normalize.Record, refs dimension.Refs, now time.Time) (*domain.Car, error) {
	images, err := jsonColumn(rec.Images)
	if err != nil {
		return nil, fmt.Errorf("images: %w", err)
	}
	options, err := jsonColumn(rec.Options)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}
	extra, err := jsonColumn(rec.Extra)
	if err != nil {
		return nil, fmt.Errorf("extra: %w", err)
	}

	lot := strings.TrimSpace(rec.Lot)
	carID := strings.TrimSpace(rec.CarID)
	if carID == "" {
		carID = lot
	}

	return &domain.Car{
		CarID:           carID,
		Title:           rec.Title,
		Slug:            normalize.Slug(rec.Year, rec.Manufacturer, rec.Model, lot),
		Image:           optional(rec.Image),
		ManufacturerID:  refs.ManufacturerID,
		ModelID:         refs.ModelID,
		BadgeID:         refs.BadgeID,
		ColorID:         refs.ColorID,
		SeatColorID:     optionalID(refs.SeatColorID),
		BodyID:          optionalID(refs.BodyID),
		CategoryID:      optionalID(refs.CategoryID),
		AuctionDate:     rec.AuctionDate,
		AuctionName:     optional(rec.AuctionName),
		VIN:             rec.VIN,
		LotNumber:       lot,
		Year:            rec.Year,
		Transmission:    optional(rec.Transmission),
		Engine:          optional(rec.Engine),
		Power:           rec.Power,
		Price:           rec.Price,
		Mileage:         rec.Mileage,
		DriveWheel:      optional(rec.DriveWheel),
		Fuel:            optional(rec.Fuel),
		SeatCount:       optional(rec.SeatCount),
		IsLeasing:       rec.IsLeasing,
		ExtraFeatures:   extra,
		Options:         options,
		Images:          images,
		Status:          domain.CarStatusAvailable,
		Address:         optional(rec.Address),
		PlateNumber:     optional(rec.PlateNumber),
		Points:          optional(rec.Points),
		InspectionImage: optional(rec.InspectionImage),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func jsonColumn(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	if list, ok := v.([]string); ok && list == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
