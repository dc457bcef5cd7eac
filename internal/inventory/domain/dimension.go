package domain

import "fmt"

// DimensionKind names a lookup table referenced by cars.
type DimensionKind string

const (
	KindManufacturer DimensionKind = "manufacturer"
	KindModel        DimensionKind = "model"
	KindBadge        DimensionKind = "badge"
	KindColor        DimensionKind = "color"
	KindSeatColor    DimensionKind = "seat_color"
	KindBody         DimensionKind = "body"
	KindCategory     DimensionKind = "category"
)

// UnknownName is stored when the feed leaves a required name blank.
const UnknownName = "Unknown"

// DimensionSpec describes where a kind lives and how new rows are filled.
type DimensionSpec struct {
	Table        string
	ParentColumn string
	Defaults     map[string]any
}

var dimensionSpecs = map[DimensionKind]DimensionSpec{
	KindManufacturer: {Table: "manufacturers", Defaults: map[string]any{"country": UnknownName}},
	KindModel:        {Table: "car_models", ParentColumn: "manufacturer_id"},
	KindBadge:        {Table: "car_badges", ParentColumn: "model_id"},
	KindColor:        {Table: "car_colors"},
	KindSeatColor:    {Table: "car_seat_colors"},
	KindBody:         {Table: "body_types"},
	KindCategory:     {Table: "categories"},
}

// SpecFor returns the storage spec of kind.
func SpecFor(kind DimensionKind) (DimensionSpec, error) {
	spec, ok := dimensionSpecs[kind]
	if !ok {
		return DimensionSpec{}, fmt.Errorf("unknown dimension kind %q", kind)
	}
	return spec, nil
}
