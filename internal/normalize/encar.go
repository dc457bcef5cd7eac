package normalize

import (
	"strings"

	"github.com/smallbiznis/carlot/internal/feed"
	"github.com/smallbiznis/carlot/internal/inventory/domain"
)

// Profile carries the feed-specific conversions of a CSV feed.
type Profile struct {
	Name       string
	PriceScale int64
}

// EncarProfile is the profile of the dated pipe-delimited feed.
var EncarProfile = Profile{Name: "encar", PriceScale: EncarPriceScale}

// WithPriceScale returns p with its scale replaced when scale is positive.
func (p Profile) WithPriceScale(scale int64) Profile {
	if scale > 0 {
		p.PriceScale = scale
	}
	return p
}

// FromEncarRow maps one CSV row. Header names are matched lowercased.
func FromEncarRow(row feed.Row, p Profile) Record {
	manufacturer := NameOr(row.Get("mark"), UnknownName)
	model := NameOr(row.Get("model"), UnknownName)
	badge := NameOr(row.First("configuration", "complectation"), model)
	lot := row.First("inner_id", "id")
	year := int(ToInt(row.Get("year"), MaxInt32))

	rawImages := row.Get("images")
	images := ImageList(rawImages)

	title := strings.TrimSpace(row.Get("title"))
	if title == "" {
		title = Title(manufacturer, model, badge, year)
	}

	return Record{
		Lot:          lot,
		CarID:        lot,
		VIN:          lot,
		Title:        Clip(title, 255),
		Manufacturer: Clip(manufacturer, 100),
		Model:        Clip(model, 100),
		Badge:        Clip(badge, 100),
		Color:        Clip(NameOr(row.Get("color"), UnknownName), 100),
		SeatColor:    Clip(row.Get("seatcolor"), 100),
		Body:         Clip(row.Get("body_type"), 100),
		Year:         year,
		Mileage:      ToInt(row.Get("km_age"), MaxBigInt),
		Price:        ScalePrice(ToInt(row.Get("price"), MaxBigInt), p.PriceScale),
		Power:        ToInt(row.First("displacement", "dispacement"), MaxInt32),
		Transmission: Clip(NameOr(row.Get("transmission_type"), UnknownName), 100),
		Fuel:         Clip(row.Get("engine_type"), 100),
		DriveWheel:   Clip(row.Get("prep_drive_type"), 100),
		SeatCount:    Clip(row.Get("seatcount"), 100),
		Address:      Clip(row.Get("address"), 255),
		Image:        Clip(FirstImage(rawImages), 1024),
		Images:       images,
		Options:      ParseJSONOrList(row.Get("options")),
		Extra:        ParseJSONOrList(row.Get("extra")),
	}
}

// UnknownName fills a required name the feed left blank.
const UnknownName = domain.UnknownName
