package normalize

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/smallbiznis/carlot/internal/inventory/domain"
)

// AuctionDoc is one element of an auction export.
type AuctionDoc struct {
	CarIdentifire   Text            `json:"car_identifire"`
	CarIDs          Text            `json:"car_ids"`
	MakeEN          Text            `json:"make_en"`
	Make            Text            `json:"make"`
	ModelsEN        Text            `json:"models_en"`
	Models          Text            `json:"models"`
	ColorEN         Text            `json:"color_en"`
	Color           Text            `json:"color"`
	Shape           Text            `json:"shape"`
	Title           Text            `json:"title"`
	Year            Text            `json:"year"`
	Price           Text            `json:"price"`
	Mileage         Text            `json:"mileage"`
	Power           Text            `json:"power"`
	FuelEN          Text            `json:"fuel_en"`
	Fuel            Text            `json:"fuel"`
	Mission         Text            `json:"mission"`
	AuctionName     Text            `json:"auction_name"`
	AuctionDate     Text            `json:"auction_date"`
	Image           Text            `json:"image"`
	Images          json.RawMessage `json:"images"`
	InspectionImage Text            `json:"inspection_image"`
	Points          Text            `json:"points"`
	Score           Text            `json:"score"`
	Region          Text            `json:"region"`
}

// Lot is the auction car identifier, used as both lot and car id.
func (d AuctionDoc) Lot() string {
	return NameOr(string(d.CarIdentifire), string(d.CarIDs))
}

// DecodeAuction parses one raw array element.
func DecodeAuction(raw json.RawMessage) (AuctionDoc, error) {
	var doc AuctionDoc
	err := json.Unmarshal(raw, &doc)
	return doc, err
}

var auctionDateLayouts = []string{
	"02/01/2006 03:04 PM",
	"02/01/2006",
	"2006-01-02",
}

// ParseAuctionDate accepts the layouts seen in auction exports. Day comes
// before month in the slash forms.
func ParseAuctionDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range auctionDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// FromAuction maps an auction car. Auctions carry no trim, so the model
// name doubles as the badge.
func FromAuction(d AuctionDoc) Record {
	manufacturer := NameOr(NameOr(string(d.MakeEN), string(d.Make)), UnknownName)
	model := NameOr(NameOr(string(d.ModelsEN), string(d.Models)), UnknownName)

	title := strings.TrimSpace(string(d.Title))
	if title == "" {
		title = manufacturer + " " + model
	}

	var images any
	if len(d.Images) > 0 {
		_ = json.Unmarshal(d.Images, &images)
	}
	list := ImageList(images)
	if list == nil {
		list = []string{}
	}

	lot := d.Lot()
	return Record{
		Lot:             lot,
		CarID:           lot,
		VIN:             Clip(lot, 100),
		Title:           Clip(title, 100),
		Manufacturer:    Clip(manufacturer, 100),
		Model:           Clip(model, 100),
		Badge:           Clip(model, 100),
		Color:           Clip(NameOr(NameOr(string(d.ColorEN), string(d.Color)), UnknownName), 100),
		Body:            Clip(string(d.Shape), 100),
		Category:        CategoryAuction,
		Year:            int(d.Year.Int(MaxInt32)),
		Price:           d.Price.Int(MaxBigInt),
		Mileage:         d.Mileage.Int(MaxBigInt),
		Power:           d.Power.Int(MaxInt32),
		Fuel:            Clip(NameOr(string(d.FuelEN), string(d.Fuel)), 100),
		Transmission:    Clip(string(d.Mission), 100),
		AuctionName:     Clip(string(d.AuctionName), 100),
		AuctionDate:     ParseAuctionDate(string(d.AuctionDate)),
		Image:           Clip(string(d.Image), 255),
		Images:          list,
		InspectionImage: string(d.InspectionImage),
		Points:          Clip(NameOr(string(d.Points), string(d.Score)), 50),
		Address:         Clip(string(d.Region), 255),
	}
}

// CategoryAuction is the category every auction car is filed under.
const CategoryAuction = domain.CategoryAuction
