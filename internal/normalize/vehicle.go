package normalize

import (
	"encoding/json"
	"strings"
)

// VehicleDoc is one element of the detailed JSON vehicle feed.
type VehicleDoc struct {
	VehicleID Text `json:"vehicleId"`
	VehicleNo Text `json:"vehicleNo"`
	VIN       Text `json:"vin"`
	SeatColor Text `json:"seat_color"`

	Category struct {
		Type                    Text `json:"type"`
		ManufacturerName        Text `json:"manufacturerName"`
		ManufacturerEnglishName Text `json:"manufacturerEnglishName"`
		ModelName               Text `json:"modelName"`
		ModelGroupEnglishName   Text `json:"modelGroupEnglishName"`
		GradeEnglishName        Text `json:"gradeEnglishName"`
		FormYear                Text `json:"formYear"`
		OriginPrice             Text `json:"originPrice"`
	} `json:"category"`

	Spec struct {
		ColorName        Text `json:"colorName"`
		BodyName         Text `json:"bodyName"`
		Mileage          Text `json:"mileage"`
		TransmissionName Text `json:"transmissionName"`
		FuelName         Text `json:"fuelName"`
		Displacement     Text `json:"displacement"`
		SeatCount        Text `json:"seatCount"`
	} `json:"spec"`

	Contact struct {
		Address Text `json:"address"`
	} `json:"contact"`

	Photos  json.RawMessage `json:"photos"`
	Options struct {
		Standard json.RawMessage `json:"standard"`
	} `json:"options"`
}

// Lot is the vehicle identifier as stored in lot_number.
func (d VehicleDoc) Lot() string { return strings.TrimSpace(string(d.VehicleID)) }

// DecodeVehicle parses one raw array element.
func DecodeVehicle(raw json.RawMessage) (VehicleDoc, error) {
	var doc VehicleDoc
	err := json.Unmarshal(raw, &doc)
	return doc, err
}

// FromVehicle maps a JSON feed vehicle. Trucks carry Korean names only,
// everything else uses the English catalogue names.
func FromVehicle(d VehicleDoc) Record {
	cat := d.Category
	var manufacturer, model string
	if strings.EqualFold(string(cat.Type), "TRUCK") {
		manufacturer = NameOr(string(cat.ManufacturerName), UnknownName)
		model = NameOr(string(cat.ModelName), UnknownName)
	} else {
		manufacturer = NameOr(string(cat.ManufacturerEnglishName), UnknownName)
		model = NameOr(string(cat.ModelGroupEnglishName), UnknownName)
	}
	badge := NameOr(string(cat.GradeEnglishName), UnknownName)
	year := int(cat.FormYear.Int(MaxInt32))

	var photos any
	if len(d.Photos) > 0 {
		_ = json.Unmarshal(d.Photos, &photos)
	}
	var options any
	if len(d.Options.Standard) > 0 {
		_ = json.Unmarshal(d.Options.Standard, &options)
	}
	if options == nil {
		options = []any{}
	}

	lot := d.Lot()
	return Record{
		Lot:          lot,
		CarID:        lot,
		VIN:          Clip(string(d.VIN), 100),
		Title:        Clip(Title(manufacturer, model, badge, year), 255),
		Manufacturer: Clip(manufacturer, 100),
		Model:        Clip(model, 100),
		Badge:        Clip(badge, 100),
		Color:        Clip(NameOr(string(d.Spec.ColorName), UnknownName), 100),
		SeatColor:    Clip(NameOr(string(d.SeatColor), UnknownName), 100),
		Body:         Clip(NameOr(string(d.Spec.BodyName), UnknownName), 100),
		Category:     Clip(NameOr(string(cat.Type), UnknownName), 100),
		Year:         year,
		Mileage:      d.Spec.Mileage.Int(MaxBigInt),
		Price:        cat.OriginPrice.Int(MaxBigInt),
		Power:        d.Spec.Displacement.Int(MaxInt32),
		Transmission: Clip(string(d.Spec.TransmissionName), 100),
		Fuel:         Clip(string(d.Spec.FuelName), 100),
		SeatCount:    Clip(string(d.Spec.SeatCount), 100),
		Address:      Clip(string(d.Contact.Address), 255),
		PlateNumber:  Clip(string(d.VehicleNo), 100),
		Image:        Clip(FirstImage(photos), 1024),
		Images:       ImageList(photos),
		Options:      options,
	}
}
