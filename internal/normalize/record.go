package normalize

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Record is the canonical shape every feed is normalized into before
// dimension resolution.
type Record struct {
	Lot   string
	CarID string
	VIN   string
	Title string

	Manufacturer string
	Model        string
	Badge        string
	Color        string
	SeatColor    string
	Body         string
	Category     string

	Year    int
	Mileage int64
	Price   int64
	Power   int64

	Transmission    string
	Engine          string
	Fuel            string
	DriveWheel      string
	SeatCount       string
	Address         string
	PlateNumber     string
	Points          string
	InspectionImage string
	AuctionName     string
	AuctionDate     *time.Time

	Image   string
	Images  []string
	Options any
	Extra   any

	IsLeasing bool
}

// Text accepts any JSON scalar and keeps its textual form. Objects, arrays
// and null decode to "".
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		*t = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
	case '{', '[', 'n':
		*t = ""
	default:
		*t = Text(b)
	}
	return nil
}

func (t Text) String() string { return string(t) }

// Int coerces t with ToInt.
func (t Text) Int(max int64) int64 { return ToInt(string(t), max) }
