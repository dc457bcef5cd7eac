package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/smallbiznis/carlot/internal/feed"
	"github.com/smallbiznis/carlot/internal/normalize"
)

// ErrSkipRow marks a row that could not be read or mapped. The run counts
// it as skipped and moves on.
var ErrSkipRow = errors.New("row skipped")

// Source yields normalized records until io.EOF.
type Source interface {
	Name() string
	Next(ctx context.Context) (normalize.Record, error)
}

// LotSource yields lot identifiers until io.EOF.
type LotSource interface {
	Name() string
	NextLot(ctx context.Context) (string, error)
}

type csvSource struct {
	stream  *feed.Stream
	profile normalize.Profile
}

// NewCSVSource maps rows of the dated active feed.
func NewCSVSource(stream *feed.Stream, profile normalize.Profile) Source {
	return &csvSource{stream: stream, profile: profile}
}

func (s *csvSource) Name() string { return "csv_" + s.profile.Name }

func (s *csvSource) Next(ctx context.Context) (normalize.Record, error) {
	if err := ctx.Err(); err != nil {
		return normalize.Record{}, err
	}
	row, err := s.stream.Next()
	if err != nil {
		if errors.Is(err, feed.ErrMalformedRow) {
			return normalize.Record{}, fmt.Errorf("%w: %v", ErrSkipRow, err)
		}
		return normalize.Record{}, err
	}
	return normalize.FromEncarRow(row, s.profile), nil
}

type csvLotSource struct {
	stream *feed.Stream
}

// NewCSVLotSource reads lot identifiers from a removed feed.
func NewCSVLotSource(stream *feed.Stream) LotSource {
	return &csvLotSource{stream: stream}
}

func (s *csvLotSource) Name() string { return "csv_removed" }

func (s *csvLotSource) NextLot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	row, err := s.stream.Next()
	if err != nil {
		if errors.Is(err, feed.ErrMalformedRow) {
			return "", fmt.Errorf("%w: %v", ErrSkipRow, err)
		}
		return "", err
	}
	return row.First("inner_id", "id"), nil
}

type jsonSource struct {
	name   string
	arr    *feed.ArrayReader
	decode func([]byte) (normalize.Record, error)
}

// NewVehicleSource maps the detailed JSON vehicle feed.
func NewVehicleSource(r io.Reader) Source {
	return &jsonSource{
		name: "json_vehicles",
		arr:  feed.NewArrayReader(r),
		decode: func(raw []byte) (normalize.Record, error) {
			doc, err := normalize.DecodeVehicle(raw)
			if err != nil {
				return normalize.Record{}, err
			}
			return normalize.FromVehicle(doc), nil
		},
	}
}

// NewAuctionSource maps an auction export.
func NewAuctionSource(r io.Reader) Source {
	return &jsonSource{
		name: "json_auction",
		arr:  feed.NewArrayReader(r),
		decode: func(raw []byte) (normalize.Record, error) {
			doc, err := normalize.DecodeAuction(raw)
			if err != nil {
				return normalize.Record{}, err
			}
			return normalize.FromAuction(doc), nil
		},
	}
}

func (s *jsonSource) Name() string { return s.name }

func (s *jsonSource) Next(ctx context.Context) (normalize.Record, error) {
	if err := ctx.Err(); err != nil {
		return normalize.Record{}, err
	}
	raw, err := s.arr.Next()
	if err != nil {
		return normalize.Record{}, err
	}
	rec, err := s.decode(raw)
	if err != nil {
		return normalize.Record{}, fmt.Errorf("%w: element %d: %v", ErrSkipRow, s.arr.Count(), err)
	}
	return rec, nil
}

// SliceSource replays fixed records, for tests and re-runs.
type SliceSource struct {
	Label   string
	Records []normalize.Record
	pos     int
}

func (s *SliceSource) Name() string {
	if strings.TrimSpace(s.Label) == "" {
		return "records"
	}
	return s.Label
}

func (s *SliceSource) Next(ctx context.Context) (normalize.Record, error) {
	if err := ctx.Err(); err != nil {
		return normalize.Record{}, err
	}
	if s.pos >= len(s.Records) {
		return normalize.Record{}, io.EOF
	}
	rec := s.Records[s.pos]
	s.pos++
	return rec, nil
}

// SliceLotSource replays fixed lots.
type SliceLotSource struct {
	Lots []string
	pos  int
}

func (s *SliceLotSource) Name() string { return "lots" }

func (s *SliceLotSource) NextLot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.pos >= len(s.Lots) {
		return "", io.EOF
	}
	lot := s.Lots[s.pos]
	s.pos++
	return lot, nil
}
