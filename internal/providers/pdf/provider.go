package pdf

import (
	"context"
	"io"

	"go.uber.org/fx"
)

// Provider renders tabular reports as PDF documents.
type Provider interface {
	GenerateTable(ctx context.Context, data TableData) (io.Reader, error)
}

// TableData is a titled report: key figures followed by one table.
type TableData struct {
	Title       string
	Subtitle    string
	GeneratedAt string
	Figures     []Figure
	Columns     []Column
	Rows        [][]string
	EmptyText   string
}

type Figure struct {
	Label string
	Value string
}

// Column widths use the 12 unit maroto grid and should sum to 12.
type Column struct {
	Title string
	Width int
	Right bool
}

type NoOpProvider struct{}

func (p *NoOpProvider) GenerateTable(ctx context.Context, data TableData) (io.Reader, error) {
	return nil, nil
}

var Module = fx.Module("pdf",
	fx.Provide(New),
)
