package pdf

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}

func (p *PDFProvider) GenerateTable(ctx context.Context, data TableData) (io.Reader, error) {
	if len(data.Columns) == 0 {
		return nil, errors.New("pdf: table has no columns")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(12, data.Title, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)
	if data.Subtitle != "" || data.GeneratedAt != "" {
		m.AddRow(8,
			text.NewCol(8, data.Subtitle, props.Text{Size: 9}),
			text.NewCol(4, data.GeneratedAt, props.Text{Size: 9, Align: align.Right}),
		)
	}

	for _, f := range data.Figures {
		m.AddRow(6,
			text.NewCol(4, f.Label, props.Text{Size: 9, Style: fontstyle.Bold}),
			text.NewCol(8, f.Value, props.Text{Size: 9}),
		)
	}

	m.AddRow(6, col.New(12))

	header := make([]core.Col, 0, len(data.Columns))
	for _, c := range data.Columns {
		header = append(header, text.NewCol(c.Width, c.Title, cellProps(c, true)))
	}
	m.AddRow(8, header...)

	if len(data.Rows) == 0 && data.EmptyText != "" {
		m.AddRow(8, text.NewCol(12, data.EmptyText, props.Text{Size: 9}))
	}
	for _, row := range data.Rows {
		cols := make([]core.Col, 0, len(data.Columns))
		for i, c := range data.Columns {
			var v string
			if i < len(row) {
				v = row[i]
			}
			cols = append(cols, text.NewCol(c.Width, v, cellProps(c, false)))
		}
		m.AddRow(7, cols...)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}

func cellProps(c Column, header bool) props.Text {
	p := props.Text{Size: 8, Align: align.Left}
	if c.Right {
		p.Align = align.Right
	}
	if header {
		p.Style = fontstyle.Bold
	}
	return p
}
