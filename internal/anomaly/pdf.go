package anomaly

import (
	"context"
	"io"
	"strconv"

	"github.com/smallbiznis/carlot/internal/providers/pdf"
)

var pdfColumns = []pdf.Column{
	{Title: "ID", Width: 1},
	{Title: "Car", Width: 3},
	{Title: "Year", Width: 1},
	{Title: "Price", Width: 2, Right: true},
	{Title: "Type", Width: 1},
	{Title: "Severity", Width: 1, Right: true},
	{Title: "Expected range", Width: 3},
}

func writePDF(ctx context.Context, w io.Writer, r Report) error {
	data := pdf.TableData{
		Title:     r.title(),
		Columns:   pdfColumns,
		EmptyText: "No significant price anomalies detected.",
	}
	if !r.GeneratedAt.IsZero() {
		data.GeneratedAt = r.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC")
	}
	for _, kv := range reportFigures(r) {
		data.Figures = append(data.Figures, pdf.Figure{Label: kv[0], Value: kv[1]})
	}
	for _, f := range r.findings() {
		data.Rows = append(data.Rows, []string{
			strconv.FormatInt(f.Sample.CarID, 10),
			f.Sample.Manufacturer + " " + f.Sample.Model,
			strconv.Itoa(f.Sample.Year),
			formatInt(f.Sample.Price),
			f.Type,
			formatSeverity(f.Severity),
			f.ExpectedRange(),
		})
	}

	doc, err := pdf.New().GenerateTable(ctx, data)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, doc)
	return err
}
