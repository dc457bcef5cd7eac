package anomaly

import (
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	sheetFindings = "Anomalies"
	sheetStats    = "Stats"
)

func writeXLSX(w io.Writer, r Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetFindings); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	header := make([]any, len(csvHeader))
	for i, h := range csvHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetFindings, "A1", &header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(csvHeader), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetFindings, "A1", last, bold); err != nil {
		return err
	}

	for i, fd := range r.findings() {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{
			fd.Sample.CarID,
			fd.Sample.Manufacturer,
			fd.Sample.Model,
			fd.Sample.Year,
			fd.Sample.Price,
			fd.Sample.VIN,
			fd.Type,
			fd.Severity,
			fd.Method,
			fd.ExpectedRange(),
		}
		if err := f.SetSheetRow(sheetFindings, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(sheetFindings, "A", "J", 16); err != nil {
		return err
	}
	if err := f.SetPanes(sheetFindings, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	if _, err := f.NewSheet(sheetStats); err != nil {
		return err
	}
	for i, kv := range reportFigures(r) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := []any{kv[0], kv[1]}
		if err := f.SetSheetRow(sheetStats, cell, &row); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(sheetStats, "A", "B", 36); err != nil {
		return err
	}

	return f.Write(w)
}

// reportFigures are the headline numbers shown next to the table in the
// spreadsheet and pdf exports.
func reportFigures(r Report) [][2]string {
	if r.Summary != nil {
		s := r.Summary
		return [][2]string{
			{"Total unique anomalies", formatInt(int64(s.TotalUnique))},
			{"High confidence", formatInt(int64(s.HighConfidence))},
			{"Methods used", strings.Join(s.Methods, ", ")},
		}
	}
	st := r.Result.Stats
	return [][2]string{
		{"Method", r.Result.Method},
		{"Total cars analyzed", formatInt(int64(st.TotalCars))},
		{"Groups", formatInt(int64(st.Groups))},
		{"Groups skipped", formatInt(int64(st.GroupsSkipped))},
		{"Anomalies found", formatInt(int64(st.AnomalyCount))},
		{"Anomaly rate", printer.Sprintf("%.2f%%", st.AnomalyPercentage())},
	}
}
