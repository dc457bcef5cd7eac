package anomaly

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
	FormatXLSX  = "xlsx"
	FormatPDF   = "pdf"
)

// Formats lists the supported report formats.
var Formats = []string{FormatTable, FormatJSON, FormatCSV, FormatXLSX, FormatPDF}

// Report is what gets rendered: either a single method result or a summary.
type Report struct {
	Result      *Result
	Summary     *SummaryReport
	GeneratedAt time.Time
}

func (r Report) title() string {
	if r.Summary != nil {
		return "Price anomaly summary"
	}
	return fmt.Sprintf("Price anomalies (%s)", r.Result.Method)
}

// findings flattens the report into rows, one per method finding.
func (r Report) findings() []Finding {
	if r.Result != nil {
		return r.Result.Findings
	}
	var out []Finding
	for _, c := range r.Summary.Flagged {
		out = append(out, c.Findings...)
	}
	return out
}

// Write renders r to w in format.
func Write(ctx context.Context, w io.Writer, format string, r Report) error {
	if r.Result == nil && r.Summary == nil {
		return fmt.Errorf("anomaly: empty report")
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatTable, "":
		return writeTable(w, r)
	case FormatJSON:
		return writeJSON(w, r)
	case FormatCSV:
		return writeCSV(w, r.findings())
	case FormatXLSX:
		return writeXLSX(w, r)
	case FormatPDF:
		return writePDF(ctx, w, r)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

var printer = message.NewPrinter(language.English)

func formatPrice(v float64) string {
	return printer.Sprintf("%.0f", v)
}

func formatInt(v int64) string {
	return printer.Sprintf("%d", v)
}

func formatSeverity(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

func writeTable(w io.Writer, r Report) error {
	if r.Summary != nil {
		return writeSummaryTable(w, *r.Summary)
	}
	res := r.Result
	fmt.Fprintf(w, "PRICE ANOMALY DETECTION RESULTS (%s)\n", strings.ToUpper(res.Method))
	fmt.Fprintf(w, "Total cars analyzed: %d\n", res.Stats.TotalCars)
	fmt.Fprintf(w, "Groups: %d (skipped %d)\n", res.Stats.Groups, res.Stats.GroupsSkipped)
	fmt.Fprintf(w, "Anomalies found: %d\n", res.Stats.AnomalyCount)
	fmt.Fprintf(w, "Anomaly rate: %.2f%%\n", res.Stats.AnomalyPercentage())
	if res.Stats.MeanPrice > 0 {
		fmt.Fprintf(w, "Average price: %s\n", formatPrice(res.Stats.MeanPrice))
	}
	if len(res.Findings) == 0 {
		_, err := fmt.Fprintln(w, "\nNo significant price anomalies detected.")
		return err
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tMANUFACTURER\tMODEL\tYEAR\tPRICE\tTYPE\tSEVERITY\tEXPECTED RANGE\tDETAIL")
	for i, f := range res.Findings {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			i+1,
			f.Sample.CarID,
			clip(f.Sample.Manufacturer, 14),
			clip(f.Sample.Model, 14),
			f.Sample.Year,
			formatInt(f.Sample.Price),
			f.Type,
			formatSeverity(f.Severity),
			f.ExpectedRange(),
			detail(f),
		)
	}
	return tw.Flush()
}

func detail(f Finding) string {
	var parts []string
	if f.ZScore != nil {
		parts = append(parts, fmt.Sprintf("z=%.2f", *f.ZScore))
	}
	if f.Deviation != nil {
		parts = append(parts, fmt.Sprintf("deviation=%.1f%%", *f.Deviation*100))
	}
	return strings.Join(parts, " ")
}

func writeSummaryTable(w io.Writer, s SummaryReport) error {
	fmt.Fprintln(w, "COMPREHENSIVE PRICE ANOMALY REPORT")
	fmt.Fprintf(w, "Total unique anomalies found: %d\n", s.TotalUnique)
	fmt.Fprintf(w, "High confidence (multiple methods): %d\n", s.HighConfidence)
	fmt.Fprintf(w, "Methods used: %s\n\n", strings.Join(s.Methods, ", "))
	for _, name := range s.Methods {
		if msg, ok := s.Errors[name]; ok {
			fmt.Fprintf(w, "%s: error: %s\n", strings.ToUpper(name), msg)
			continue
		}
		st := s.PerMethod[name]
		fmt.Fprintf(w, "%s: %d anomalies (%.1f%%)\n", strings.ToUpper(name), st.AnomalyCount, st.AnomalyPercentage())
	}
	if len(s.Flagged) == 0 {
		return nil
	}

	fmt.Fprintln(w, "\nTOP FLAGGED CARS:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tID\tCAR\tYEAR\tPRICE\tMETHODS\tAVG SEVERITY")
	for i, c := range s.Flagged {
		fmt.Fprintf(tw, "%d\t%d\t%s %s\t%d\t%s\t%s\t%.1f\n",
			i+1,
			c.Sample.CarID,
			c.Sample.Manufacturer,
			c.Sample.Model,
			c.Sample.Year,
			formatInt(c.Sample.Price),
			strings.Join(c.Methods(), ", "),
			c.AverageSeverity(),
		)
	}
	return tw.Flush()
}

type statsJSON struct {
	Stats
	AnomalyPercentage float64 `json:"anomaly_percentage"`
}

type findingJSON struct {
	CarID         int64    `json:"car_id"`
	LotNumber     string   `json:"lot_number"`
	Manufacturer  string   `json:"manufacturer"`
	Model         string   `json:"model"`
	Year          int      `json:"year"`
	Price         int64    `json:"price"`
	VIN           string   `json:"vin"`
	Type          string   `json:"type"`
	Severity      float64  `json:"severity"`
	Method        string   `json:"method"`
	ExpectedRange string   `json:"expected_range"`
	ZScore        *float64 `json:"z_score,omitempty"`
	Deviation     *float64 `json:"deviation,omitempty"`
}

func toFindingJSON(f Finding) findingJSON {
	return findingJSON{
		CarID:         f.Sample.CarID,
		LotNumber:     f.Sample.LotNumber,
		Manufacturer:  f.Sample.Manufacturer,
		Model:         f.Sample.Model,
		Year:          f.Sample.Year,
		Price:         f.Sample.Price,
		VIN:           f.Sample.VIN,
		Type:          f.Type,
		Severity:      f.Severity,
		Method:        f.Method,
		ExpectedRange: f.ExpectedRange(),
		ZScore:        f.ZScore,
		Deviation:     f.Deviation,
	}
}

func writeJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if r.Summary == nil {
		out := struct {
			Stats     statsJSON     `json:"stats"`
			Anomalies []findingJSON `json:"anomalies"`
		}{
			Stats:     statsJSON{Stats: r.Result.Stats, AnomalyPercentage: r.Result.Stats.AnomalyPercentage()},
			Anomalies: make([]findingJSON, 0, len(r.Result.Findings)),
		}
		for _, f := range r.Result.Findings {
			out.Anomalies = append(out.Anomalies, toFindingJSON(f))
		}
		return enc.Encode(out)
	}

	s := r.Summary
	type flaggedJSON struct {
		CarID        int64         `json:"car_id"`
		Manufacturer string        `json:"manufacturer"`
		Model        string        `json:"model"`
		Year         int           `json:"year"`
		Price        int64         `json:"price"`
		SeveritySum  float64       `json:"severity_sum"`
		Methods      []findingJSON `json:"methods"`
	}
	out := struct {
		Summary struct {
			TotalUnique    int      `json:"total_unique_anomalies"`
			HighConfidence int      `json:"high_confidence"`
			MethodsUsed    []string `json:"methods_used"`
		} `json:"summary"`
		Individual map[string]any `json:"individual_results"`
		Flagged    []flaggedJSON  `json:"flagged_cars"`
	}{
		Individual: map[string]any{},
		Flagged:    make([]flaggedJSON, 0, len(s.Flagged)),
	}
	out.Summary.TotalUnique = s.TotalUnique
	out.Summary.HighConfidence = s.HighConfidence
	out.Summary.MethodsUsed = s.Methods
	for name, st := range s.PerMethod {
		out.Individual[name] = map[string]any{"stats": statsJSON{Stats: st, AnomalyPercentage: st.AnomalyPercentage()}}
	}
	for name, msg := range s.Errors {
		out.Individual[name] = map[string]any{"error": msg}
	}
	for _, c := range s.Flagged {
		fj := flaggedJSON{
			CarID:        c.Sample.CarID,
			Manufacturer: c.Sample.Manufacturer,
			Model:        c.Sample.Model,
			Year:         c.Sample.Year,
			Price:        c.Sample.Price,
			SeveritySum:  c.SeveritySum,
		}
		for _, f := range c.Findings {
			fj.Methods = append(fj.Methods, toFindingJSON(f))
		}
		out.Flagged = append(out.Flagged, fj)
	}
	return enc.Encode(out)
}

// csvHeader is shared by the csv and xlsx exports.
var csvHeader = []string{"ID", "Manufacturer", "Model", "Year", "Price", "VIN", "Anomaly Type", "Severity", "Method", "Expected Range"}

func csvRecord(f Finding) []string {
	return []string{
		strconv.FormatInt(f.Sample.CarID, 10),
		f.Sample.Manufacturer,
		f.Sample.Model,
		strconv.Itoa(f.Sample.Year),
		strconv.FormatInt(f.Sample.Price, 10),
		f.Sample.VIN,
		f.Type,
		formatSeverity(f.Severity),
		f.Method,
		f.ExpectedRange(),
	}
}

// writeCSV writes nothing at all when there are no findings.
func writeCSV(w io.Writer, findings []Finding) error {
	if len(findings) == 0 {
		return nil
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, f := range findings {
		if err := cw.Write(csvRecord(f)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
