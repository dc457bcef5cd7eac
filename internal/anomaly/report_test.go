package anomaly

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sonataReport(t *testing.T) Report {
	t.Helper()
	samples := samplesOf("Hyundai", "Sonata", 2020, 100, 100, 100, 100, 10000)
	samples[4].VIN = "KMHVIN5"
	findings, stats, err := iqrMethod{}.Detect(samples, MethodParams{})
	require.NoError(t, err)
	return Report{
		Result:      &Result{Method: "iqr", Stats: stats, Findings: findings},
		GeneratedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, FormatJSON, sonataReport(t)))

	var out struct {
		Stats     map[string]any   `json:"stats"`
		Anomalies []map[string]any `json:"anomalies"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, 5.0, out.Stats["total_cars"])
	assert.Equal(t, 20.0, out.Stats["anomaly_percentage"])
	require.Len(t, out.Anomalies, 1)
	a := out.Anomalies[0]
	assert.Equal(t, "too_high", a["type"])
	assert.Equal(t, 1.5, a["severity"])
	assert.Equal(t, "KMHVIN5", a["vin"])
	assert.Equal(t, "0 - 6,288", a["expected_range"])
	assert.NotContains(t, a, "z_score")
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, FormatCSV, sonataReport(t)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "ID,Manufacturer,Model,Year,Price,VIN,Anomaly Type,Severity,Method,Expected Range", lines[0])
	assert.Equal(t, "5,Hyundai,Sonata,2020,10000,KMHVIN5,too_high,1.5,iqr,\"0 - 6,288\"", lines[1])

	buf.Reset()
	empty := Report{Result: &Result{Method: "iqr"}}
	require.NoError(t, Write(context.Background(), &buf, FormatCSV, empty))
	assert.Empty(t, buf.String())
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, FormatTable, sonataReport(t)))
	out := buf.String()
	assert.Contains(t, out, "PRICE ANOMALY DETECTION RESULTS (IQR)")
	assert.Contains(t, out, "Anomaly rate: 20.00%")
	assert.Contains(t, out, "10,000")
	assert.Contains(t, out, "too_high")

	buf.Reset()
	require.NoError(t, Write(context.Background(), &buf, "", Report{Result: &Result{Method: "zscore"}}))
	assert.Contains(t, buf.String(), "No significant price anomalies detected.")
}

func TestWriteSummary(t *testing.T) {
	samples := samplesOf("Kia", "K5", 2021, 90, 90, 95, 95, 100, 100, 100, 105, 110, 2000)
	summary, err := Summarize(context.Background(), samples, MethodParams{})
	require.NoError(t, err)
	r := Report{Summary: &summary}

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, FormatTable, r))
	assert.Contains(t, buf.String(), "High confidence (multiple methods): 1")
	assert.Contains(t, buf.String(), "iqr, manufacturer_baseline, zscore")

	buf.Reset()
	require.NoError(t, Write(context.Background(), &buf, FormatJSON, r))
	var out struct {
		Summary struct {
			TotalUnique int `json:"total_unique_anomalies"`
		} `json:"summary"`
		Flagged []struct {
			CarID   int64            `json:"car_id"`
			Methods []map[string]any `json:"methods"`
		} `json:"flagged_cars"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, 1, out.Summary.TotalUnique)
	require.Len(t, out.Flagged, 1)
	assert.Len(t, out.Flagged[0].Methods, 3)

	buf.Reset()
	require.NoError(t, Write(context.Background(), &buf, FormatCSV, r))
	assert.Len(t, strings.Split(strings.TrimSpace(buf.String()), "\n"), 4)
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, FormatXLSX, sonataReport(t)))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetFindings)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Anomaly Type", rows[0][6])
	assert.Equal(t, "too_high", rows[1][6])
	assert.Equal(t, "10000", rows[1][4])

	stats, err := f.GetRows(sheetStats)
	require.NoError(t, err)
	assert.Equal(t, []string{"Method", "iqr"}, stats[0])
}

func TestWritePDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, FormatPDF, sonataReport(t)))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}

func TestWriteUnknownFormat(t *testing.T) {
	err := Write(context.Background(), &bytes.Buffer{}, "yaml", sonataReport(t))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
