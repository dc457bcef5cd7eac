package anomaly

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// MethodSummary is the summary name; it runs every registered method.
const MethodSummary = "summary"

// FlaggedCar merges the findings of one car across methods.
type FlaggedCar struct {
	Sample      Sample
	Findings    []Finding
	SeveritySum float64
}

func (c FlaggedCar) Methods() []string {
	out := make([]string, len(c.Findings))
	for i, f := range c.Findings {
		out[i] = f.Method
	}
	return out
}

func (c FlaggedCar) AverageSeverity() float64 {
	if len(c.Findings) == 0 {
		return 0
	}
	return c.SeveritySum / float64(len(c.Findings))
}

// HighConfidence reports whether more than one method flagged the car.
func (c FlaggedCar) HighConfidence() bool { return len(c.Findings) > 1 }

// SummaryReport is the cross-method view.
type SummaryReport struct {
	Methods        []string
	PerMethod      map[string]Stats
	Errors         map[string]string
	TotalUnique    int
	HighConfidence int
	Flagged        []FlaggedCar
}

// Summarize runs every registered method over the same samples. Samples are
// never mutated, so methods run concurrently. A failing method is reported
// in Errors and does not hide the others.
func Summarize(ctx context.Context, samples []Sample, p MethodParams) (SummaryReport, error) {
	names := Names()
	report := SummaryReport{
		Methods:   names,
		PerMethod: make(map[string]Stats, len(names)),
		Errors:    map[string]string{},
	}

	var mu sync.Mutex
	results := make(map[string][]Finding, len(names))
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		m, err := Lookup(name)
		if err != nil {
			return SummaryReport{}, err
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			findings, stats, err := m.Detect(samples, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors[name] = err.Error()
				return nil
			}
			results[name] = findings
			report.PerMethod[name] = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SummaryReport{}, err
	}

	byCar := map[int64]*FlaggedCar{}
	var order []int64
	for _, name := range names {
		for _, f := range results[name] {
			c, ok := byCar[f.Sample.CarID]
			if !ok {
				c = &FlaggedCar{Sample: f.Sample}
				byCar[f.Sample.CarID] = c
				order = append(order, f.Sample.CarID)
			}
			c.Findings = append(c.Findings, f)
			c.SeveritySum += f.Severity
		}
	}

	report.Flagged = make([]FlaggedCar, 0, len(order))
	for _, id := range order {
		c := byCar[id]
		if c.HighConfidence() {
			report.HighConfidence++
		}
		report.Flagged = append(report.Flagged, *c)
	}
	report.TotalUnique = len(report.Flagged)
	sort.SliceStable(report.Flagged, func(i, j int) bool {
		a, b := report.Flagged[i], report.Flagged[j]
		if len(a.Findings) != len(b.Findings) {
			return len(a.Findings) > len(b.Findings)
		}
		if a.SeveritySum != b.SeveritySum {
			return a.SeveritySum > b.SeveritySum
		}
		return a.Sample.CarID < b.Sample.CarID
	})
	return report, nil
}
