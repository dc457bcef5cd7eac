package anomaly

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	TypeTooLow  = "too_low"
	TypeTooHigh = "too_high"
)

// Finding is one flagged car.
type Finding struct {
	Sample       Sample
	Method       string
	Type         string
	Severity     float64
	ExpectedLow  float64
	ExpectedHigh float64
	GroupKey     string
	// Score is the method's raw statistic: z-score, price ratio or IQR distance.
	Score     float64
	ZScore    *float64
	Deviation *float64
}

// ExpectedRange renders the bounds the price was compared against.
func (f Finding) ExpectedRange() string {
	return fmt.Sprintf("%s - %s", formatPrice(f.ExpectedLow), formatPrice(f.ExpectedHigh))
}

// MethodParams tune a method. Zero values fall back to the method defaults.
type MethodParams struct {
	GroupBy      []string
	MinGroupSize int
	K            float64
	Threshold    float64
}

func (p MethodParams) minGroupSize() int {
	if p.MinGroupSize <= 0 {
		return 5
	}
	return p.MinGroupSize
}

// Stats describes one method run.
type Stats struct {
	TotalCars     int     `json:"total_cars"`
	Groups        int     `json:"groups"`
	GroupsSkipped int     `json:"groups_skipped"`
	AnomalyCount  int     `json:"anomaly_count"`
	TooLow        int     `json:"too_low"`
	TooHigh       int     `json:"too_high"`
	MeanPrice     float64 `json:"mean_price"`
}

func (s Stats) AnomalyPercentage() float64 {
	if s.TotalCars == 0 {
		return 0
	}
	return float64(s.AnomalyCount) / float64(s.TotalCars) * 100
}

// Method is one scoring strategy over grouped samples.
type Method interface {
	Name() string
	Detect(samples []Sample, p MethodParams) ([]Finding, Stats, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Method{}
)

// Register adds m under its name, replacing any earlier method of that name.
func Register(m Method) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[m.Name()] = m
}

func Lookup(name string) (Method, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	m, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownMethod, name, strings.Join(namesLocked(), ", "))
	}
	return m, nil
}

// Names lists registered methods in order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(iqrMethod{})
	Register(zscoreMethod{})
	Register(baselineMethod{})
	Register(depreciationMethod{})
}

func finalize(findings []Finding, stats *Stats, samples []Sample) []Finding {
	stats.TotalCars = len(samples)
	stats.AnomalyCount = len(findings)
	for _, f := range findings {
		if f.Type == TypeTooLow {
			stats.TooLow++
		} else {
			stats.TooHigh++
		}
	}
	if len(samples) > 0 {
		var sum float64
		for _, s := range samples {
			sum += float64(s.Price)
		}
		stats.MeanPrice = sum / float64(len(samples))
	}
	return findings
}
