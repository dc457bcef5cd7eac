package anomaly

import "math"

// baselineMethod compares each price to the median of its manufacturer.
// Threshold is the tolerated ratio in either direction.
type baselineMethod struct{}

func (baselineMethod) Name() string { return "manufacturer_baseline" }

func (m baselineMethod) Detect(samples []Sample, p MethodParams) ([]Finding, Stats, error) {
	groups, err := GroupSamples(samples, []string{"manufacturer"})
	if err != nil {
		return nil, Stats{}, err
	}
	factor := p.Threshold
	if factor <= 1 {
		factor = 3
	}

	var stats Stats
	var out []Finding
	for _, g := range groups {
		stats.Groups++
		if len(g.Samples) < p.minGroupSize() {
			stats.GroupsSkipped++
			continue
		}
		base := median(sortedPrices(g.Samples))
		if base <= 0 {
			stats.GroupsSkipped++
			continue
		}
		for _, s := range g.Samples {
			ratio := float64(s.Price) / base
			var typ string
			var excess float64
			switch {
			case ratio > factor:
				typ, excess = TypeTooHigh, ratio/factor
			case ratio < 1/factor:
				typ, excess = TypeTooLow, (1/factor)/ratio
			default:
				continue
			}
			dev := ratio - 1
			out = append(out, Finding{
				Sample:       s,
				Method:       m.Name(),
				Type:         typ,
				Severity:     clampSeverity(1 + math.Log2(excess)),
				ExpectedLow:  base / factor,
				ExpectedHigh: base * factor,
				GroupKey:     g.Key,
				Score:        ratio,
				Deviation:    &dev,
			})
		}
	}
	return finalize(out, &stats, samples), stats, nil
}
