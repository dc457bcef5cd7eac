package anomaly

import "math"

// zscoreMethod flags prices more than threshold standard deviations from
// their group mean.
type zscoreMethod struct{}

func (zscoreMethod) Name() string { return "zscore" }

func (m zscoreMethod) Detect(samples []Sample, p MethodParams) ([]Finding, Stats, error) {
	groups, err := GroupSamples(samples, p.GroupBy)
	if err != nil {
		return nil, Stats{}, err
	}
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = 2.5
	}

	var stats Stats
	var out []Finding
	for _, g := range groups {
		stats.Groups++
		if len(g.Samples) < p.minGroupSize() {
			stats.GroupsSkipped++
			continue
		}
		prices := make([]float64, len(g.Samples))
		for i, s := range g.Samples {
			prices[i] = float64(s.Price)
		}
		mean, sd := meanStdDev(prices)
		if sd == 0 {
			stats.GroupsSkipped++
			continue
		}
		for _, s := range g.Samples {
			z := (float64(s.Price) - mean) / sd
			if math.Abs(z) <= threshold {
				continue
			}
			typ := TypeTooHigh
			if z < 0 {
				typ = TypeTooLow
			}
			zv := z
			out = append(out, Finding{
				Sample:       s,
				Method:       m.Name(),
				Type:         typ,
				Severity:     clampSeverity(1 + math.Abs(z) - threshold),
				ExpectedLow:  max(mean-threshold*sd, 0),
				ExpectedHigh: mean + threshold*sd,
				GroupKey:     g.Key,
				Score:        z,
				ZScore:       &zv,
			})
		}
	}
	return finalize(out, &stats, samples), stats, nil
}
