package anomaly

// iqrMethod flags prices outside [Q1 - k*IQR, Q3 + k*IQR] of their group.
// Groups without spread are skipped.
type iqrMethod struct{}

func (iqrMethod) Name() string { return "iqr" }

func (m iqrMethod) Detect(samples []Sample, p MethodParams) ([]Finding, Stats, error) {
	groups, err := GroupSamples(samples, p.GroupBy)
	if err != nil {
		return nil, Stats{}, err
	}
	k := p.K
	if p.Threshold > 0 {
		k = p.Threshold
	}
	if k <= 0 {
		k = 1.5
	}

	var stats Stats
	var out []Finding
	for _, g := range groups {
		stats.Groups++
		if len(g.Samples) < p.minGroupSize() {
			stats.GroupsSkipped++
			continue
		}
		prices := sortedPrices(g.Samples)
		q1 := quantile(prices, 0.25)
		q3 := quantile(prices, 0.75)
		iqr := q3 - q1
		if iqr == 0 {
			stats.GroupsSkipped++
			continue
		}
		lower := q1 - k*iqr
		upper := q3 + k*iqr

		for _, s := range g.Samples {
			price := float64(s.Price)
			var typ string
			var dist float64
			switch {
			case price < lower:
				typ, dist = TypeTooLow, (lower-price)/iqr
			case price > upper:
				typ, dist = TypeTooHigh, (price-upper)/iqr
			default:
				continue
			}
			out = append(out, Finding{
				Sample:       s,
				Method:       m.Name(),
				Type:         typ,
				Severity:     clampSeverity(dist),
				ExpectedLow:  max(lower, 0),
				ExpectedHigh: upper,
				GroupKey:     g.Key,
				Score:        dist,
			})
		}
	}
	return finalize(out, &stats, samples), stats, nil
}
