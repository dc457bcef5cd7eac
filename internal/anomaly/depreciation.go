package anomaly

import "math"

// depreciationMethod fits log(price) against year within each model and
// flags residuals beyond threshold standard deviations.
type depreciationMethod struct{}

func (depreciationMethod) Name() string { return "year_depreciation" }

func (m depreciationMethod) Detect(samples []Sample, p MethodParams) ([]Finding, Stats, error) {
	groups, err := GroupSamples(samples, []string{"manufacturer", "model"})
	if err != nil {
		return nil, Stats{}, err
	}
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = 2
	}

	var stats Stats
	var out []Finding
	for _, g := range groups {
		stats.Groups++
		if len(g.Samples) < p.minGroupSize() {
			stats.GroupsSkipped++
			continue
		}
		a, b, ok := fitLogPrice(g.Samples)
		if !ok {
			stats.GroupsSkipped++
			continue
		}
		residuals := make([]float64, len(g.Samples))
		for i, s := range g.Samples {
			residuals[i] = math.Log(float64(s.Price)) - (a + b*float64(s.Year))
		}
		_, sd := meanStdDev(residuals)
		if sd == 0 {
			stats.GroupsSkipped++
			continue
		}
		for i, s := range g.Samples {
			z := residuals[i] / sd
			if math.Abs(z) <= threshold {
				continue
			}
			typ := TypeTooHigh
			if z < 0 {
				typ = TypeTooLow
			}
			fit := a + b*float64(s.Year)
			expected := math.Exp(fit)
			dev := float64(s.Price)/expected - 1
			zv := z
			out = append(out, Finding{
				Sample:       s,
				Method:       m.Name(),
				Type:         typ,
				Severity:     clampSeverity(1 + math.Abs(z) - threshold),
				ExpectedLow:  math.Exp(fit - threshold*sd),
				ExpectedHigh: math.Exp(fit + threshold*sd),
				GroupKey:     g.Key,
				Score:        z,
				ZScore:       &zv,
				Deviation:    &dev,
			})
		}
	}
	return finalize(out, &stats, samples), stats, nil
}

// fitLogPrice is an ordinary least squares fit of ln(price) = a + b*year.
// It needs at least two distinct years.
func fitLogPrice(samples []Sample) (a, b float64, ok bool) {
	n := float64(len(samples))
	var sx, sy, sxx, sxy float64
	for _, s := range samples {
		if s.Price <= 0 {
			return 0, 0, false
		}
		x := float64(s.Year)
		y := math.Log(float64(s.Price))
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return 0, 0, false
	}
	b = (n*sxy - sx*sy) / den
	a = (sy - b*sx) / n
	return a, b, true
}
