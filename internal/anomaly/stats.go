package anomaly

import (
	"math"
	"sort"
)

// quantile uses the Hazen definition, h = n*p + 0.5, interpolating between
// the neighbouring order statistics. sorted must be ascending.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	h := float64(n)*p + 0.5
	if h <= 1 {
		return sorted[0]
	}
	if h >= float64(n) {
		return sorted[n-1]
	}
	lo := math.Floor(h)
	frac := h - lo
	i := int(lo) - 1
	return sorted[i] + frac*(sorted[i+1]-sorted[i])
}

func sortedPrices(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s.Price)
	}
	sort.Float64s(out)
	return out
}

func median(sorted []float64) float64 {
	return quantile(sorted, 0.5)
}

// meanStdDev returns the mean and the population standard deviation.
func meanStdDev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

// clampSeverity maps a raw distance onto the 1..5 display scale.
func clampSeverity(v float64) float64 {
	if math.IsNaN(v) || v < MinSeverity {
		return MinSeverity
	}
	if v > MaxSeverity {
		return MaxSeverity
	}
	return math.Round(v*100) / 100
}

const (
	MinSeverity = 1.0
	MaxSeverity = 5.0
)
