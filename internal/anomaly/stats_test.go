package anomaly

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuantileHazen(t *testing.T) {
	s := []float64{100, 100, 100, 100, 10000}
	assert.Equal(t, 100.0, quantile(s, 0.25))
	assert.Equal(t, 2575.0, quantile(s, 0.75))
	assert.Equal(t, 100.0, quantile(s, 0.5))

	assert.Equal(t, 1.0, quantile([]float64{1, 2, 3, 4}, 0))
	assert.Equal(t, 4.0, quantile([]float64{1, 2, 3, 4}, 1))
	assert.Equal(t, 2.5, quantile([]float64{1, 2, 3, 4}, 0.5))
	assert.Equal(t, 0.0, quantile(nil, 0.5))
}

func TestMeanStdDevIsPopulation(t *testing.T) {
	mean, sd := meanStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 5.0, mean)
	assert.Equal(t, 2.0, sd)
}

func TestClampSeverity(t *testing.T) {
	assert.Equal(t, 1.0, clampSeverity(0.2))
	assert.Equal(t, 5.0, clampSeverity(188))
	assert.Equal(t, 1.23, clampSeverity(1.2345))
}
