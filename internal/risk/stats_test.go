package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ducminhle1904/trade-automation/pkg/types"
)

func TestKelly(t *testing.T) {
	assert.InDelta(t, 0.4, KellyFraction(0.6, 2, 1), 1e-12)
	assert.InDelta(t, 0.1, FractionalKelly(0.6, 2, 1, 0.1, 2), 1e-12)
	assert.InDelta(t, 0.1, FractionalKelly(0.3, 1, 1, 0.1, 2), 1e-12, "negative edge is clamped to the floor")
	assert.InDelta(t, 0.2, FractionalKelly(0.9, 10, 1, 0.1, 0.2), 1e-12)
	assert.Zero(t, KellyFraction(0.6, 0, 1))
}

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name    string
		returns []float64
		want    float64
	}{
		{"empty", nil, 0},
		{"only gains", []float64{0.1, 0.2}, 0},
		{"halved then recovered", []float64{0.1, -0.5, 0.2}, 50},
		{"two dips, deeper second", []float64{-0.1, 0.2, -0.25}, 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MaxDrawdown(tt.returns), 1e-9)
		})
	}
}

func TestVaRAndCVaR(t *testing.T) {
	returns := make([]float64, 20)
	for i := range returns {
		returns[i] = float64(9-i) / 100 // 0.09 .. -0.10, unsorted input
	}
	assert.InDelta(t, -9, VaR(returns, 0.95), 1e-9)
	assert.InDelta(t, -9.5, CVaR(returns, 0.95), 1e-9)
	assert.Equal(t, VaR(returns, 0.95), VaR(returns, 0.95))
	assert.InDelta(t, 0.09, returns[0], 1e-12, "input is not reordered")

	assert.Zero(t, VaR(nil, 0.95))
	assert.Zero(t, CVaR(nil, 0.95))
}

func TestSharpeAndSortino(t *testing.T) {
	assert.Zero(t, Sharpe([]float64{0.01, 0.01, 0.01}, 0), "no dispersion")
	assert.InDelta(t, 1.0/3, Sharpe([]float64{0.02, -0.01}, 0), 1e-9)
	assert.InDelta(t, 0.70710678, Sortino([]float64{0.02, -0.01}, 0), 1e-6)
	assert.Zero(t, Sortino([]float64{0.02, 0.01}, 0), "no downside")
}

func TestComputeMetrics_Idempotent(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	points := make([]types.PricePoint, 40)
	for i := range points {
		price := 100.0
		if i%2 == 1 {
			price = 110
		}
		points[i] = types.PricePoint{Price: price, Timestamp: start.Add(time.Duration(i) * 24 * time.Hour)}
	}
	a := computeMetrics(points, 0)
	b := computeMetrics(points, 0)
	assert.Equal(t, a, b)
	assert.Equal(t, 39, a.Samples)
	assert.Greater(t, a.Volatility, 1.0)

	windowed := computeMetrics(points, 10)
	assert.Equal(t, 10, windowed.Samples)
}
