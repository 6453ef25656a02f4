package indicators

import (
	"errors"
	"math"

	"github.com/ducminhle1904/trade-automation/pkg/types"
)

// ATR represents the Average True Range technical indicator.
// ATR measures market volatility by decomposing the entire range of an asset price for that period.
type ATR struct {
	period int
}

// NewATR creates a new ATR indicator
func NewATR(period int) *ATR {
	if period <= 0 {
		period = 14
	}
	return &ATR{period: period}
}

// Calculate returns Wilder's smoothed ATR over the candles.
// The first value is the simple mean of the first period true ranges.
func (a *ATR) Calculate(data []types.OHLCV) (float64, error) {
	if len(data) < a.period+1 {
		return 0, errors.New("insufficient data points for ATR calculation")
	}

	trueRanges := make([]float64, 0, len(data)-1)
	for i := 1; i < len(data); i++ {
		trueRanges = append(trueRanges, trueRange(data[i], data[i-1].Close))
	}

	atr := 0.0
	for _, tr := range trueRanges[:a.period] {
		atr += tr
	}
	atr /= float64(a.period)

	for _, tr := range trueRanges[a.period:] {
		atr = (atr*float64(a.period-1) + tr) / float64(a.period)
	}

	return atr, nil
}

// GetRequiredPeriods returns the minimum number of candles needed
func (a *ATR) GetRequiredPeriods() int {
	return a.period + 1 // Need extra period for True Range calculation
}

// trueRange = max(High-Low, |High-PrevClose|, |Low-PrevClose|)
func trueRange(current types.OHLCV, prevClose float64) float64 {
	hl := current.High - current.Low
	hc := math.Abs(current.High - prevClose)
	lc := math.Abs(current.Low - prevClose)

	return math.Max(hl, math.Max(hc, lc))
}
