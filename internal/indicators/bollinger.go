package indicators

import (
	"errors"
	"math"
)

// BollingerBands represents the Bollinger Bands indicator
type BollingerBands struct {
	period         int
	stdDevMultiple float64
}

// Bands holds one Bollinger evaluation
type Bands struct {
	Upper    float64
	Middle   float64
	Lower    float64
	PercentB float64 // position of the last price within the bands, 0-100
	WidthPct float64 // (upper-lower)/middle
}

// NewBollingerBands creates a new BollingerBands instance with the given period and standard deviation multiplier
func NewBollingerBands(period int, stdDev float64) *BollingerBands {
	return &BollingerBands{
		period:         period,
		stdDevMultiple: stdDev,
	}
}

// Calculate computes the upper, middle, and lower Bollinger Bands
func (bb *BollingerBands) Calculate(prices []float64) (Bands, error) {
	if bb.period <= 0 || len(prices) < bb.period {
		return Bands{}, errors.New("insufficient data for Bollinger Bands calculation")
	}

	recent := prices[len(prices)-bb.period:]
	middle, _ := SMA(recent, bb.period)
	stdDev := StdDev(recent)

	b := Bands{
		Middle: middle,
		Upper:  middle + bb.stdDevMultiple*stdDev,
		Lower:  middle - bb.stdDevMultiple*stdDev,
	}

	current := prices[len(prices)-1]
	if b.Upper == b.Lower {
		b.PercentB = 50
	} else {
		b.PercentB = (current - b.Lower) / (b.Upper - b.Lower) * 100
	}
	if middle != 0 {
		b.WidthPct = (b.Upper - b.Lower) / middle
	}
	return b, nil
}

// StdDev returns the population standard deviation
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return math.Sqrt(variance / float64(len(values)))
}
