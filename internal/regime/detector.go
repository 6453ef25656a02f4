package regime

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ducminhle1904/trade-automation/internal/indicators"
	"github.com/ducminhle1904/trade-automation/pkg/types"
)

// Detector classifies one token's market and applies hysteresis so a single
// noisy window does not flip the regime
type Detector struct {
	config RegimeConfig

	mu           sync.Mutex
	confirmed    RegimeType
	candidate    RegimeType
	candidateCnt int
	since        time.Time // when the confirmed regime began
	history      []RegimeChange
}

// NewDetector creates a detector with the given configuration
func NewDetector(config RegimeConfig) *Detector {
	def := DefaultRegimeConfig()
	if config.FastPeriod <= 0 {
		config.FastPeriod = def.FastPeriod
	}
	if config.SlowPeriod <= config.FastPeriod {
		config.SlowPeriod = config.FastPeriod * 3
	}
	if config.TrendThreshold <= 0 {
		config.TrendThreshold = def.TrendThreshold
	}
	if config.ConfirmationBars <= 0 {
		config.ConfirmationBars = def.ConfirmationBars
	}
	return &Detector{
		config:    config,
		confirmed: RegimeSideways,
		candidate: RegimeSideways,
	}
}

// MinRequiredPoints returns the smallest history Classify accepts
func (d *Detector) MinRequiredPoints() int {
	return d.config.SlowPeriod
}

// Classify computes the raw regime of a price window without touching detector state
func (d *Detector) Classify(points []types.PricePoint) (Regime, error) {
	if len(points) < d.config.SlowPeriod {
		return Regime{}, fmt.Errorf("insufficient data: need at least %d points", d.config.SlowPeriod)
	}

	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price
	}

	fast, _ := indicators.SMA(prices, d.config.FastPeriod)
	slow, _ := indicators.SMA(prices, d.config.SlowPeriod)

	window := prices[len(prices)-d.config.SlowPeriod:]
	low, high := window[0], window[0]
	for _, p := range window {
		low = math.Min(low, p)
		high = math.Max(high, p)
	}

	r := Regime{
		Volatility: indicators.RealizedVolatility(window),
		RangeLow:   low,
		RangeHigh:  high,
		Timestamp:  points[len(points)-1].Timestamp,
	}
	if slow > 0 {
		r.TrendSlope = (fast - slow) / slow
	}

	// Strength saturates at five times the trend threshold
	strength := math.Min(math.Abs(r.TrendSlope)/(d.config.TrendThreshold*5), 1)

	switch {
	case r.TrendSlope > d.config.TrendThreshold:
		r.Type = RegimeBull
		r.Strength = strength
	case r.TrendSlope < -d.config.TrendThreshold:
		r.Type = RegimeBear
		r.Strength = strength
	default:
		r.Type = RegimeSideways
	}
	r.Confidence = 0.5 + strength/2
	return r, nil
}

// Detect classifies the window and applies hysteresis: a new regime must be observed
// ConfirmationBars times in a row before it replaces the confirmed one, and while it
// is pending the result is a Transition away from the confirmed regime.
func (d *Detector) Detect(points []types.PricePoint) (Regime, error) {
	raw, err := d.Classify(points)
	if err != nil {
		return Regime{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.since.IsZero() {
		d.since = points[0].Timestamp
	}

	if raw.Type == d.confirmed {
		d.candidate = d.confirmed
		d.candidateCnt = 0
		raw.Duration = raw.Timestamp.Sub(d.since)
		return raw, nil
	}

	if raw.Type == d.candidate {
		d.candidateCnt++
	} else {
		d.candidate = raw.Type
		d.candidateCnt = 1
	}

	if d.candidateCnt >= d.config.ConfirmationBars {
		d.history = append(d.history, RegimeChange{
			Timestamp:  raw.Timestamp,
			OldRegime:  d.confirmed,
			NewRegime:  raw.Type,
			Confidence: raw.Confidence,
		})
		if len(d.history) > 1000 {
			d.history = d.history[len(d.history)-1000:]
		}
		d.confirmed = raw.Type
		d.candidateCnt = 0
		d.since = raw.Timestamp
		return raw, nil
	}

	return Regime{
		Type:       RegimeTransition,
		From:       d.confirmed,
		Confidence: float64(d.candidateCnt) / float64(d.config.ConfirmationBars),
		Volatility: raw.Volatility,
		TrendSlope: raw.TrendSlope,
		RangeLow:   raw.RangeLow,
		RangeHigh:  raw.RangeHigh,
		Timestamp:  raw.Timestamp,
	}, nil
}

// Current returns the confirmed regime type
func (d *Detector) Current() RegimeType {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.confirmed
}

// History returns confirmed regime changes, oldest first
func (d *Detector) History() []RegimeChange {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]RegimeChange, len(d.history))
	copy(out, d.history)
	return out
}
