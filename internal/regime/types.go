package regime

import "time"

// RegimeType is the coarse market classification used to scale position sizing
type RegimeType int

const (
	RegimeSideways RegimeType = iota
	RegimeBull
	RegimeBear
	RegimeTransition
)

func (r RegimeType) String() string {
	switch r {
	case RegimeBull:
		return "BULL"
	case RegimeBear:
		return "BEAR"
	case RegimeSideways:
		return "SIDEWAYS"
	case RegimeTransition:
		return "TRANSITION"
	default:
		return "UNKNOWN"
	}
}

// Regime is the output of regime detection. Which fields are meaningful depends on Type:
// Bull/Bear use Strength, TrendSlope and Duration; Sideways uses Volatility and the range;
// Transition uses From and Confidence.
type Regime struct {
	Type       RegimeType    `json:"type"`
	Strength   float64       `json:"strength"`    // 0-1
	TrendSlope float64       `json:"trend_slope"` // (fast MA - slow MA) / slow MA
	Duration   time.Duration `json:"duration"`
	Volatility float64       `json:"volatility"` // realized volatility of the window
	RangeLow   float64       `json:"range_low"`
	RangeHigh  float64       `json:"range_high"`
	From       RegimeType    `json:"from"`
	Confidence float64       `json:"confidence"`
	Timestamp  time.Time     `json:"timestamp"`
}

// RegimeChange represents a regime transition event
type RegimeChange struct {
	Timestamp  time.Time  `json:"timestamp"`
	OldRegime  RegimeType `json:"old_regime"`
	NewRegime  RegimeType `json:"new_regime"`
	Confidence float64    `json:"confidence"`
}

// RegimeConfig holds configuration parameters for regime detection
type RegimeConfig struct {
	FastPeriod       int     `json:"fast_period"`       // 10
	SlowPeriod       int     `json:"slow_period"`       // 30
	TrendThreshold   float64 `json:"trend_threshold"`   // 0.02
	ConfirmationBars int     `json:"confirmation_bars"` // 3
}

// DefaultRegimeConfig returns default detection parameters
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		FastPeriod:       10,
		SlowPeriod:       30,
		TrendThreshold:   0.02,
		ConfirmationBars: 3,
	}
}
