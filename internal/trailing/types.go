package trailing

import "time"

// StrategyKind selects how the trailing offset is computed
type StrategyKind string

const (
	KindFixedAmount        StrategyKind = "fixed_amount"
	KindPercentage         StrategyKind = "percentage"
	KindATR                StrategyKind = "atr"
	KindVolatilityAdjusted StrategyKind = "volatility_adjusted"
	KindAdaptive           StrategyKind = "adaptive"
	KindTimeBased          StrategyKind = "time_based"
	KindTechnicalLevels    StrategyKind = "technical_levels"
)

// FixedAmountParams trails by a constant price distance.
// ActivationThreshold is the absolute profit required before trailing starts.
type FixedAmountParams struct {
	TrailingAmount      float64  `json:"trailing_amount"`
	ActivationThreshold *float64 `json:"activation_threshold,omitempty"`
}

// PercentageParams trails by a share of the price.
// ActivationThreshold is the profit percentage required before trailing starts.
type PercentageParams struct {
	TrailingPercentage  float64  `json:"trailing_percentage"`
	ActivationThreshold *float64 `json:"activation_threshold,omitempty"`
}

type ATRParams struct {
	Multiplier        float64 `json:"multiplier"`
	Periods           int     `json:"periods"`
	MinTrailingAmount float64 `json:"min_trailing_amount"`
	MaxTrailingAmount float64 `json:"max_trailing_amount"`
}

type VolatilityParams struct {
	BasePercentage       float64 `json:"base_percentage"`
	VolatilityMultiplier float64 `json:"volatility_multiplier"`
	LookbackPeriods      int     `json:"lookback_periods"`
	MinPercentage        float64 `json:"min_percentage"`
	MaxPercentage        float64 `json:"max_percentage"`
}

type AdaptiveParams struct {
	BasePercentage   float64 `json:"base_percentage"`
	TrendFactor      float64 `json:"trend_factor"`
	VolumeFactor     float64 `json:"volume_factor"`
	VolatilityFactor float64 `json:"volatility_factor"`
	SentimentFactor  float64 `json:"sentiment_factor"`
	MinPercentage    float64 `json:"min_percentage"`
	MaxPercentage    float64 `json:"max_percentage"`
}

// CurveType shapes how a time-based trail moves from its initial to its final percentage
type CurveType string

const (
	CurveLinear      CurveType = "linear"
	CurveExponential CurveType = "exponential"
	CurveLogarithmic CurveType = "logarithmic"
	CurveStep        CurveType = "step"
)

type TimeBasedParams struct {
	InitialPercentage float64       `json:"initial_percentage"`
	FinalPercentage   float64       `json:"final_percentage"`
	Period            time.Duration `json:"period"`
	Curve             CurveType     `json:"curve"`
	Steps             []float64     `json:"steps,omitempty"` // CurveStep only
}

type TechnicalLevelsParams struct {
	BufferPercentage       float64 `json:"buffer_percentage"`
	LevelStrengthThreshold float64 `json:"level_strength_threshold"`
	MaxTrailPercentage     float64 `json:"max_trail_percentage"`
}

// Strategy is a closed union; the payload named by Kind is set
type Strategy struct {
	Kind            StrategyKind           `json:"kind"`
	FixedAmount     *FixedAmountParams     `json:"fixed_amount,omitempty"`
	Percentage      *PercentageParams      `json:"percentage,omitempty"`
	ATR             *ATRParams             `json:"atr,omitempty"`
	Volatility      *VolatilityParams      `json:"volatility,omitempty"`
	Adaptive        *AdaptiveParams        `json:"adaptive,omitempty"`
	TimeBased       *TimeBasedParams       `json:"time_based,omitempty"`
	TechnicalLevels *TechnicalLevelsParams `json:"technical_levels,omitempty"`
}

// PercentageStrategy trails pct percent behind the price
func PercentageStrategy(pct float64) Strategy {
	return Strategy{Kind: KindPercentage, Percentage: &PercentageParams{TrailingPercentage: pct}}
}

type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusTriggered Status = "triggered"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

func (s Status) live() bool {
	return s == StatusActive || s == StatusPaused
}

// Performance tracks how well a stop has trailed
type Performance struct {
	MaxFavorableExcursion float64       `json:"max_favorable_excursion"`
	MaxAdverseExcursion   float64       `json:"max_adverse_excursion"`
	Adjustments           int           `json:"adjustments"`
	AverageAdjustment     float64       `json:"average_adjustment"`
	CurrentProfitPct      float64       `json:"current_profit_pct"`
	TimeInProfit          time.Duration `json:"time_in_profit"`
	TimeInLoss            time.Duration `json:"time_in_loss"`
}

// RiskControls are checked every tick independently of the trailing strategy
type RiskControls struct {
	MaxLossPercentage    float64    `json:"max_loss_percentage"`
	ProfitLockPercentage *float64   `json:"profit_lock_percentage,omitempty"`
	TimeStop             *time.Time `json:"time_stop,omitempty"`
	VolumeThreshold      *float64   `json:"volume_threshold,omitempty"` // pauses trailing while 24h volume is below
	DrawdownLimit        *float64   `json:"drawdown_limit,omitempty"`   // percent retrace from the watermark
}

// DefaultRiskControls caps loss at 20% and drawdown from the watermark at 15%
func DefaultRiskControls() RiskControls {
	dd := 15.0
	return RiskControls{MaxLossPercentage: 20, DrawdownLimit: &dd}
}

// State is one trailing stop and its linked order
type State struct {
	ID           string       `json:"id"`
	OrderID      string       `json:"order_id"`
	Owner        string       `json:"owner"`
	Token        string       `json:"token"`
	Strategy     Strategy     `json:"strategy"`
	Side         PositionSide `json:"side"`
	CurrentStop  float64      `json:"current_stop"`
	HighestPrice float64      `json:"highest_price"`
	LowestPrice  float64      `json:"lowest_price"`
	EntryPrice   float64      `json:"entry_price"`
	PositionSize float64      `json:"position_size"`
	Status       Status       `json:"status"`
	Performance  Performance  `json:"performance"`
	Risk         RiskControls `json:"risk"`
	TriggerCause string       `json:"trigger_cause,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	LastUpdated  time.Time    `json:"last_updated"`
	lastTick     time.Time
}

func (s *State) clone() *State {
	c := *s
	return &c
}

// profitPct is the unrealized gain of the position at price
func (s *State) profitPct(price float64) float64 {
	if s.EntryPrice <= 0 {
		return 0
	}
	if s.Side == Short {
		return (s.EntryPrice - price) / s.EntryPrice * 100
	}
	return (price - s.EntryPrice) / s.EntryPrice * 100
}

// better reports whether candidate is strictly more favorable than the current stop
func (s *State) better(candidate float64) bool {
	if s.Side == Short {
		return candidate < s.CurrentStop
	}
	return candidate > s.CurrentStop
}

// crossed reports whether price has reached the stop
func (s *State) crossed(price float64) bool {
	if s.Side == Short {
		return price >= s.CurrentStop
	}
	return price <= s.CurrentStop
}

// offset places a stop distance away from price on the protective side
func (s *State) offset(price, distance float64) float64 {
	if s.Side == Short {
		return price + distance
	}
	return price - distance
}
