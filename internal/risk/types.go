package risk

import (
	"time"

	"github.com/ducminhle1904/trade-automation/internal/regime"
	"github.com/ducminhle1904/trade-automation/pkg/types"
)

// ModelKind selects how a risk model turns market state into a sizing factor
type ModelKind string

const (
	ModelVolatility ModelKind = "volatility_adjusted"
	ModelVaR        ModelKind = "value_at_risk"
	ModelKelly      ModelKind = "kelly_criterion"
	ModelRegime     ModelKind = "regime_adaptive"
)

// VolatilityModel shrinks the position by AdjustmentFactor while
// annualized volatility is above VolatilityThreshold
type VolatilityModel struct {
	LookbackPeriods     int     `json:"lookback_periods" yaml:"lookback_periods"`
	VolatilityThreshold float64 `json:"volatility_threshold" yaml:"volatility_threshold"`
	AdjustmentFactor    float64 `json:"adjustment_factor" yaml:"adjustment_factor"`
}

// VaRModel scales the position by MaxLossPercentage / |VaR| once VaR exceeds the allowed loss
type VaRModel struct {
	ConfidenceLevel   float64 `json:"confidence_level" yaml:"confidence_level"`
	TimeHorizonDays   int     `json:"time_horizon_days" yaml:"time_horizon_days"`
	MaxLossPercentage float64 `json:"max_loss_percentage" yaml:"max_loss_percentage"`
}

// KellyModel sizes with a quarter of the full Kelly fraction
type KellyModel struct {
	WinRate      float64 `json:"win_rate" yaml:"win_rate"`
	AvgWin       float64 `json:"avg_win" yaml:"avg_win"`
	AvgLoss      float64 `json:"avg_loss" yaml:"avg_loss"`
	RiskFreeRate float64 `json:"risk_free_rate" yaml:"risk_free_rate"`
}

// RegimeModel applies a multiplier per detected regime; transitions use 0.5
type RegimeModel struct {
	BullMultiplier     float64 `json:"bull_multiplier" yaml:"bull_multiplier"`
	BearMultiplier     float64 `json:"bear_multiplier" yaml:"bear_multiplier"`
	SidewaysMultiplier float64 `json:"sideways_multiplier" yaml:"sideways_multiplier"`
	DetectionPeriods   int     `json:"detection_periods" yaml:"detection_periods"`
}

// ModelType is a closed union; the payload named by Kind is set
type ModelType struct {
	Kind       ModelKind        `json:"kind" yaml:"kind"`
	Volatility *VolatilityModel `json:"volatility,omitempty" yaml:"volatility,omitempty"`
	VaR        *VaRModel        `json:"var,omitempty" yaml:"var,omitempty"`
	Kelly      *KellyModel      `json:"kelly,omitempty" yaml:"kelly,omitempty"`
	Regime     *RegimeModel     `json:"regime,omitempty" yaml:"regime,omitempty"`
}

// DefaultModelType is used when a recommendation is requested for a token without a model
func DefaultModelType() ModelType {
	return ModelType{Kind: ModelVolatility, Volatility: &VolatilityModel{
		LookbackPeriods:     30,
		VolatilityThreshold: 0.5,
		AdjustmentFactor:    0.3,
	}}
}

// Parameters bound what a recommendation may return
type Parameters struct {
	MaxPositionSize    float64  `json:"max_position_size"`
	MaxDrawdown        float64  `json:"max_drawdown"`
	VolatilityCeiling  float64  `json:"volatility_ceiling"`
	LiquidityThreshold float64  `json:"liquidity_threshold"`
	StopLossPct        *float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct      *float64 `json:"take_profit_pct,omitempty"`
	MinFactor          float64  `json:"min_factor"`
	MaxFactor          float64  `json:"max_factor"`
}

// DefaultParameters returns conservative bounds: $10k max position and factors in [0.1, 2]
func DefaultParameters() Parameters {
	sl, tp := 15.0, 50.0
	return Parameters{
		MaxPositionSize:    10_000,
		MaxDrawdown:        20,
		VolatilityCeiling:  1,
		LiquidityThreshold: 100_000,
		StopLossPct:        &sl,
		TakeProfitPct:      &tp,
		MinFactor:          0.1,
		MaxFactor:          2,
	}
}

// Metrics are recomputed from the model history on every update.
// Percent-valued fields are in percent; Volatility is an annualized fraction.
type Metrics struct {
	Volatility  float64 `json:"volatility"`
	VaR95       float64 `json:"var_95"`
	CVaR95      float64 `json:"cvar_95"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Sharpe      float64 `json:"sharpe"`
	Sortino     float64 `json:"sortino"`
	Samples     int     `json:"samples"`
}

// Model is the risk state of one strategy, or the default model of a token
type Model struct {
	Key        string             `json:"key"`
	Token      string             `json:"token"`
	Type       ModelType          `json:"type"`
	Params     Parameters         `json:"params"`
	History    []types.PricePoint `json:"-"`
	Confidence float64            `json:"confidence"`
	Metrics    Metrics            `json:"metrics"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

func (m *Model) clone() *Model {
	c := *m
	c.History = append([]types.PricePoint(nil), m.History...)
	return &c
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type FactorKind string

const (
	FactorHighVolatility   FactorKind = "high_volatility"
	FactorLowLiquidity     FactorKind = "low_liquidity"
	FactorBearMarket       FactorKind = "bear_market"
	FactorRegimeTransition FactorKind = "regime_transition"
	FactorDrawdown         FactorKind = "drawdown_risk"
)

// Factor is one identified risk with its severity
type Factor struct {
	Kind        FactorKind `json:"kind"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
	Mitigation  string     `json:"mitigation,omitempty"`
}

type HedgeKind string

const (
	HedgePositionSizing  HedgeKind = "position_sizing"
	HedgeDiversification HedgeKind = "diversification"
	HedgeStopLoss        HedgeKind = "stop_loss"
)

// Hedge is a suggested mitigation. EstimatedCost is a fraction of the position.
type Hedge struct {
	Kind          HedgeKind `json:"kind"`
	Description   string    `json:"description"`
	EstimatedCost *float64  `json:"estimated_cost,omitempty"`
	Effectiveness float64   `json:"effectiveness"`
}

// Reason is the suggested trigger label for a risk-adjusted execution
type Reason string

const (
	ReasonScheduled Reason = "scheduled"
	ReasonPriceDip  Reason = "price_dip"
	ReasonMomentum  Reason = "momentum_signal"
	ReasonManual    Reason = "manual_trigger"
)

// Recommendation is the risk-adjusted sizing for one execution
type Recommendation struct {
	StrategyID string        `json:"strategy_id"`
	Token      string        `json:"token"`
	BaseAmount float64       `json:"base_amount"`
	Amount     float64       `json:"amount"`
	Factor     float64       `json:"factor"`
	Confidence float64       `json:"confidence"`
	Score      float64       `json:"score"` // 0 low risk .. 1 high risk
	Regime     regime.Regime `json:"regime"`
	Reason     Reason        `json:"reason"`
	Volume24h  float64       `json:"volume_24h"`
	Factors    []Factor      `json:"factors"`
	Hedges     []Hedge       `json:"hedges"`
}
