package dca

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ducminhle1904/trade-automation/internal/risk"
)

// IntervalKind is how often a strategy runs on its own clock
type IntervalKind string

const (
	IntervalMinutes  IntervalKind = "minutes"
	IntervalHourly   IntervalKind = "hourly"
	IntervalDaily    IntervalKind = "daily"
	IntervalWeekly   IntervalKind = "weekly"
	IntervalBiweekly IntervalKind = "biweekly"
	IntervalMonthly  IntervalKind = "monthly"
	IntervalCustom   IntervalKind = "custom"
)

// Interval is a closed union: Minutes is set for IntervalMinutes, Cron for IntervalCustom
type Interval struct {
	Kind    IntervalKind `json:"kind" yaml:"kind"`
	Minutes int          `json:"minutes,omitempty" yaml:"minutes,omitempty"`
	Cron    string       `json:"cron,omitempty" yaml:"cron,omitempty"`
}

func Every(minutes int) Interval { return Interval{Kind: IntervalMinutes, Minutes: minutes} }
func Daily() Interval            { return Interval{Kind: IntervalDaily} }
func CronInterval(expr string) Interval {
	return Interval{Kind: IntervalCustom, Cron: expr}
}

// Duration is the fixed length of the interval; zero for cron intervals
func (i Interval) Duration() time.Duration {
	switch i.Kind {
	case IntervalMinutes:
		return time.Duration(i.Minutes) * time.Minute
	case IntervalHourly:
		return time.Hour
	case IntervalDaily:
		return 24 * time.Hour
	case IntervalWeekly:
		return 7 * 24 * time.Hour
	case IntervalBiweekly:
		return 14 * 24 * time.Hour
	case IntervalMonthly:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Next returns the first run time after from
func (i Interval) Next(from time.Time) (time.Time, error) {
	if i.Kind == IntervalCustom {
		sched, err := cron.ParseStandard(i.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron %q: %w", i.Cron, err)
		}
		return sched.Next(from), nil
	}
	d := i.Duration()
	if d <= 0 {
		return time.Time{}, fmt.Errorf("interval %q has no duration", i.Kind)
	}
	return from.Add(d), nil
}

// StrategyKind selects the amount policy
type StrategyKind string

const (
	KindFixed          StrategyKind = "fixed"
	KindValueAveraging StrategyKind = "value_averaging"
	KindBuyTheDip      StrategyKind = "buy_the_dip"
	KindMomentum       StrategyKind = "momentum"
	KindGrid           StrategyKind = "grid"
	KindAIEnhanced     StrategyKind = "ai_enhanced"
)

// ValueAveragingParams grows the target holding value by TargetGrowthPct every period
type ValueAveragingParams struct {
	TargetGrowthPct float64 `json:"target_growth_pct" yaml:"target_growth_pct"`
}

// BuyTheDipParams scales the buy by Multiplier once price is DipThreshold percent below its recent high
type BuyTheDipParams struct {
	DipThreshold float64 `json:"dip_threshold" yaml:"dip_threshold"`
	Multiplier   float64 `json:"multiplier" yaml:"multiplier"`
}

// MomentumParams buys more when RSI is oversold and less when overbought
type MomentumParams struct {
	RSIPeriod  int     `json:"rsi_period" yaml:"rsi_period"`
	Oversold   float64 `json:"oversold" yaml:"oversold"`
	Overbought float64 `json:"overbought" yaml:"overbought"`
}

// GridLevel spends AllocationPct of the total budget the first time price reaches Price
type GridLevel struct {
	Price         float64 `json:"price" yaml:"price"`
	AllocationPct float64 `json:"allocation_pct" yaml:"allocation_pct"`
	Filled        bool    `json:"filled" yaml:"-"`
}

type GridParams struct {
	Levels []GridLevel `json:"levels" yaml:"levels"`
}

// AIEnhancedParams skips executions while the external confidence is below ConfidenceThreshold
type AIEnhancedParams struct {
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
}

// StrategyType is a closed union; the payload named by Kind is set
type StrategyType struct {
	Kind           StrategyKind          `json:"kind" yaml:"kind"`
	ValueAveraging *ValueAveragingParams `json:"value_averaging,omitempty" yaml:"value_averaging,omitempty"`
	BuyTheDip      *BuyTheDipParams      `json:"buy_the_dip,omitempty" yaml:"buy_the_dip,omitempty"`
	Momentum       *MomentumParams       `json:"momentum,omitempty" yaml:"momentum,omitempty"`
	Grid           *GridParams           `json:"grid,omitempty" yaml:"grid,omitempty"`
	AIEnhanced     *AIEnhancedParams     `json:"ai_enhanced,omitempty" yaml:"ai_enhanced,omitempty"`
}

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// RiskParameters gate each cycle. VolatilityThreshold is annualized volatility in percent.
type RiskParameters struct {
	MaxSlippageBps      uint32   `json:"max_slippage_bps" yaml:"max_slippage_bps"`
	StopLossPct         *float64 `json:"stop_loss_pct,omitempty" yaml:"stop_loss_pct,omitempty"`
	TakeProfitPct       *float64 `json:"take_profit_pct,omitempty" yaml:"take_profit_pct,omitempty"`
	MaxDrawdownPct      float64  `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	VolatilityThreshold float64  `json:"volatility_threshold" yaml:"volatility_threshold"`
	MinLiquidity        float64  `json:"min_liquidity" yaml:"min_liquidity"`
}

func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		MaxSlippageBps:      100,
		MaxDrawdownPct:      20,
		VolatilityThreshold: 50,
		MinLiquidity:        10_000,
	}
}

// Strategy is one recurring buy plan. Amounts are in InputToken units.
type Strategy struct {
	ID                 string          `json:"id"`
	Owner              string          `json:"owner"`
	Name               string          `json:"name"`
	InputToken         string          `json:"input_token"`
	OutputToken        string          `json:"output_token"`
	TotalAmount        float64         `json:"total_amount"`
	AmountPerExecution float64         `json:"amount_per_execution"`
	Interval           Interval        `json:"interval"`
	Type               StrategyType    `json:"type"`
	Status             Status          `json:"status"`
	ExecutionCount     int             `json:"execution_count"`
	MaxExecutions      *int            `json:"max_executions,omitempty"`
	EndDate            *time.Time      `json:"end_date,omitempty"`
	Risk               RiskParameters  `json:"risk"`
	RiskModel          *risk.ModelType `json:"risk_model,omitempty"`
	MaxMultiplier      float64         `json:"max_multiplier"`

	// ScheduleID hands dispatch to the scheduler; the engine loop then ignores NextExecution
	ScheduleID string `json:"schedule_id,omitempty"`

	TotalInvested       float64    `json:"total_invested"`
	TokensAcquired      float64    `json:"tokens_acquired"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	LastExecution       *time.Time `json:"last_execution,omitempty"`
	NextExecution       time.Time  `json:"next_execution"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (s *Strategy) clone() *Strategy {
	c := *s
	if s.Type.Grid != nil {
		g := *s.Type.Grid
		g.Levels = append([]GridLevel(nil), s.Type.Grid.Levels...)
		c.Type.Grid = &g
	}
	return &c
}

// Remaining is the unspent budget
func (s *Strategy) Remaining() float64 {
	if r := s.TotalAmount - s.TotalInvested; r > 0 {
		return r
	}
	return 0
}

// AverageEntry is the input spent per output token acquired
func (s *Strategy) AverageEntry() float64 {
	if s.TokensAcquired <= 0 {
		return 0
	}
	return s.TotalInvested / s.TokensAcquired
}

// Reason labels why an execution happened
type Reason string

const (
	ReasonScheduled Reason = "scheduled"
	ReasonPriceDip  Reason = "price_dip"
	ReasonMomentum  Reason = "momentum_signal"
	ReasonGridLevel Reason = "grid_level"
	ReasonAISignal  Reason = "ai_signal"
	ReasonManual    Reason = "manual_trigger"
)

// MarketConditions is what a cycle saw before sizing
type MarketConditions struct {
	Price         float64  `json:"price"`
	Volume24h     float64  `json:"volume_24h"`
	VolatilityPct float64  `json:"volatility_pct"` // annualized
	RSI           *float64 `json:"rsi,omitempty"`
	RecentHigh    float64  `json:"recent_high"`
	Confidence    *float64 `json:"confidence,omitempty"`
}

// Execution is one attempt, successful or not
type Execution struct {
	ID           string           `json:"id"`
	StrategyID   string           `json:"strategy_id"`
	Owner        string           `json:"owner"`
	Token        string           `json:"token"`
	ExecutedAt   time.Time        `json:"executed_at"`
	InputAmount  float64          `json:"input_amount"`
	OutputAmount float64          `json:"output_amount"`
	Price        float64          `json:"price"`
	SlippageBps  float64          `json:"slippage_bps"`
	Fee          float64          `json:"fee"`
	TxSignature  string           `json:"tx_signature,omitempty"`
	Reason       Reason           `json:"reason"`
	Market       MarketConditions `json:"market"`
	RiskScore    *float64         `json:"risk_score,omitempty"`
	Success      bool             `json:"success"`
	Error        string           `json:"error,omitempty"`
}

// Performance summarizes a strategy's executions at the current price
type Performance struct {
	StrategyID       string  `json:"strategy_id"`
	TotalInvested    float64 `json:"total_invested"`
	TokensAcquired   float64 `json:"tokens_acquired"`
	AverageEntry     float64 `json:"average_entry"`
	CurrentPrice     float64 `json:"current_price"`
	CurrentValue     float64 `json:"current_value"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
	TotalFees        float64 `json:"total_fees"`
	Executions       int     `json:"executions"`
	SuccessRate      float64 `json:"success_rate"` // percent
	BestPrice        float64 `json:"best_price"`
	WorstPrice       float64 `json:"worst_price"`
}
