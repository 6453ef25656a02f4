package dca

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fptr(v float64) *float64 { return &v }

func strategyOf(t StrategyType) *Strategy {
	return &Strategy{
		TotalAmount:        1000,
		AmountPerExecution: 100,
		MaxMultiplier:      3,
		Type:               t,
	}
}

func TestSize_Policies(t *testing.T) {
	grid := func() StrategyType {
		return StrategyType{Kind: KindGrid, Grid: &GridParams{Levels: []GridLevel{
			{Price: 90, AllocationPct: 20},
			{Price: 80, AllocationPct: 30},
			{Price: 70, AllocationPct: 50},
		}}}
	}
	dip := StrategyType{Kind: KindBuyTheDip, BuyTheDip: &BuyTheDipParams{DipThreshold: 10, Multiplier: 2}}
	momentum := StrategyType{Kind: KindMomentum, Momentum: &MomentumParams{RSIPeriod: 14, Oversold: 30, Overbought: 70}}
	ai := StrategyType{Kind: KindAIEnhanced, AIEnhanced: &AIEnhancedParams{ConfidenceThreshold: 0.6}}

	tests := []struct {
		name   string
		typ    StrategyType
		mc     MarketConditions
		amount float64
		reason Reason
		skip   string
		fills  []int
	}{
		{"fixed", StrategyType{Kind: KindFixed}, MarketConditions{Price: 10}, 100, ReasonScheduled, "", nil},
		{"value averaging first period", StrategyType{Kind: KindValueAveraging, ValueAveraging: &ValueAveragingParams{TargetGrowthPct: 10}},
			MarketConditions{Price: 10}, 110, ReasonScheduled, "", nil},
		{"dip with volume", dip, MarketConditions{Price: 85, RecentHigh: 100, Volume24h: 2_000_000}, 300, ReasonPriceDip, "", nil},
		{"dip without volume", dip, MarketConditions{Price: 85, RecentHigh: 100, Volume24h: 500_000}, 200, ReasonPriceDip, "", nil},
		{"no dip", dip, MarketConditions{Price: 95, RecentHigh: 100}, 100, ReasonScheduled, "", nil},
		{"oversold", momentum, MarketConditions{Price: 10, RSI: fptr(15)}, 150, ReasonMomentum, "", nil},
		{"overbought", momentum, MarketConditions{Price: 10, RSI: fptr(80)}, 50, ReasonScheduled, "", nil},
		{"neutral rsi", momentum, MarketConditions{Price: 10, RSI: fptr(50)}, 100, ReasonScheduled, "", nil},
		{"rsi unavailable", momentum, MarketConditions{Price: 10}, 100, ReasonScheduled, "", nil},
		{"one grid level", grid(), MarketConditions{Price: 85}, 200, ReasonGridLevel, "", []int{0}},
		{"two grid levels", grid(), MarketConditions{Price: 75}, 500, ReasonGridLevel, "", []int{0, 1}},
		{"above grid", grid(), MarketConditions{Price: 95}, 0, "", SkipNoGridLevel, nil},
		{"default confidence too low", ai, MarketConditions{Price: 10}, 0, "", SkipLowConfidence, nil},
		{"confident", ai, MarketConditions{Price: 10, Confidence: fptr(0.8)}, 130, ReasonAISignal, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := size(strategyOf(tt.typ), tt.mc)
			assert.Equal(t, tt.skip, d.Skip)
			assert.InDelta(t, tt.amount, d.Amount, 1e-9)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.fills, d.GridFills)
		})
	}
}

func TestSize_ValueAveragingBuysTheShortfall(t *testing.T) {
	s := strategyOf(StrategyType{Kind: KindValueAveraging, ValueAveraging: &ValueAveragingParams{TargetGrowthPct: 10}})
	s.ExecutionCount = 1
	s.TokensAcquired = 20

	// target 100·2·1.1² = 242, holding 20·10 = 200
	d := size(s, MarketConditions{Price: 10})
	assert.InDelta(t, 42, d.Amount, 1e-9)

	s.TokensAcquired = 100
	assert.Equal(t, SkipTargetReached, size(s, MarketConditions{Price: 10}).Skip)
}

func TestSize_CapsAtRemainingBudget(t *testing.T) {
	s := strategyOf(StrategyType{Kind: KindFixed})
	s.TotalInvested = 950
	assert.InDelta(t, 50, size(s, MarketConditions{Price: 10}).Amount, 1e-9)

	s.TotalInvested = 1000
	assert.Equal(t, SkipBudgetSpent, size(s, MarketConditions{Price: 10}).Skip)
}

func TestSize_CapsAtMaxMultiplier(t *testing.T) {
	s := strategyOf(StrategyType{Kind: KindBuyTheDip, BuyTheDip: &BuyTheDipParams{DipThreshold: 5, Multiplier: 4}})
	s.MaxMultiplier = 2
	d := size(s, MarketConditions{Price: 50, RecentHigh: 100})
	assert.InDelta(t, 200, d.Amount, 1e-9)
}

func TestRiskGate(t *testing.T) {
	p := DefaultRiskParameters()
	assert.Equal(t, SkipHighVolatility, riskGate(p, MarketConditions{VolatilityPct: 60, Volume24h: 1e6}))
	assert.Equal(t, SkipLowLiquidity, riskGate(p, MarketConditions{VolatilityPct: 10, Volume24h: 5000}))
	assert.Empty(t, riskGate(p, MarketConditions{VolatilityPct: 10, Volume24h: 1e6}))

	p.VolatilityThreshold = 0
	assert.Empty(t, riskGate(p, MarketConditions{VolatilityPct: 500, Volume24h: 1e6}))
}

func TestRiskExit(t *testing.T) {
	s := &Strategy{TotalInvested: 1000, TokensAcquired: 10, Risk: RiskParameters{
		StopLossPct:    fptr(10),
		TakeProfitPct:  fptr(50),
		MaxDrawdownPct: 20,
	}}
	tests := []struct {
		price float64
		want  string
	}{
		{100, ""},
		{89, "stop_loss"},
		{151, "take_profit"},
	}
	for _, tt := range tests {
		got, hit := riskExit(s, tt.price)
		assert.Equal(t, tt.want, got, "price %.0f", tt.price)
		assert.Equal(t, tt.want != "", hit)
	}

	s.Risk.StopLossPct = nil
	got, hit := riskExit(s, 79)
	assert.True(t, hit)
	assert.Equal(t, "max_drawdown", got)

	_, hit = riskExit(&Strategy{Risk: s.Risk}, 1)
	assert.False(t, hit, "no position yet")
}

func TestInterval_Next(t *testing.T) {
	from := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		interval Interval
		want     time.Time
	}{
		{"minutes", Every(15), from.Add(15 * time.Minute)},
		{"hourly", Interval{Kind: IntervalHourly}, from.Add(time.Hour)},
		{"daily", Daily(), from.Add(24 * time.Hour)},
		{"weekly", Interval{Kind: IntervalWeekly}, from.AddDate(0, 0, 7)},
		{"biweekly", Interval{Kind: IntervalBiweekly}, from.AddDate(0, 0, 14)},
		{"monthly", Interval{Kind: IntervalMonthly}, from.AddDate(0, 0, 30)},
		{"cron", CronInterval("0 9 * * *"), time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.interval.Next(from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := CronInterval("not a cron").Next(from)
	assert.Error(t, err)
	_, err = Every(0).Next(from)
	assert.Error(t, err)
}

func TestValidateType(t *testing.T) {
	tests := []struct {
		name string
		typ  StrategyType
		ok   bool
	}{
		{"fixed", StrategyType{Kind: KindFixed}, true},
		{"missing payload", StrategyType{Kind: KindBuyTheDip}, false},
		{"dip multiplier below one", StrategyType{Kind: KindBuyTheDip, BuyTheDip: &BuyTheDipParams{DipThreshold: 5, Multiplier: 0.5}}, false},
		{"inverted rsi bands", StrategyType{Kind: KindMomentum, Momentum: &MomentumParams{Oversold: 70, Overbought: 30}}, false},
		{"grid over-allocated", StrategyType{Kind: KindGrid, Grid: &GridParams{Levels: []GridLevel{
			{Price: 1, AllocationPct: 60}, {Price: 2, AllocationPct: 50},
		}}}, false},
		{"empty grid", StrategyType{Kind: KindGrid, Grid: &GridParams{}}, false},
		{"confidence out of range", StrategyType{Kind: KindAIEnhanced, AIEnhanced: &AIEnhancedParams{ConfidenceThreshold: 1.5}}, false},
		{"unknown", StrategyType{Kind: "martingale"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateType(tt.typ)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
