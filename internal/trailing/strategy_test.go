package trailing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/market"
	"github.com/ducminhle1904/trade-automation/pkg/types"
)

func ptr(v float64) *float64 { return &v }

func TestCurve(t *testing.T) {
	tests := []struct {
		kind CurveType
		p    float64
		want float64
	}{
		{CurveLinear, 0.5, 0.5},
		{CurveExponential, 0.5, 0.25},
		{CurveLogarithmic, 0, 0},
		{CurveLogarithmic, 1, 1},
		{CurveExponential, 1, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.InDelta(t, tt.want, curve(tt.kind, tt.p), 1e-9)
		})
	}
}

func TestTimeBasedPct(t *testing.T) {
	linear := &TimeBasedParams{InitialPercentage: 10, FinalPercentage: 2, Period: time.Hour, Curve: CurveLinear}
	assert.InDelta(t, 10, timeBasedPct(linear, 0), 1e-9)
	assert.InDelta(t, 6, timeBasedPct(linear, 30*time.Minute), 1e-9)
	assert.InDelta(t, 2, timeBasedPct(linear, 2*time.Hour), 1e-9, "progress is capped at the period")

	step := &TimeBasedParams{Period: time.Hour, Curve: CurveStep, Steps: []float64{8, 5, 3}}
	assert.Equal(t, 8.0, timeBasedPct(step, 10*time.Minute))
	assert.Equal(t, 5.0, timeBasedPct(step, 30*time.Minute))
	assert.Equal(t, 3.0, timeBasedPct(step, time.Hour))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 5.0, clamp(5, 1, 10))
	assert.Equal(t, 10.0, clamp(50, 1, 10))
	assert.Equal(t, 1.0, clamp(0.1, 1, 10))
	assert.Equal(t, 50.0, clamp(50, 1, 0), "zero upper bound means unbounded")
}

func TestInitialStop(t *testing.T) {
	assert.InDelta(t, 95, initialStop(PercentageStrategy(5), Long, 100), 1e-9)
	assert.InDelta(t, 105, initialStop(PercentageStrategy(5), Short, 100), 1e-9)
	fixed := Strategy{Kind: KindFixedAmount, FixedAmount: &FixedAmountParams{TrailingAmount: 3}}
	assert.InDelta(t, 97, initialStop(fixed, Long, 100), 1e-9)
	atr := Strategy{Kind: KindATR, ATR: &ATRParams{Multiplier: 2}}
	assert.InDelta(t, 95, initialStop(atr, Long, 100), 1e-9)
}

func TestValidateStrategy(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		ok       bool
	}{
		{"percentage", PercentageStrategy(5), true},
		{"percentage zero", PercentageStrategy(0), false},
		{"percentage hundred", PercentageStrategy(100), false},
		{"percentage missing params", Strategy{Kind: KindPercentage}, false},
		{"fixed", Strategy{Kind: KindFixedAmount, FixedAmount: &FixedAmountParams{TrailingAmount: 1}}, true},
		{"fixed negative", Strategy{Kind: KindFixedAmount, FixedAmount: &FixedAmountParams{TrailingAmount: -1}}, false},
		{"atr inverted bounds", Strategy{Kind: KindATR, ATR: &ATRParams{Multiplier: 2, MinTrailingAmount: 5, MaxTrailingAmount: 1}}, false},
		{"volatility", Strategy{Kind: KindVolatilityAdjusted, Volatility: &VolatilityParams{BasePercentage: 3, VolatilityMultiplier: 1}}, true},
		{"adaptive", Strategy{Kind: KindAdaptive, Adaptive: &AdaptiveParams{BasePercentage: 4}}, true},
		{"time based without period", Strategy{Kind: KindTimeBased, TimeBased: &TimeBasedParams{InitialPercentage: 5, FinalPercentage: 2}}, false},
		{"step without steps", Strategy{Kind: KindTimeBased, TimeBased: &TimeBasedParams{Period: time.Hour, Curve: CurveStep}}, false},
		{"levels", Strategy{Kind: KindTechnicalLevels, TechnicalLevels: &TechnicalLevelsParams{BufferPercentage: 0.5, MaxTrailPercentage: 8}}, true},
		{"unknown", Strategy{Kind: "moon"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateStrategy(tt.strategy)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindValidation))
		})
	}
}

func TestCandidateStop_ActivationThreshold(t *testing.T) {
	st := &State{
		Side:        Long,
		EntryPrice:  100,
		CurrentStop: 95,
		Strategy:    Strategy{Kind: KindPercentage, Percentage: &PercentageParams{TrailingPercentage: 5, ActivationThreshold: ptr(10)}},
	}
	_, ok := candidateStop(st, 105, marketView{}, time.Now())
	assert.False(t, ok, "5% profit is below the 10% activation")

	stop, ok := candidateStop(st, 120, marketView{}, time.Now())
	require.True(t, ok)
	assert.InDelta(t, 114, stop, 1e-9)
}

func TestCandidateStop_FixedAmountShort(t *testing.T) {
	st := &State{
		Side:       Short,
		EntryPrice: 100,
		Strategy:   Strategy{Kind: KindFixedAmount, FixedAmount: &FixedAmountParams{TrailingAmount: 4, ActivationThreshold: ptr(5)}},
	}
	_, ok := candidateStop(st, 97, marketView{}, time.Now())
	assert.False(t, ok)

	stop, ok := candidateStop(st, 90, marketView{}, time.Now())
	require.True(t, ok)
	assert.InDelta(t, 94, stop, 1e-9)
}

func flatCandles(n int, price, spread float64) []types.OHLCV {
	out := make([]types.OHLCV, n)
	start := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = types.OHLCV{Open: price, High: price + spread, Low: price - spread, Close: price, Volume: 1000, Timestamp: start.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func TestCandidateStop_ATR(t *testing.T) {
	view := marketView{snap: market.Snapshot{Candles: flatCandles(30, 100, 1)}}
	st := &State{Side: Long, EntryPrice: 100, Strategy: Strategy{Kind: KindATR, ATR: &ATRParams{Multiplier: 2, Periods: 14}}}

	stop, ok := candidateStop(st, 100, view, time.Now())
	require.True(t, ok)
	assert.InDelta(t, 96, stop, 1e-6, "true range of 2 times multiplier 2")

	st.Strategy.ATR.MaxTrailingAmount = 3
	stop, ok = candidateStop(st, 100, view, time.Now())
	require.True(t, ok)
	assert.InDelta(t, 97, stop, 1e-6)

	_, ok = candidateStop(st, 100, marketView{}, time.Now())
	assert.False(t, ok, "no candles means no atr")
}

func TestCandidateStop_TimeBased(t *testing.T) {
	created := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	st := &State{
		Side:      Long,
		CreatedAt: created,
		Strategy: Strategy{Kind: KindTimeBased, TimeBased: &TimeBasedParams{
			InitialPercentage: 10, FinalPercentage: 2, Period: time.Hour, Curve: CurveLinear,
		}},
	}
	stop, ok := candidateStop(st, 100, marketView{}, created.Add(30*time.Minute))
	require.True(t, ok)
	assert.InDelta(t, 94, stop, 1e-9)
}

func TestAdaptivePct_Clamped(t *testing.T) {
	a := &AdaptiveParams{BasePercentage: 4, SentimentFactor: 10, MaxPercentage: 6}
	assert.InDelta(t, 6, adaptivePct(a, marketView{sentiment: 1}), 1e-9)

	a = &AdaptiveParams{BasePercentage: 4, SentimentFactor: 1}
	assert.InDelta(t, defaultAdaptiveMin, adaptivePct(a, marketView{sentiment: -1}), 1e-9)
	assert.InDelta(t, 4, adaptivePct(a, marketView{}), 1e-9)
}

func TestFindLevels(t *testing.T) {
	lows := []float64{100, 98, 95, 98, 100, 98, 95.2, 98, 100, 98, 95.1, 98, 100}
	candles := make([]types.OHLCV, len(lows))
	for i, l := range lows {
		candles[i] = types.OHLCV{Low: l, High: l + 2, Open: l + 1, Close: l + 1}
	}

	supports, resistances := findLevels(candles)
	require.Len(t, supports, 1)
	assert.Equal(t, 3, supports[0].Touches)
	assert.InDelta(t, 1, supports[0].Strength, 1e-9)
	assert.InDelta(t, 95.1, supports[0].Price, 1e-9)
	assert.NotEmpty(t, resistances)

	l, ok := nearestLevel(supports, 101, 0.9, Long)
	require.True(t, ok)
	assert.InDelta(t, 95.1, l.Price, 1e-9)

	_, ok = nearestLevel(supports, 90, 0.9, Long)
	assert.False(t, ok, "support above price does not protect a long")
}

func TestCluster(t *testing.T) {
	levels := cluster([]float64{100, 100.2, 110})
	require.Len(t, levels, 2)
	assert.Equal(t, 2, levels[0].Touches)
	assert.InDelta(t, 100.1, levels[0].Price, 1e-9)
	assert.InDelta(t, 2.0/3, levels[0].Strength, 1e-9)
	assert.Equal(t, 1, levels[1].Touches)
}
