package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/market"
	"github.com/ducminhle1904/trade-automation/internal/regime"
	"github.com/ducminhle1904/trade-automation/pkg/types"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestManager() *Manager {
	m := NewManager(market.NewMonitors(nil, nil, time.Minute, nil), nil)
	m.SetClock(func() time.Time { return epoch })
	return m
}

func TestManager_KellyRecommendation(t *testing.T) {
	m := newTestManager()
	_, err := m.CreateModel("", "SOL", ModelType{Kind: ModelKelly, Kelly: &KellyModel{WinRate: 0.6, AvgWin: 2, AvgLoss: 1}}, nil)
	require.NoError(t, err)

	rec, err := m.Recommend(context.Background(), RecommendRequest{StrategyID: "s1", Token: "SOL", BaseAmount: 100})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, rec.Factor, 1e-12)
	assert.InDelta(t, 10, rec.Amount, 1e-9)
	assert.Equal(t, regime.RegimeSideways, rec.Regime.Type, "short history falls back to sideways")
	assert.Equal(t, ReasonScheduled, rec.Reason)
	assert.InDelta(t, 0.5, rec.Confidence, 1e-12)
}

func TestManager_RecommendCapsAtMaxPosition(t *testing.T) {
	m := newTestManager()
	_, err := m.CreateModel("", "SOL", ModelType{Kind: ModelRegime, Regime: &RegimeModel{
		BullMultiplier: 1.5, BearMultiplier: 0.5, SidewaysMultiplier: 2,
	}}, nil)
	require.NoError(t, err)

	rec, err := m.Recommend(context.Background(), RecommendRequest{Token: "SOL", BaseAmount: 8000})
	require.NoError(t, err)
	assert.InDelta(t, 2, rec.Factor, 1e-12)
	assert.InDelta(t, DefaultParameters().MaxPositionSize, rec.Amount, 1e-9)
}

func TestManager_DefaultModelOnDemand(t *testing.T) {
	m := newTestManager()
	_, ok := m.GetModel("BONK")
	require.False(t, ok)

	_, err := m.Recommend(context.Background(), RecommendRequest{Token: "BONK", BaseAmount: 50})
	require.NoError(t, err)

	model, ok := m.GetModel("BONK")
	require.True(t, ok)
	assert.Equal(t, ModelVolatility, model.Type.Kind)
	assert.InDelta(t, 0.5, model.Type.Volatility.VolatilityThreshold, 1e-12)
}

func TestManager_VolatilityModelShrinksSize(t *testing.T) {
	m := newTestManager()
	_, err := m.CreateModel("", "SOL", DefaultModelType(), nil)
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		price := 100.0
		if i%2 == 1 {
			price = 130
		}
		require.True(t, m.Update("SOL", types.PricePoint{Price: price, Volume: 1e6, Timestamp: epoch.Add(time.Duration(i) * 24 * time.Hour)}))
	}
	model, _ := m.GetModel("SOL")
	assert.Equal(t, 30, model.Metrics.Samples, "lookback window")
	assert.Greater(t, model.Metrics.Volatility, 1.0)

	rec, err := m.Recommend(context.Background(), RecommendRequest{Token: "SOL", BaseAmount: 100})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, rec.Factor, 1e-12)
	assert.InDelta(t, 70, rec.Amount, 1e-9)

	require.NotEmpty(t, rec.Factors)
	assert.Equal(t, FactorHighVolatility, rec.Factors[0].Kind)
	assert.Equal(t, SeverityHigh, rec.Factors[0].Severity)
	require.NotEmpty(t, rec.Hedges)
	assert.Equal(t, HedgePositionSizing, rec.Hedges[0].Kind)
}

func TestManager_UpdateBoundsAndIgnoresStalePoints(t *testing.T) {
	m := newTestManager()
	assert.False(t, m.Update("SOL", types.PricePoint{Price: 1, Timestamp: epoch}), "no model")

	_, err := m.CreateModel("", "SOL", DefaultModelType(), nil)
	require.NoError(t, err)
	for i := 0; i < MaxHistory+50; i++ {
		m.Update("SOL", types.PricePoint{Price: 100 + float64(i%7), Timestamp: epoch.Add(time.Duration(i) * time.Minute)})
	}
	m.Update("SOL", types.PricePoint{Price: 1, Timestamp: epoch})

	model, _ := m.GetModel("SOL")
	require.Len(t, model.History, MaxHistory)
	assert.NotEqual(t, 1.0, model.History[len(model.History)-1].Price)
	assert.InDelta(t, 1, model.Confidence, 1e-12)
}

func TestManager_SyncFromMonitors(t *testing.T) {
	monitors := market.NewMonitors(nil, nil, time.Minute, nil)
	m := NewManager(monitors, nil)
	_, err := m.CreateModel("", "SOL", DefaultModelType(), nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		monitors.Update("SOL", types.PriceData{Token: "SOL", USDPrice: 100 + float64(i), Volume24h: 1e6, Timestamp: epoch.Add(time.Duration(i) * time.Second)})
	}
	m.Sync()
	m.Sync()

	model, _ := m.GetModel("SOL")
	assert.Len(t, model.History, 5)
}

func TestManager_ModelsAreKeyedPerStrategy(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.CreateModel("kelly", "SOL", ModelType{Kind: ModelKelly, Kelly: &KellyModel{WinRate: 0.6, AvgWin: 2, AvgLoss: 1}}, nil)
	require.NoError(t, err)
	_, err = m.CreateModel("regime", "SOL", ModelType{Kind: ModelRegime, Regime: &RegimeModel{
		BullMultiplier: 2, BearMultiplier: 0.5, SidewaysMultiplier: 1.5,
	}}, nil)
	require.NoError(t, err)

	kelly, err := m.Recommend(ctx, RecommendRequest{StrategyID: "kelly", Token: "SOL", BaseAmount: 100})
	require.NoError(t, err)
	assert.InDelta(t, 10, kelly.Amount, 1e-9)

	reg, err := m.Recommend(ctx, RecommendRequest{StrategyID: "regime", Token: "SOL", BaseAmount: 100})
	require.NoError(t, err)
	assert.InDelta(t, 150, reg.Amount, 1e-9)

	_, ok := m.GetModel("SOL")
	assert.False(t, ok, "strategy models do not create a token default")

	require.True(t, m.Update("SOL", types.PricePoint{Price: 100, Timestamp: epoch}))
	a, _ := m.GetModel("kelly")
	b, _ := m.GetModel("regime")
	assert.Len(t, a.History, 1)
	assert.Len(t, b.History, 1)

	_, err = m.CreateModel("late", "SOL", DefaultModelType(), nil)
	require.NoError(t, err)
	late, _ := m.GetModel("late")
	assert.Len(t, late.History, 1, "new models start from the token history")

	assert.True(t, m.RemoveModel("kelly"))
	assert.False(t, m.RemoveModel("kelly"))
	_, ok = m.GetModel("regime")
	assert.True(t, ok)
}

func TestManager_RecreatingModelReplacesDetector(t *testing.T) {
	m := newTestManager()
	mt := func(periods int) ModelType {
		return ModelType{Kind: ModelRegime, Regime: &RegimeModel{
			BullMultiplier: 1, BearMultiplier: 1, SidewaysMultiplier: 1, DetectionPeriods: periods,
		}}
	}
	_, err := m.CreateModel("s1", "SOL", mt(30), nil)
	require.NoError(t, err)
	assert.Equal(t, 30, m.detectors["s1"].MinRequiredPoints())

	_, err = m.CreateModel("s1", "SOL", mt(90), nil)
	require.NoError(t, err)
	assert.Equal(t, 90, m.detectors["s1"].MinRequiredPoints())
}

func TestManager_CreateModelValidation(t *testing.T) {
	m := newTestManager()
	tests := []struct {
		name  string
		model ModelType
	}{
		{"unknown", ModelType{Kind: "black_litterman"}},
		{"kelly without params", ModelType{Kind: ModelKelly}},
		{"kelly certain win", ModelType{Kind: ModelKelly, Kelly: &KellyModel{WinRate: 1, AvgWin: 1, AvgLoss: 1}}},
		{"var bad confidence", ModelType{Kind: ModelVaR, VaR: &VaRModel{ConfidenceLevel: 95, MaxLossPercentage: 5}}},
		{"volatility full cut", ModelType{Kind: ModelVolatility, Volatility: &VolatilityModel{VolatilityThreshold: 0.5, AdjustmentFactor: 1}}},
		{"regime zero multiplier", ModelType{Kind: ModelRegime, Regime: &RegimeModel{BullMultiplier: 1, SidewaysMultiplier: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.CreateModel("", "SOL", tt.model, nil)
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindValidation))
		})
	}

	_, err := m.Recommend(context.Background(), RecommendRequest{Token: "SOL"})
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestScore(t *testing.T) {
	model := &Model{
		Params:  DefaultParameters(),
		Metrics: Metrics{Volatility: 1, MaxDrawdown: 20, VaR95: -10, Samples: 10},
	}
	score := Score(model, regime.Regime{Type: regime.RegimeBear}, 1_000_000)
	// 0.5*0.3 + 0.8*0.2 + 0.2*0.2 + 0.2*0.15 + 0.1*0.15
	assert.InDelta(t, 0.395, score, 1e-9)

	unknown := Score(&Model{Params: DefaultParameters()}, regime.Regime{Type: regime.RegimeBull}, 0)
	// 0 + 0.2*0.2 + 0 + 0.5*0.15 + 0.3*0.15
	assert.InDelta(t, 0.16, unknown, 1e-9)
}

func TestFactorsHedgesAndReason(t *testing.T) {
	model := &Model{Params: DefaultParameters(), Metrics: Metrics{Volatility: 1.2, MaxDrawdown: 35}}
	bear := regime.Regime{Type: regime.RegimeBear, Strength: 0.8}

	factors := identifyFactors(model, bear, 50_000)
	kinds := make([]FactorKind, len(factors))
	for i, f := range factors {
		kinds[i] = f.Kind
	}
	assert.Equal(t, []FactorKind{FactorHighVolatility, FactorLowLiquidity, FactorBearMarket, FactorDrawdown}, kinds)

	hs := hedges(factors)
	require.Len(t, hs, 3)
	assert.Equal(t, HedgeStopLoss, hs[2].Kind)
	require.NotNil(t, hs[2].EstimatedCost)
	assert.InDelta(t, 0.005, *hs[2].EstimatedCost, 1e-12)

	assert.Equal(t, ReasonPriceDip, executionReason(bear, factors))
	assert.Equal(t, ReasonMomentum, executionReason(regime.Regime{Type: regime.RegimeBull}, nil))
	assert.Equal(t, ReasonManual, executionReason(bear, []Factor{{Severity: SeverityCritical}}))

	transition := identifyFactors(&Model{}, regime.Regime{Type: regime.RegimeTransition, From: regime.RegimeBull}, 0)
	require.Len(t, transition, 1)
	assert.Equal(t, FactorRegimeTransition, transition[0].Kind)
}
