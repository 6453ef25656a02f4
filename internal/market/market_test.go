package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/safety"
	"github.com/ducminhle1904/trade-automation/pkg/types"
)

type fakeOracle struct {
	prices map[string]types.PriceData
	err    error
	calls  int
}

func (f *fakeOracle) GetPrices(ctx context.Context, tokens []string) (map[string]types.PriceData, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]types.PriceData)
	for _, t := range tokens {
		if pd, ok := f.prices[t]; ok {
			out[t] = pd
		}
	}
	return out, nil
}

type fakeCandleOracle struct {
	fakeOracle
	candles []types.OHLCV
}

func (f *fakeCandleOracle) GetCandles(ctx context.Context, token string, interval time.Duration, limit int) ([]types.OHLCV, error) {
	return f.candles, nil
}

func TestTokenResolver_Resolve(t *testing.T) {
	r := NewTokenResolver(map[string]string{"jup": "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN"})

	mint, err := r.Resolve("sol")
	require.NoError(t, err)
	assert.Equal(t, SOLMint, mint)

	mint, err = r.Resolve("JUP")
	require.NoError(t, err)
	assert.Equal(t, "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", mint)

	mint, err = r.Resolve(BONKMint)
	require.NoError(t, err)
	assert.Equal(t, BONKMint, mint)

	_, err = r.Resolve("NOTATOKEN")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	assert.Equal(t, "USDC", r.Symbol(USDCMint))
	assert.Equal(t, "abcd...wxyz", r.Symbol("abcdefghijklmnopqrstuvwxyz"))
	assert.True(t, r.IsStablecoin(USDCMint))
	assert.False(t, r.IsStablecoin("SOL"))
}

func TestMonitors_LazyCreateAndSnapshot(t *testing.T) {
	m := NewMonitors(nil, nil, time.Minute, nil)

	_, ok := m.Snapshot("X")
	assert.False(t, ok)

	m.Ensure("X")
	m.Ensure("X")
	assert.Equal(t, []string{"X"}, m.Tokens())

	_, ok = m.Snapshot("X")
	assert.False(t, ok, "no price yet")

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.Update("X", types.PriceData{USDPrice: 100, Volume24h: 1000, Timestamp: base})
	m.Update("X", types.PriceData{USDPrice: 104, Volume24h: 3000, Timestamp: base.Add(10 * time.Second)})
	m.Update("X", types.PriceData{USDPrice: 98, Volume24h: 2000, Timestamp: base.Add(70 * time.Second)})

	s, ok := m.Snapshot("X")
	require.True(t, ok)
	assert.Equal(t, 98.0, s.Price)
	assert.Equal(t, []float64{100, 104, 98}, s.Prices())

	prev, ok := s.PreviousPrice()
	require.True(t, ok)
	assert.Equal(t, 104.0, prev)
	assert.Equal(t, 2000.0, s.AverageVolume())

	require.Len(t, s.Candles, 2)
	assert.Equal(t, 100.0, s.Candles[0].Open)
	assert.Equal(t, 104.0, s.Candles[0].High)
	assert.Equal(t, 104.0, s.Candles[0].Close)
	assert.Equal(t, 98.0, s.Candles[1].Open)

	p, ok := s.PriceAt(base.Add(20 * time.Second))
	require.True(t, ok)
	assert.Equal(t, 104.0, p)
}

func TestMonitors_HistoryIsBounded(t *testing.T) {
	m := NewMonitors(nil, nil, time.Second, nil)
	base := time.Now()
	for i := 0; i < MaxHistory+50; i++ {
		m.Update("X", types.PriceData{USDPrice: float64(i + 1), Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	s, ok := m.Snapshot("X")
	require.True(t, ok)
	assert.Len(t, s.History, MaxHistory)
	assert.Len(t, s.Candles, MaxCandles)
	assert.Equal(t, 51.0, s.History[0].Price)
}

func TestMonitors_Refresh(t *testing.T) {
	oracle := &fakeOracle{prices: map[string]types.PriceData{
		"A": {USDPrice: 10, Volume24h: 5},
	}}
	m := NewMonitors(oracle, nil, time.Minute, nil)
	m.Ensure("A")
	m.Ensure("B")

	require.NoError(t, m.Refresh(context.Background()))

	s, ok := m.Snapshot("A")
	require.True(t, ok)
	assert.Equal(t, 10.0, s.Price)

	_, ok = m.Snapshot("B")
	assert.False(t, ok)
}

func TestMonitors_RefreshBackfillsCandles(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	oracle := &fakeCandleOracle{
		fakeOracle: fakeOracle{prices: map[string]types.PriceData{"A": {USDPrice: 12, Timestamp: base.Add(time.Hour)}}},
		candles: []types.OHLCV{
			{Open: 9, High: 11, Low: 8, Close: 10, Timestamp: base},
			{Open: 10, High: 12, Low: 9, Close: 11, Timestamp: base.Add(time.Minute)},
		},
	}
	m := NewMonitors(oracle, nil, time.Minute, nil)
	m.Ensure("A")

	require.NoError(t, m.Refresh(context.Background()))

	s, ok := m.Snapshot("A")
	require.True(t, ok)
	assert.Equal(t, []float64{10, 11, 12}, s.Prices())
	assert.Len(t, s.Candles, 3)
}

func TestMonitors_RefreshThroughOpenBreaker(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("boom")}
	breaker := safety.NewCircuitBreaker("price-oracle", safety.CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})
	m := NewMonitors(oracle, breaker, time.Minute, nil)
	m.Ensure("A")

	assert.Error(t, m.Refresh(context.Background()))
	err := m.Refresh(context.Background())
	assert.True(t, apperrors.IsKind(err, apperrors.KindServiceUnavailable))
	assert.Equal(t, 1, oracle.calls)
}
