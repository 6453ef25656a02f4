package bybit

import (
	"context"
	"testing"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMarket struct {
	tickers     []Ticker
	klines      []Kline
	tickerCalls int
	lastSymbol  string
	lastInt     KlineInterval
}

func (f *fakeMarket) GetTickers(ctx context.Context) ([]Ticker, error) {
	f.tickerCalls++
	return f.tickers, nil
}

func (f *fakeMarket) GetKlines(ctx context.Context, symbol string, interval KlineInterval, limit int) ([]Kline, error) {
	f.lastSymbol = symbol
	f.lastInt = interval
	return f.klines, nil
}

func TestOracle_GetPrices(t *testing.T) {
	api := &fakeMarket{tickers: []Ticker{
		{Symbol: "SOLUSDT", LastPrice: 150, Volume24h: 1000, Turnover24h: 150000},
		{Symbol: "BONKUSDT", LastPrice: 0},
	}}
	o := NewOracle(api, map[string]string{"sol": "SOLUSDT", "bonk": "BONKUSDT"}, []string{"usdc"}, nil)

	prices, err := o.GetPrices(context.Background(), []string{"sol", "bonk", "usdc", "unknown"})
	require.NoError(t, err)

	assert.Equal(t, 150.0, prices["sol"].USDPrice)
	assert.Equal(t, 150000.0, prices["sol"].Volume24h)
	assert.Equal(t, 1.0, prices["usdc"].USDPrice)
	assert.NotContains(t, prices, "bonk")
	assert.NotContains(t, prices, "unknown")
	assert.Equal(t, 1, api.tickerCalls)
}

func TestOracle_StablecoinsOnlySkipsRequest(t *testing.T) {
	api := &fakeMarket{}
	o := NewOracle(api, nil, []string{"usdc"}, nil)

	prices, err := o.GetPrices(context.Background(), []string{"usdc"})
	require.NoError(t, err)
	assert.Len(t, prices, 1)
	assert.Equal(t, 0, api.tickerCalls)
}

func TestOracle_GetCandles(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	api := &fakeMarket{klines: []Kline{{StartTime: start, OpenPrice: 1, HighPrice: 2, LowPrice: 0.5, ClosePrice: 1.5, Turnover: 10}}}
	o := NewOracle(api, map[string]string{"sol": "SOLUSDT"}, nil, nil)

	candles, err := o.GetCandles(context.Background(), "sol", time.Hour, 100)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, 1.5, candles[0].Close)
	assert.Equal(t, "SOLUSDT", api.lastSymbol)
	assert.Equal(t, Interval1h, api.lastInt)

	_, err = o.GetCandles(context.Background(), "missing", time.Hour, 100)
	assert.Error(t, err)
}

func TestParseKlineResponse_SortsOldestFirst(t *testing.T) {
	resp := &bybit_api.ServerResponse{
		RetCode: 0,
		Result: map[string]interface{}{
			"symbol": "SOLUSDT",
			"list": []interface{}{
				[]interface{}{"1700000060000", "2", "3", "1", "2.5", "10", "25"},
				[]interface{}{"1700000000000", "1", "2", "0.5", "2", "10", "20"},
			},
		},
	}

	klines, err := parseKlineResponse(resp)
	require.NoError(t, err)
	require.Len(t, klines, 2)
	assert.Equal(t, 2.0, klines[0].ClosePrice)
	assert.Equal(t, 2.5, klines[1].ClosePrice)
}

func TestParseTickerResponse_APIError(t *testing.T) {
	_, err := parseTickerResponse(&bybit_api.ServerResponse{RetCode: ErrCodeRateLimitExceeded, RetMsg: "too many"})
	var be *BybitError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, ErrCodeRateLimitExceeded, be.Code)
}

func TestIntervalFor(t *testing.T) {
	assert.Equal(t, Interval1m, IntervalFor(30*time.Second))
	assert.Equal(t, Interval15m, IntervalFor(20*time.Minute))
	assert.Equal(t, Interval1d, IntervalFor(48*time.Hour))
}
