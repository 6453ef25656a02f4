package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

// KlineInterval represents the time interval for kline data
type KlineInterval string

const (
	Interval1m  KlineInterval = "1"
	Interval5m  KlineInterval = "5"
	Interval15m KlineInterval = "15"
	Interval1h  KlineInterval = "60"
	Interval4h  KlineInterval = "240"
	Interval1d  KlineInterval = "D"
)

// IntervalFor picks the widest supported kline interval not exceeding d
func IntervalFor(d time.Duration) KlineInterval {
	switch {
	case d >= 24*time.Hour:
		return Interval1d
	case d >= 4*time.Hour:
		return Interval4h
	case d >= time.Hour:
		return Interval1h
	case d >= 15*time.Minute:
		return Interval15m
	case d >= 5*time.Minute:
		return Interval5m
	default:
		return Interval1m
	}
}

// Kline represents a single kline/candlestick data point
type Kline struct {
	StartTime  time.Time
	OpenPrice  float64
	HighPrice  float64
	LowPrice   float64
	ClosePrice float64
	Volume     float64
	Turnover   float64
}

// Ticker is the 24h market summary of one symbol
type Ticker struct {
	Symbol      string
	LastPrice   float64
	Volume24h   float64 // base asset volume
	Turnover24h float64 // quote asset volume
}

// GetKlines fetches up to limit klines, oldest first
func (c *Client) GetKlines(ctx context.Context, symbol string, interval KlineInterval, limit int) ([]Kline, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}

	params := map[string]interface{}{
		"category": c.category,
		"symbol":   symbol,
		"interval": string(interval),
		"limit":    limit,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", err)
	}

	klines, err := parseKlineResponse(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse kline response: %w", err)
	}
	return klines, nil
}

// GetTickers fetches 24h tickers for the whole category
func (c *Client) GetTickers(ctx context.Context) ([]Ticker, error) {
	params := map[string]interface{}{
		"category": c.category,
	}

	result, err := c.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get tickers: %w", err)
	}

	tickers, err := parseTickerResponse(result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ticker response: %w", err)
	}
	return tickers, nil
}

// decodeResult unwraps a ServerResponse into out
func decodeResult(response interface{}, out interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return fmt.Errorf("invalid response type")
	}

	if serverResp.RetCode != 0 {
		return &BybitError{Code: serverResp.RetCode, Message: serverResp.RetMsg}
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return json.Unmarshal(resultBytes, out)
}

// parseKlineResponse parses the API response into Kline structs
func parseKlineResponse(response interface{}) ([]Kline, error) {
	var klineResult struct {
		Symbol   string     `json:"symbol"`
		Category string     `json:"category"`
		List     [][]string `json:"list"`
	}
	if err := decodeResult(response, &klineResult); err != nil {
		return nil, err
	}

	var klines []Kline
	for _, item := range klineResult.List {
		if len(item) < 7 {
			continue // Skip incomplete data
		}

		// Bybit kline format: [startTime, openPrice, highPrice, lowPrice, closePrice, volume, turnover]
		klines = append(klines, Kline{
			StartTime:  time.UnixMilli(parseInt64(item[0])),
			OpenPrice:  parseFloat64(item[1]),
			HighPrice:  parseFloat64(item[2]),
			LowPrice:   parseFloat64(item[3]),
			ClosePrice: parseFloat64(item[4]),
			Volume:     parseFloat64(item[5]),
			Turnover:   parseFloat64(item[6]),
		})
	}

	// Bybit returns newest first
	sort.Slice(klines, func(i, j int) bool { return klines[i].StartTime.Before(klines[j].StartTime) })
	return klines, nil
}

// parseTickerResponse parses the ticker list
func parseTickerResponse(response interface{}) ([]Ticker, error) {
	var tickerResult struct {
		Category string `json:"category"`
		List     []struct {
			Symbol      string `json:"symbol"`
			LastPrice   string `json:"lastPrice"`
			Volume24h   string `json:"volume24h"`
			Turnover24h string `json:"turnover24h"`
		} `json:"list"`
	}
	if err := decodeResult(response, &tickerResult); err != nil {
		return nil, err
	}

	tickers := make([]Ticker, 0, len(tickerResult.List))
	for _, t := range tickerResult.List {
		tickers = append(tickers, Ticker{
			Symbol:      t.Symbol,
			LastPrice:   parseFloat64(t.LastPrice),
			Volume24h:   parseFloat64(t.Volume24h),
			Turnover24h: parseFloat64(t.Turnover24h),
		})
	}
	return tickers, nil
}

func parseFloat64(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt64(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
