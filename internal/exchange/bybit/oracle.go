package bybit

import (
	"context"
	"fmt"
	"time"

	"github.com/ducminhle1904/trade-automation/internal/safety"
	"github.com/ducminhle1904/trade-automation/pkg/types"
)

// MarketAPI is the subset of the client the oracle needs
type MarketAPI interface {
	GetTickers(ctx context.Context) ([]Ticker, error)
	GetKlines(ctx context.Context, symbol string, interval KlineInterval, limit int) ([]Kline, error)
}

// Oracle serves token prices from Bybit USDT pairs.
// Tokens are mapped to symbols explicitly; stablecoins are priced at 1 without a request.
type Oracle struct {
	api         MarketAPI
	symbols     map[string]string // token -> symbol
	stablecoins map[string]bool
	limiter     *safety.RateLimiter
	now         func() time.Time
}

// NewOracle creates an oracle over api. limiter may be nil.
func NewOracle(api MarketAPI, symbols map[string]string, stablecoins []string, limiter *safety.RateLimiter) *Oracle {
	o := &Oracle{
		api:         api,
		symbols:     make(map[string]string, len(symbols)),
		stablecoins: make(map[string]bool, len(stablecoins)),
		limiter:     limiter,
		now:         time.Now,
	}
	for token, symbol := range symbols {
		o.symbols[token] = symbol
	}
	for _, s := range stablecoins {
		o.stablecoins[s] = true
	}
	return o
}

func (o *Oracle) wait(ctx context.Context) error {
	if o.limiter == nil {
		return nil
	}
	return o.limiter.Wait(ctx)
}

// GetPrices returns price and quote-denominated 24h volume for every token it can map.
// Unmapped tokens are omitted from the result.
func (o *Oracle) GetPrices(ctx context.Context, tokens []string) (map[string]types.PriceData, error) {
	now := o.now()
	out := make(map[string]types.PriceData, len(tokens))

	need := false
	for _, t := range tokens {
		if o.stablecoins[t] {
			out[t] = types.PriceData{Token: t, USDPrice: 1, Timestamp: now}
			continue
		}
		if _, ok := o.symbols[t]; ok {
			need = true
		}
	}
	if !need {
		return out, nil
	}

	if err := o.wait(ctx); err != nil {
		return nil, err
	}
	tickers, err := o.api.GetTickers(ctx)
	if err != nil {
		return nil, err
	}

	bySymbol := make(map[string]Ticker, len(tickers))
	for _, tk := range tickers {
		bySymbol[tk.Symbol] = tk
	}

	for _, t := range tokens {
		symbol, ok := o.symbols[t]
		if !ok {
			continue
		}
		tk, ok := bySymbol[symbol]
		if !ok || tk.LastPrice <= 0 {
			continue
		}
		out[t] = types.PriceData{
			Token:     t,
			USDPrice:  tk.LastPrice,
			Volume24h: tk.Turnover24h,
			Timestamp: now,
		}
	}
	return out, nil
}

// GetCandles backfills candle history for a token
func (o *Oracle) GetCandles(ctx context.Context, token string, interval time.Duration, limit int) ([]types.OHLCV, error) {
	symbol, ok := o.symbols[token]
	if !ok {
		return nil, fmt.Errorf("no market symbol configured for token %s", token)
	}
	if err := o.wait(ctx); err != nil {
		return nil, err
	}

	klines, err := o.api.GetKlines(ctx, symbol, IntervalFor(interval), limit)
	if err != nil {
		return nil, err
	}

	candles := make([]types.OHLCV, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, types.OHLCV{
			Open:      k.OpenPrice,
			High:      k.HighPrice,
			Low:       k.LowPrice,
			Close:     k.ClosePrice,
			Volume:    k.Turnover,
			Timestamp: k.StartTime,
		})
	}
	return candles, nil
}
