package market

import (
	"context"
	"time"

	"github.com/ducminhle1904/trade-automation/pkg/types"
)

// PriceOracle returns the current USD price and 24h volume for tokens
type PriceOracle interface {
	GetPrices(ctx context.Context, tokens []string) (map[string]types.PriceData, error)
}

// CandleSource is optionally implemented by oracles that can backfill history
type CandleSource interface {
	GetCandles(ctx context.Context, token string, interval time.Duration, limit int) ([]types.OHLCV, error)
}
