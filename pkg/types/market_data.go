package types

import "time"

// OHLCV is one candle of market history
type OHLCV struct {
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceData is the oracle view of a token
type PriceData struct {
	Token     string    `json:"token"`
	USDPrice  float64   `json:"usd_price"`
	Volume24h float64   `json:"volume_24h"`
	Timestamp time.Time `json:"timestamp"`
}

// PricePoint is one observation kept in bounded price history
type PricePoint struct {
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Timestamp time.Time `json:"timestamp"`
}

// TokenBalance is a wallet holding of a single mint
type TokenBalance struct {
	Mint     string  `json:"mint"`
	Symbol   string  `json:"symbol"`
	Amount   float64 `json:"amount"`
	Decimals int32   `json:"decimals"`
	ValueUSD float64 `json:"value_usd"`
}

// Position is a holding annotated with cost basis
type Position struct {
	Mint            string    `json:"mint"`
	Symbol          string    `json:"symbol"`
	Amount          float64   `json:"amount"`
	AverageBuyPrice float64   `json:"average_buy_price"`
	CurrentPrice    float64   `json:"current_price"`
	ValueUSD        float64   `json:"value_usd"`
	PnLPercentage   float64   `json:"pnl_percentage"`
	LastUpdated     time.Time `json:"last_updated"`
}
