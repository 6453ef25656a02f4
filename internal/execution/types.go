package execution

import (
	"context"
	"time"

	"github.com/ducminhle1904/trade-automation/internal/safety"
	"github.com/ducminhle1904/trade-automation/internal/store"
)

// UnsignedSignature marks a proposal that still has to be signed by the owner
const UnsignedSignature = "UNSIGNED_TRANSACTION"

// Dependency names, also used as breaker names
const (
	DepSwapVenue   = "swap_venue"
	DepPriceOracle = "price_oracle"
	DepChainRPC    = "chain_rpc"
)

// Side is the direction of a trade
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Config holds actor resource limits and trade defaults
type Config struct {
	MaxConcurrent  int
	MaxQueue       int
	Timeout        time.Duration
	MinTradeAmount float64
	MaxTradeAmount float64
	SlippageBps    uint32
	PriorityFee    uint64 // lamports
	QuoteToken     string // token paid on buys and received on sells

	VenueBreaker  safety.CircuitBreakerConfig
	OracleBreaker safety.CircuitBreakerConfig
	RPCBreaker    safety.CircuitBreakerConfig
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  10,
		MaxQueue:       100,
		Timeout:        30 * time.Second,
		MinTradeAmount: 0.001,
		MaxTradeAmount: 10,
		SlippageBps:    100,
		PriorityFee:    10_000,
		QuoteToken:     "SOL",
		VenueBreaker:   safety.CircuitBreakerConfig{FailureThreshold: 3, Timeout: 30 * time.Second, SuccessThreshold: 2},
		OracleBreaker:  safety.CircuitBreakerConfig{FailureThreshold: 5, Timeout: 60 * time.Second, SuccessThreshold: 3},
		RPCBreaker:     safety.CircuitBreakerConfig{FailureThreshold: 3, Timeout: 45 * time.Second, SuccessThreshold: 2},
	}
}

// TradeRequest describes a buy or a sell.
// For buys Amount is in QuoteToken units. For sells either Percentage of the
// current balance or an absolute token Amount is given.
type TradeRequest struct {
	Owner       string
	Token       string
	QuoteToken  string // defaults to Config.QuoteToken
	Amount      float64
	Percentage  float64
	SlippageBps uint32 // defaults to Config.SlippageBps
}

// TradeResult is the outcome of a buy or sell proposal
type TradeResult struct {
	TxSignature    string    `json:"tx_signature"`
	Transaction    string    `json:"transaction,omitempty"`
	Side           Side      `json:"side"`
	Owner          string    `json:"owner"`
	Token          string    `json:"token"`
	Mint           string    `json:"mint"`
	QuoteToken     string    `json:"quote_token"`
	AmountIn       float64   `json:"amount_in"`
	TokensReceived float64   `json:"tokens_received"`
	TokensSold     float64   `json:"tokens_sold"`
	QuoteReceived  float64   `json:"quote_received"`
	TransferFee    float64   `json:"transfer_fee"`
	Price          float64   `json:"price"`     // quote token per token
	PriceUSD       float64   `json:"price_usd"` // 0 when no reference price
	PriceImpactPct float64   `json:"price_impact_pct"`
	PnLPercentage  float64   `json:"pnl_percentage"`
	Timestamp      time.Time `json:"timestamp"`
}

// Balance is the native and stablecoin balance of an owner
type Balance struct {
	SOL      float64 `json:"sol"`
	USDC     float64 `json:"usdc"`
	TotalUSD float64 `json:"total_usd"`
}

// ResourceMetrics reports mailbox and permit utilization
type ResourceMetrics struct {
	AvailablePermits int                          `json:"available_permits"`
	MaxConcurrent    int                          `json:"max_concurrent"`
	QueueDepth       int                          `json:"queue_depth"`
	MaxQueue         int                          `json:"max_queue"`
	QueueUtilization float64                      `json:"queue_utilization_percent"`
	Breakers         []safety.CircuitBreakerStats `json:"breakers"`
}

// CostBasisStore is the part of the Order Store the actor uses
type CostBasisStore interface {
	RecordBuy(ctx context.Context, owner, mint string, amount, cost float64) error
	RecordSell(ctx context.Context, owner, mint string, amount float64) error
	GetCostBasis(ctx context.Context, owner, mint string) (store.CostBasis, bool, error)
	ListCostBasis(ctx context.Context, owner string) ([]store.CostBasis, error)
}
