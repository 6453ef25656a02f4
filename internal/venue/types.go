// Package venue talks to the swap aggregator and the chain RPC node.
// Both are reached over plain JSON/HTTP; neither client ever signs anything.
package venue

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// NativeMint is wrapped SOL, the quote currency for buys and sells
const NativeMint = "So11111111111111111111111111111111111111112"

// NativeDecimals is the lamport precision of SOL
const NativeDecimals int32 = 9

// RouteLeg is one hop of an aggregator route
type RouteLeg struct {
	Label     string `json:"label"`
	InAmount  uint64 `json:"in_amount"`
	OutAmount uint64 `json:"out_amount"`
	Percent   int    `json:"percent"`
}

// Quote is an aggregator price for swapping InAmount of InputMint.
// Amounts are atomic units of the respective mint.
type Quote struct {
	InputMint            string          `json:"input_mint"`
	OutputMint           string          `json:"output_mint"`
	InAmount             uint64          `json:"in_amount"`
	OutAmount            uint64          `json:"out_amount"`
	OtherAmountThreshold uint64          `json:"other_amount_threshold"`
	SlippageBps          uint32          `json:"slippage_bps"`
	PriceImpactPct       float64         `json:"price_impact_pct"`
	Route                []RouteLeg      `json:"route"`
	FetchedAt            time.Time       `json:"fetched_at"`
	Raw                  json.RawMessage `json:"-"`
}

// SwapProposal is an unsigned transaction the owner must sign themselves
type SwapProposal struct {
	Transaction          string `json:"transaction"` // base64
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
	PriorityFeeLamports  uint64 `json:"priority_fee_lamports"`
}

// SwapVenue quotes and builds swaps
type SwapVenue interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, maxSlippageBps uint32) (*Quote, error)
	ProposeSwap(ctx context.Context, quote *Quote, ownerAddress string, priorityFee uint64) (*SwapProposal, error)
}

// TransferFee is a per-transfer fee withheld by the token program
type TransferFee struct {
	BasisPoints uint16 `json:"basis_points"`
	MaximumFee  uint64 `json:"maximum_fee"`
}

// TokenInfo describes the mint restrictions relevant to trading
type TokenInfo struct {
	Mint            string       `json:"mint"`
	Decimals        int32        `json:"decimals"`
	NonTransferable bool         `json:"non_transferable"`
	TransferFee     *TransferFee `json:"transfer_fee,omitempty"`
}

// EffectiveAmount returns the amount that arrives after the transfer fee, and the fee.
// fee = min(amount * bps / 10000, maximum_fee)
func (t TokenInfo) EffectiveAmount(amount uint64) (effective, fee uint64) {
	if t.TransferFee == nil || t.TransferFee.BasisPoints == 0 {
		return amount, 0
	}
	raw := decimalFromUint(amount).
		Mul(decimal.NewFromInt(int64(t.TransferFee.BasisPoints))).
		Div(decimal.NewFromInt(10000)).
		Floor()
	fee = uintFromDecimal(raw)
	if t.TransferFee.MaximumFee > 0 && fee > t.TransferFee.MaximumFee {
		fee = t.TransferFee.MaximumFee
	}
	if fee > amount {
		fee = amount
	}
	return amount - fee, fee
}

// ChainRPC reads balances and mint metadata
type ChainRPC interface {
	GetNativeBalance(ctx context.Context, owner string) (float64, error)
	GetTokenBalance(ctx context.Context, owner, mint string) (float64, error)
	GetTokenInfo(ctx context.Context, mint string) (*TokenInfo, error)
	GetRecentPriorityFee(ctx context.Context) (uint64, error)
}

// ToAtomic converts a UI amount into atomic units, rounding down
func ToAtomic(amount float64, decimals int32) uint64 {
	if amount <= 0 {
		return 0
	}
	return uintFromDecimal(decimal.NewFromFloat(amount).Shift(decimals).Floor())
}

// FromAtomic converts atomic units into a UI amount
func FromAtomic(amount uint64, decimals int32) float64 {
	f, _ := decimalFromUint(amount).Shift(-decimals).Float64()
	return f
}

func decimalFromUint(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func uintFromDecimal(d decimal.Decimal) uint64 {
	if d.IsNegative() {
		return 0
	}
	b := d.BigInt()
	if !b.IsUint64() {
		return ^uint64(0)
	}
	return b.Uint64()
}

func parseAtomic(s string) uint64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return uintFromDecimal(d)
}
