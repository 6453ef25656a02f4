package execution

import (
	"context"

	"go.uber.org/zap"

	"github.com/ducminhle1904/trade-automation/internal/venue"
	"github.com/ducminhle1904/trade-automation/pkg/types"
)

func (a *Actor) getQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippage uint32) (*venue.Quote, error) {
	var quote *venue.Quote
	err := a.venueBreaker.Call(func() error {
		var err error
		quote, err = a.venue.GetQuote(ctx, inputMint, outputMint, amount, slippage)
		return err
	})
	return quote, err
}

func (a *Actor) proposeSwap(ctx context.Context, quote *venue.Quote, owner string) (*venue.SwapProposal, error) {
	var proposal *venue.SwapProposal
	err := a.venueBreaker.Call(func() error {
		var err error
		proposal, err = a.venue.ProposeSwap(ctx, quote, owner, a.cfg.PriorityFee)
		return err
	})
	return proposal, err
}

func (a *Actor) tokenInfo(ctx context.Context, mint string) (*venue.TokenInfo, error) {
	var info *venue.TokenInfo
	err := a.rpcBreaker.Call(func() error {
		var err error
		info, err = a.rpc.GetTokenInfo(ctx, mint)
		return err
	})
	return info, err
}

func (a *Actor) tokenBalance(ctx context.Context, owner, mint string) (float64, error) {
	var balance float64
	err := a.rpcBreaker.Call(func() error {
		var err error
		balance, err = a.rpc.GetTokenBalance(ctx, owner, mint)
		return err
	})
	return balance, err
}

// referencePrices returns USD prices keyed by symbol; oracle failures yield an empty map
func (a *Actor) referencePrices(ctx context.Context, symbols ...string) map[string]types.PriceData {
	if a.oracle == nil || len(symbols) == 0 {
		return map[string]types.PriceData{}
	}
	var prices map[string]types.PriceData
	err := a.oracleBreaker.Call(func() error {
		var err error
		prices, err = a.oracle.GetPrices(ctx, symbols)
		return err
	})
	if err != nil {
		a.logger.Debug("reference prices unavailable", zap.Strings("symbols", symbols), zap.Error(err))
		return map[string]types.PriceData{}
	}
	return prices
}
