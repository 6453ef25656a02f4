package execution

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/market"
	"github.com/ducminhle1904/trade-automation/internal/venue"
	"github.com/ducminhle1904/trade-automation/pkg/types"
)

type tradeParams struct {
	mint        string
	quoteMint   string
	symbol      string
	quoteSymbol string
	slippage    uint32
}

func (a *Actor) prepare(req TradeRequest, op string) (tradeParams, error) {
	p := tradeParams{quoteSymbol: req.QuoteToken, slippage: req.SlippageBps}
	if p.quoteSymbol == "" {
		p.quoteSymbol = a.cfg.QuoteToken
	}
	if p.slippage == 0 {
		p.slippage = a.cfg.SlippageBps
	}
	if err := a.validator.ValidateSlippage(p.slippage).Err(component, op); err != nil {
		return p, err
	}
	if err := a.validator.ValidateAddress(req.Owner).Err(component, op); err != nil {
		return p, err
	}

	var err error
	if p.mint, err = a.resolver.Resolve(req.Token); err != nil {
		return p, err
	}
	if p.quoteMint, err = a.resolver.Resolve(p.quoteSymbol); err != nil {
		return p, err
	}
	if p.mint == p.quoteMint {
		return p, errors.NewValidationError(component, op, "token and quote token are the same")
	}
	p.symbol = a.resolver.Symbol(p.mint)
	p.quoteSymbol = a.resolver.Symbol(p.quoteMint)
	return p, nil
}

// ceiling converts the configured max trade size into quote token units
func (a *Actor) ceiling(quoteSymbol string, prices map[string]types.PriceData) float64 {
	if strings.EqualFold(quoteSymbol, a.cfg.QuoteToken) {
		return a.cfg.MaxTradeAmount
	}
	ref, quote := prices[strings.ToUpper(a.cfg.QuoteToken)].USDPrice, prices[quoteSymbol].USDPrice
	if ref <= 0 || quote <= 0 {
		return a.cfg.MaxTradeAmount
	}
	return a.cfg.MaxTradeAmount * ref / quote
}

func (a *Actor) buy(ctx context.Context, req TradeRequest, quoteOnly bool) (*TradeResult, error) {
	const op = "buy"
	p, err := a.prepare(req, op)
	if err != nil {
		return nil, err
	}

	prices := a.referencePrices(ctx, p.symbol, p.quoteSymbol, strings.ToUpper(a.cfg.QuoteToken))
	if err := a.validator.ValidateTradeAmount(req.Amount, a.ceiling(p.quoteSymbol, prices)).Err(component, op); err != nil {
		return nil, err
	}

	info, err := a.tokenInfo(ctx, p.mint)
	if err != nil {
		return nil, err
	}
	if info.NonTransferable {
		return nil, errors.NewTradingError(component, op, "cannot trade non-transferable token").
			WithContext("mint", p.mint).WithRetryable(false)
	}
	quoteInfo, err := a.tokenInfo(ctx, p.quoteMint)
	if err != nil {
		return nil, err
	}

	quote, err := a.getQuote(ctx, p.quoteMint, p.mint, venue.ToAtomic(req.Amount, quoteInfo.Decimals), p.slippage)
	if err != nil {
		return nil, err
	}

	effective, fee := info.EffectiveAmount(quote.OutAmount)
	tokens := venue.FromAtomic(effective, info.Decimals)
	if tokens <= 0 {
		return nil, errors.NewTradingError(component, op, "quote returns no tokens after transfer fee")
	}

	result := &TradeResult{
		Side:           SideBuy,
		Owner:          req.Owner,
		Token:          p.symbol,
		Mint:           p.mint,
		QuoteToken:     p.quoteSymbol,
		AmountIn:       req.Amount,
		TokensReceived: tokens,
		TransferFee:    venue.FromAtomic(fee, info.Decimals),
		Price:          req.Amount / tokens,
		PriceImpactPct: quote.PriceImpactPct,
		Timestamp:      a.now(),
	}
	if q := prices[p.quoteSymbol].USDPrice; q > 0 {
		result.PriceUSD = result.Price * q
	}
	if quoteOnly {
		return result, nil
	}

	proposal, err := a.proposeSwap(ctx, quote, req.Owner)
	if err != nil {
		return nil, err
	}
	result.TxSignature = UnsignedSignature
	result.Transaction = proposal.Transaction

	if a.store != nil && result.PriceUSD > 0 {
		if err := a.store.RecordBuy(ctx, req.Owner, p.mint, tokens, tokens*result.PriceUSD); err != nil {
			a.logger.Warn("failed to record cost basis", zap.String("mint", p.mint), zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("owner", req.Owner),
		zap.String("token", p.symbol),
		zap.Float64("amount_in", req.Amount),
		zap.String("quote_token", p.quoteSymbol),
		zap.Float64("tokens_received", tokens),
	}
	if fee > 0 {
		fields = append(fields, zap.Float64("transfer_fee", result.TransferFee))
	}
	a.logger.Info("buy proposal prepared", fields...)
	return result, nil
}

func (a *Actor) sell(ctx context.Context, req TradeRequest, quoteOnly bool) (*TradeResult, error) {
	const op = "sell"
	byAmount := req.Percentage == 0 && req.Amount > 0
	if !byAmount {
		if err := a.validator.ValidatePercentage(req.Percentage).Err(component, op); err != nil {
			return nil, err
		}
	}

	p, err := a.prepare(req, op)
	if err != nil {
		return nil, err
	}

	info, err := a.tokenInfo(ctx, p.mint)
	if err != nil {
		return nil, err
	}
	if info.NonTransferable {
		return nil, errors.NewTradingError(component, op, "cannot sell non-transferable token").
			WithContext("mint", p.mint).WithRetryable(false)
	}
	quoteInfo, err := a.tokenInfo(ctx, p.quoteMint)
	if err != nil {
		return nil, err
	}

	balance, err := a.tokenBalance(ctx, req.Owner, p.mint)
	if err != nil {
		return nil, err
	}
	if balance <= 0 {
		return nil, errors.NewTradingError(component, op, "no tokens to sell").
			WithContext("token", p.symbol).WithRetryable(false)
	}

	amount := balance * req.Percentage / 100
	if byAmount {
		if err := a.validator.ValidateSufficientBalance(balance, req.Amount).Err(component, op); err != nil {
			return nil, err
		}
		amount = req.Amount
	}

	effective, fee := info.EffectiveAmount(venue.ToAtomic(amount, info.Decimals))
	if effective == 0 {
		return nil, errors.NewValidationError(component, op, "sell amount rounds to zero")
	}

	quote, err := a.getQuote(ctx, p.mint, p.quoteMint, effective, p.slippage)
	if err != nil {
		return nil, err
	}

	received := venue.FromAtomic(quote.OutAmount, quoteInfo.Decimals)
	prices := a.referencePrices(ctx, p.quoteSymbol)
	result := &TradeResult{
		Side:           SideSell,
		Owner:          req.Owner,
		Token:          p.symbol,
		Mint:           p.mint,
		QuoteToken:     p.quoteSymbol,
		AmountIn:       amount,
		TokensSold:     amount,
		QuoteReceived:  received,
		TransferFee:    venue.FromAtomic(fee, info.Decimals),
		Price:          received / amount,
		PriceImpactPct: quote.PriceImpactPct,
		Timestamp:      a.now(),
	}
	if q := prices[p.quoteSymbol].USDPrice; q > 0 {
		result.PriceUSD = result.Price * q
	}
	result.PnLPercentage = a.realizedPnL(ctx, req.Owner, p.mint, result.PriceUSD)
	if quoteOnly {
		return result, nil
	}

	proposal, err := a.proposeSwap(ctx, quote, req.Owner)
	if err != nil {
		return nil, err
	}
	result.TxSignature = UnsignedSignature
	result.Transaction = proposal.Transaction

	if a.store != nil {
		if err := a.store.RecordSell(ctx, req.Owner, p.mint, amount); err != nil {
			a.logger.Warn("failed to update cost basis", zap.String("mint", p.mint), zap.Error(err))
		}
	}

	a.logger.Info("sell proposal prepared",
		zap.String("owner", req.Owner),
		zap.String("token", p.symbol),
		zap.Float64("tokens_sold", amount),
		zap.Float64("quote_received", received),
		zap.Float64("pnl_percentage", result.PnLPercentage))
	return result, nil
}

// realizedPnL is 0 without a recorded cost basis or a USD reference price
func (a *Actor) realizedPnL(ctx context.Context, owner, mint string, priceUSD float64) float64 {
	if a.store == nil || priceUSD <= 0 {
		return 0
	}
	basis, ok, err := a.store.GetCostBasis(ctx, owner, mint)
	if err != nil {
		a.logger.Warn("failed to read cost basis", zap.String("mint", mint), zap.Error(err))
		return 0
	}
	if !ok || basis.AverageCost <= 0 {
		return 0
	}
	return (priceUSD - basis.AverageCost) / basis.AverageCost * 100
}

func (a *Actor) getBalance(ctx context.Context, owner string) (*Balance, error) {
	if err := a.validator.ValidateAddress(owner).Err(component, "get_balance"); err != nil {
		return nil, err
	}

	var sol float64
	err := a.rpcBreaker.Call(func() error {
		var err error
		sol, err = a.rpc.GetNativeBalance(ctx, owner)
		return err
	})
	if err != nil {
		return nil, err
	}

	usdc, err := a.tokenBalance(ctx, owner, market.USDCMint)
	if err != nil {
		a.logger.Debug("usdc balance unavailable", zap.Error(err))
		usdc = 0
	}

	prices := a.referencePrices(ctx, "SOL")
	return &Balance{
		SOL:      sol,
		USDC:     usdc,
		TotalUSD: sol*prices["SOL"].USDPrice + usdc,
	}, nil
}

func (a *Actor) getPositions(ctx context.Context, owner string) ([]types.Position, error) {
	if a.store == nil {
		return nil, nil
	}
	holdings, err := a.store.ListCostBasis(ctx, owner)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, component, "get_positions")
	}

	symbols := make([]string, 0, len(holdings))
	for _, h := range holdings {
		symbols = append(symbols, a.resolver.Symbol(h.Mint))
	}
	prices := a.referencePrices(ctx, symbols...)

	positions := make([]types.Position, 0, len(holdings))
	for _, h := range holdings {
		symbol := a.resolver.Symbol(h.Mint)
		pos := types.Position{
			Mint:            h.Mint,
			Symbol:          symbol,
			Amount:          h.Amount,
			AverageBuyPrice: h.AverageCost,
			CurrentPrice:    prices[symbol].USDPrice,
			LastUpdated:     h.UpdatedAt,
		}
		pos.ValueUSD = pos.Amount * pos.CurrentPrice
		if pos.AverageBuyPrice > 0 && pos.CurrentPrice > 0 {
			pos.PnLPercentage = (pos.CurrentPrice - pos.AverageBuyPrice) / pos.AverageBuyPrice * 100
		}
		positions = append(positions, pos)
	}
	return positions, nil
}
