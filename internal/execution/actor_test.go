package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/market"
	"github.com/ducminhle1904/trade-automation/internal/store"
	"github.com/ducminhle1904/trade-automation/internal/venue"
	"github.com/ducminhle1904/trade-automation/pkg/types"
)

const owner = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"

type fakeVenue struct {
	mu        sync.Mutex
	outAmount uint64
	err       error
	block     bool
	quotes    int
	proposals int
}

func (f *fakeVenue) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, slippage uint32) (*venue.Quote, error) {
	f.mu.Lock()
	f.quotes++
	block, err, out := f.block, f.err, f.outAmount
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &venue.Quote{InputMint: inputMint, OutputMint: outputMint, InAmount: amount, OutAmount: out, SlippageBps: slippage, Raw: []byte(`{}`)}, nil
}

func (f *fakeVenue) ProposeSwap(ctx context.Context, q *venue.Quote, ownerAddress string, fee uint64) (*venue.SwapProposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proposals++
	return &venue.SwapProposal{Transaction: "dHg=", PriorityFeeLamports: fee}, nil
}

func (f *fakeVenue) quoteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotes
}

type fakeRPC struct {
	native   float64
	balances map[string]float64
	infos    map[string]*venue.TokenInfo
}

func (f *fakeRPC) GetNativeBalance(ctx context.Context, owner string) (float64, error) {
	return f.native, nil
}

func (f *fakeRPC) GetTokenBalance(ctx context.Context, owner, mint string) (float64, error) {
	return f.balances[mint], nil
}

func (f *fakeRPC) GetTokenInfo(ctx context.Context, mint string) (*venue.TokenInfo, error) {
	if info, ok := f.infos[mint]; ok {
		return info, nil
	}
	if mint == venue.NativeMint {
		return &venue.TokenInfo{Mint: mint, Decimals: venue.NativeDecimals}, nil
	}
	return &venue.TokenInfo{Mint: mint, Decimals: 6}, nil
}

func (f *fakeRPC) GetRecentPriorityFee(ctx context.Context) (uint64, error) { return 0, nil }

type fakeOracle struct {
	prices map[string]float64
}

func (f *fakeOracle) GetPrices(ctx context.Context, tokens []string) (map[string]types.PriceData, error) {
	out := make(map[string]types.PriceData)
	for _, t := range tokens {
		if p, ok := f.prices[t]; ok {
			out[t] = types.PriceData{Token: t, USDPrice: p}
		}
	}
	return out, nil
}

type fakeStore struct {
	mu    sync.Mutex
	basis map[string]store.CostBasis
}

func newFakeStore() *fakeStore {
	return &fakeStore{basis: make(map[string]store.CostBasis)}
}

func (f *fakeStore) RecordBuy(ctx context.Context, owner, mint string, amount, cost float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cb := f.basis[mint]
	cb.Owner, cb.Mint = owner, mint
	cb.Amount += amount
	cb.TotalCost += cost
	cb.AverageCost = cb.TotalCost / cb.Amount
	f.basis[mint] = cb
	return nil
}

func (f *fakeStore) RecordSell(ctx context.Context, owner, mint string, amount float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cb := f.basis[mint]
	cb.Amount -= amount
	cb.TotalCost = cb.Amount * cb.AverageCost
	f.basis[mint] = cb
	return nil
}

func (f *fakeStore) GetCostBasis(ctx context.Context, owner, mint string) (store.CostBasis, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cb, ok := f.basis[mint]
	return cb, ok, nil
}

func (f *fakeStore) ListCostBasis(ctx context.Context, owner string) ([]store.CostBasis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.CostBasis
	for _, cb := range f.basis {
		out = append(out, cb)
	}
	return out, nil
}

type harness struct {
	actor *Actor
	venue *fakeVenue
	rpc   *fakeRPC
	store *fakeStore
}

func newHarness(t *testing.T, cfg Config, start bool) *harness {
	t.Helper()
	h := &harness{
		venue: &fakeVenue{outAmount: 150_000_000},
		rpc:   &fakeRPC{balances: map[string]float64{}, infos: map[string]*venue.TokenInfo{}},
		store: newFakeStore(),
	}
	h.actor = NewActor(cfg, Deps{
		Venue:  h.venue,
		RPC:    h.rpc,
		Oracle: &fakeOracle{prices: map[string]float64{"SOL": 150, "USDC": 1}},
		Store:  h.store,
	})
	if start {
		h.actor.Start()
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.actor.Shutdown(ctx)
	})
	return h
}

func TestActor_BuyProposal(t *testing.T) {
	h := newHarness(t, DefaultConfig(), true)

	res, err := h.actor.Buy(context.Background(), TradeRequest{Owner: owner, Token: "USDC", Amount: 1})
	require.NoError(t, err)

	assert.Equal(t, UnsignedSignature, res.TxSignature)
	assert.Equal(t, "dHg=", res.Transaction)
	assert.Equal(t, SideBuy, res.Side)
	assert.Equal(t, market.USDCMint, res.Mint)
	assert.InDelta(t, 150, res.TokensReceived, 1e-9)
	assert.InDelta(t, 1.0/150, res.Price, 1e-12)
	assert.InDelta(t, 1.0, res.PriceUSD, 1e-9)

	cb, ok, _ := h.store.GetCostBasis(context.Background(), owner, market.USDCMint)
	require.True(t, ok)
	assert.InDelta(t, 150, cb.Amount, 1e-9)
	assert.InDelta(t, 1.0, cb.AverageCost, 1e-9)
}

func TestActor_BuyNetsTransferFee(t *testing.T) {
	h := newHarness(t, DefaultConfig(), true)
	h.rpc.infos[market.USDCMint] = &venue.TokenInfo{Mint: market.USDCMint, Decimals: 6, TransferFee: &venue.TransferFee{BasisPoints: 100}}

	res, err := h.actor.Buy(context.Background(), TradeRequest{Owner: owner, Token: "USDC", Amount: 1})
	require.NoError(t, err)
	assert.InDelta(t, 148.5, res.TokensReceived, 1e-9)
	assert.InDelta(t, 1.5, res.TransferFee, 1e-9)
}

func TestActor_BuyRejections(t *testing.T) {
	tests := []struct {
		name  string
		req   TradeRequest
		setup func(h *harness)
		kind  errors.Kind
	}{
		{"amount above ceiling", TradeRequest{Owner: owner, Token: "USDC", Amount: 11}, nil, errors.KindValidation},
		{"zero amount", TradeRequest{Owner: owner, Token: "USDC", Amount: 0}, nil, errors.KindValidation},
		{"unknown token", TradeRequest{Owner: owner, Token: "NOPE", Amount: 1}, nil, errors.KindValidation},
		{"bad owner", TradeRequest{Owner: "short", Token: "USDC", Amount: 1}, nil, errors.KindValidation},
		{"slippage too high", TradeRequest{Owner: owner, Token: "USDC", Amount: 1, SlippageBps: 5000}, nil, errors.KindValidation},
		{"non-transferable", TradeRequest{Owner: owner, Token: "USDC", Amount: 1}, func(h *harness) {
			h.rpc.infos[market.USDCMint] = &venue.TokenInfo{Mint: market.USDCMint, Decimals: 6, NonTransferable: true}
		}, errors.KindTrading},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig(), true)
			if tt.setup != nil {
				tt.setup(h)
			}
			_, err := h.actor.Buy(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, errors.KindOf(err))
			assert.Equal(t, 0, h.venue.quoteCalls(), "venue must not be called")
		})
	}
}

func TestActor_SellComputesPnL(t *testing.T) {
	h := newHarness(t, DefaultConfig(), true)
	h.rpc.balances[market.USDCMint] = 100
	h.venue.outAmount = 400_000_000 // 0.4 SOL
	require.NoError(t, h.store.RecordBuy(context.Background(), owner, market.USDCMint, 100, 100))

	res, err := h.actor.Sell(context.Background(), TradeRequest{Owner: owner, Token: "USDC", Percentage: 50})
	require.NoError(t, err)

	assert.InDelta(t, 50, res.TokensSold, 1e-9)
	assert.InDelta(t, 0.4, res.QuoteReceived, 1e-9)
	assert.InDelta(t, 1.2, res.PriceUSD, 1e-9)
	assert.InDelta(t, 20, res.PnLPercentage, 1e-6)

	cb, _, _ := h.store.GetCostBasis(context.Background(), owner, market.USDCMint)
	assert.InDelta(t, 50, cb.Amount, 1e-9)
}

func TestActor_SellRejections(t *testing.T) {
	tests := []struct {
		name    string
		req     TradeRequest
		balance float64
		kind    errors.Kind
	}{
		{"zero percentage", TradeRequest{Owner: owner, Token: "USDC"}, 100, errors.KindValidation},
		{"percentage above 100", TradeRequest{Owner: owner, Token: "USDC", Percentage: 150}, 100, errors.KindValidation},
		{"empty balance", TradeRequest{Owner: owner, Token: "USDC", Percentage: 50}, 0, errors.KindTrading},
		{"amount above balance", TradeRequest{Owner: owner, Token: "USDC", Amount: 200}, 100, errors.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig(), true)
			h.rpc.balances[market.USDCMint] = tt.balance
			_, err := h.actor.Sell(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, errors.KindOf(err))
		})
	}
}

func TestActor_QuoteDoesNotPropose(t *testing.T) {
	h := newHarness(t, DefaultConfig(), true)

	res, err := h.actor.Quote(context.Background(), SideBuy, TradeRequest{Owner: owner, Token: "USDC", Amount: 1})
	require.NoError(t, err)
	assert.Empty(t, res.TxSignature)
	assert.Equal(t, 0, h.venue.proposals)

	_, ok, _ := h.store.GetCostBasis(context.Background(), owner, market.USDCMint)
	assert.False(t, ok)
}

func TestActor_BreakerOpensAfterThreeVenueFailures(t *testing.T) {
	h := newHarness(t, DefaultConfig(), true)
	h.venue.err = errors.NewTradingError("swap_venue", "get_quote", "upstream failure")

	for i := 0; i < 3; i++ {
		_, err := h.actor.Buy(context.Background(), TradeRequest{Owner: owner, Token: "USDC", Amount: 1})
		require.Error(t, err)
		assert.Equal(t, errors.KindTrading, errors.KindOf(err))
	}
	require.Equal(t, 3, h.venue.quoteCalls())

	_, err := h.actor.Buy(context.Background(), TradeRequest{Owner: owner, Token: "USDC", Amount: 1})
	require.Error(t, err)
	assert.Equal(t, errors.KindServiceUnavailable, errors.KindOf(err))
	assert.True(t, errors.Is(err, errors.ErrCircuitOpen))
	assert.Equal(t, 3, h.venue.quoteCalls(), "open breaker must not reach the venue")
}

func TestActor_Timeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	h := newHarness(t, cfg, true)
	h.venue.block = true

	_, err := h.actor.Buy(context.Background(), TradeRequest{Owner: owner, Token: "USDC", Amount: 1})
	require.Error(t, err)
	assert.Equal(t, errors.KindTimeout, errors.KindOf(err))
}

func TestActor_QueueFullFailsFast(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxQueue = 1
	h := newHarness(t, cfg, false)

	first := make(chan error, 1)
	go func() {
		_, err := h.actor.Buy(context.Background(), TradeRequest{Owner: owner, Token: "USDC", Amount: 1})
		first <- err
	}()
	require.Eventually(t, func() bool { return h.actor.Metrics().QueueDepth == 1 }, time.Second, 5*time.Millisecond)

	_, err := h.actor.Buy(context.Background(), TradeRequest{Owner: owner, Token: "USDC", Amount: 1})
	assert.True(t, errors.Is(err, errors.ErrQueueFull))
	assert.Equal(t, errors.KindServiceUnavailable, errors.KindOf(err))

	require.NoError(t, h.actor.Shutdown(context.Background()))
	select {
	case err := <-first:
		assert.True(t, errors.Is(err, errors.ErrShutdown))
	case <-time.After(time.Second):
		t.Fatal("queued request was not drained")
	}

	_, err = h.actor.Buy(context.Background(), TradeRequest{Owner: owner, Token: "USDC", Amount: 1})
	assert.True(t, errors.Is(err, errors.ErrShutdown))
}

func TestActor_BalanceAndPositions(t *testing.T) {
	h := newHarness(t, DefaultConfig(), true)
	h.rpc.native = 2
	h.rpc.balances[market.USDCMint] = 10

	bal, err := h.actor.GetBalance(context.Background(), owner)
	require.NoError(t, err)
	assert.InDelta(t, 310, bal.TotalUSD, 1e-9)

	require.NoError(t, h.store.RecordBuy(context.Background(), owner, market.SOLMint, 2, 200))
	positions, err := h.actor.GetPositions(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "SOL", positions[0].Symbol)
	assert.InDelta(t, 300, positions[0].ValueUSD, 1e-9)
	assert.InDelta(t, 50, positions[0].PnLPercentage, 1e-9)
}

func TestActor_Metrics(t *testing.T) {
	h := newHarness(t, DefaultConfig(), true)
	m := h.actor.Metrics()
	assert.Equal(t, 10, m.AvailablePermits)
	assert.Equal(t, 10, m.MaxConcurrent)
	assert.Equal(t, 100, m.MaxQueue)
	assert.Len(t, m.Breakers, 3)
}
