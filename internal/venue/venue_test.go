package venue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/trade-automation/internal/errors"
)

func TestTokenInfo_EffectiveAmount(t *testing.T) {
	tests := []struct {
		name          string
		info          TokenInfo
		amount        uint64
		wantEffective uint64
		wantFee       uint64
	}{
		{"no fee", TokenInfo{}, 1_000_000, 1_000_000, 0},
		{"bps fee", TokenInfo{TransferFee: &TransferFee{BasisPoints: 100}}, 1_000_000, 990_000, 10_000},
		{"capped fee", TokenInfo{TransferFee: &TransferFee{BasisPoints: 100, MaximumFee: 500}}, 1_000_000, 999_500, 500},
		{"rounds down", TokenInfo{TransferFee: &TransferFee{BasisPoints: 50}}, 199, 199, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			effective, fee := tt.info.EffectiveAmount(tt.amount)
			assert.Equal(t, tt.wantEffective, effective)
			assert.Equal(t, tt.wantFee, fee)
		})
	}
}

func TestAtomicConversion(t *testing.T) {
	assert.Equal(t, uint64(1_500_000_000), ToAtomic(1.5, 9))
	assert.Equal(t, uint64(0), ToAtomic(-1, 9))
	assert.Equal(t, uint64(123456), ToAtomic(0.1234567, 6))
	assert.InDelta(t, 1.5, FromAtomic(1_500_000_000, 9), 1e-12)
}

const quoteJSON = `{
	"inputMint": "So11111111111111111111111111111111111111112",
	"inAmount": "1000000000",
	"outputMint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	"outAmount": "150000000",
	"otherAmountThreshold": "148500000",
	"slippageBps": 100,
	"priceImpactPct": "0.01",
	"routePlan": [{"swapInfo": {"label": "Orca", "inAmount": "1000000000", "outAmount": "150000000"}, "percent": 100}]
}`

func TestJupiterClient_GetQuoteCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "1000000000", r.URL.Query().Get("amount"))
		_, _ = io.WriteString(w, quoteJSON)
	}))
	defer srv.Close()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewJupiterClient(srv.URL, nil, nil)
	c.now = func() time.Time { return now }

	q, err := c.GetQuote(context.Background(), NativeMint, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", 1_000_000_000, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(150_000_000), q.OutAmount)
	assert.Equal(t, uint64(148_500_000), q.OtherAmountThreshold)
	require.Len(t, q.Route, 1)
	assert.Equal(t, "Orca", q.Route[0].Label)

	_, err = c.GetQuote(context.Background(), NativeMint, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", 1_000_000_000, 100)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	now = now.Add(6 * time.Second)
	_, err = c.GetQuote(context.Background(), NativeMint, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", 1_000_000_000, 100)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestJupiterClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   errors.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, errors.KindServiceUnavailable},
		{"server error", http.StatusBadGateway, errors.KindServiceUnavailable},
		{"bad request", http.StatusBadRequest, errors.KindTrading},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewJupiterClient(srv.URL, nil, nil)
			_, err := c.GetQuote(context.Background(), NativeMint, "x", 1, 100)
			require.Error(t, err)
			assert.Equal(t, tt.kind, errors.KindOf(err))
		})
	}
}

func TestJupiterClient_ProposeSwap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			_, _ = io.WriteString(w, quoteJSON)
		case "/swap":
			var req map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "owner", req["userPublicKey"])
			assert.NotNil(t, req["quoteResponse"])
			_, _ = io.WriteString(w, `{"swapTransaction":"AQID","lastValidBlockHeight":42,"prioritizationFeeLamports":10000}`)
		}
	}))
	defer srv.Close()

	c := NewJupiterClient(srv.URL, nil, nil)
	q, err := c.GetQuote(context.Background(), NativeMint, "out", 1000, 50)
	require.NoError(t, err)

	p, err := c.ProposeSwap(context.Background(), q, "owner", 10000)
	require.NoError(t, err)
	assert.Equal(t, "AQID", p.Transaction)
	assert.Equal(t, uint64(42), p.LastValidBlockHeight)

	_, err = c.ProposeSwap(context.Background(), &Quote{}, "owner", 0)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func rpcServer(t *testing.T, results map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, ok := results[req.Method]
		if !ok {
			_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","id":1,"result":`+result+`}`)
	}))
}

func TestRPCClient(t *testing.T) {
	srv := rpcServer(t, map[string]string{
		"getBalance": `{"value": 2500000000}`,
		"getTokenAccountsByOwner": `{"value": [
			{"account": {"data": {"parsed": {"info": {"tokenAmount": {"amount": "1500000", "decimals": 6}}}}}},
			{"account": {"data": {"parsed": {"info": {"tokenAmount": {"amount": "500000", "decimals": 6}}}}}}
		]}`,
		"getAccountInfo": `{"value": {"owner": "` + TokenProgram2022 + `", "data": {"parsed": {"info": {"decimals": 6, "extensions": [
			{"extension": "transferFeeConfig", "state": {"newerTransferFee": {"transferFeeBasisPoints": 50, "maximumFee": 1000}}},
			{"extension": "nonTransferable"}
		]}}}}}`,
		"getRecentPrioritizationFees": `[{"slot":1,"prioritizationFee":100},{"slot":2,"prioritizationFee":5000},{"slot":3,"prioritizationFee":300}]`,
	})
	defer srv.Close()

	c := NewRPCClient(srv.URL, nil)
	ctx := context.Background()

	sol, err := c.GetNativeBalance(ctx, "owner")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, sol, 1e-9)

	bal, err := c.GetTokenBalance(ctx, "owner", "mint")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, bal, 1e-9)

	info, err := c.GetTokenInfo(ctx, "mint")
	require.NoError(t, err)
	assert.True(t, info.NonTransferable)
	require.NotNil(t, info.TransferFee)
	assert.Equal(t, uint16(50), info.TransferFee.BasisPoints)
	assert.Equal(t, int32(6), info.Decimals)

	fee, err := c.GetRecentPriorityFee(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), fee)

	native, err := c.GetTokenInfo(ctx, NativeMint)
	require.NoError(t, err)
	assert.Equal(t, NativeDecimals, native.Decimals)
}

func TestRPCClient_ErrorResponse(t *testing.T) {
	srv := rpcServer(t, map[string]string{})
	defer srv.Close()

	_, err := NewRPCClient(srv.URL, nil).GetNativeBalance(context.Background(), "owner")
	require.Error(t, err)
	assert.Equal(t, errors.KindTrading, errors.KindOf(err))
}
