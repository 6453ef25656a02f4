package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/safety"
)

const (
	component     = "swap_venue"
	quoteCacheTTL = 5 * time.Second
)

// JupiterClient is a SwapVenue backed by the Jupiter v6 HTTP API
type JupiterClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *safety.RateLimiter
	logger     *zap.Logger

	mu    sync.Mutex
	cache map[string]*Quote
	now   func() time.Time
}

// NewJupiterClient creates a client. limiter may be nil.
func NewJupiterClient(baseURL string, limiter *safety.RateLimiter, logger *zap.Logger) *JupiterClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JupiterClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    limiter,
		logger:     logger.Named(component),
		cache:      make(map[string]*Quote),
		now:        time.Now,
	}
}

type quoteResponse struct {
	InputMint            string `json:"inputMint"`
	InAmount             string `json:"inAmount"`
	OutputMint           string `json:"outputMint"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	SlippageBps          uint32 `json:"slippageBps"`
	PriceImpactPct       string `json:"priceImpactPct"`
	RoutePlan            []struct {
		SwapInfo struct {
			Label     string `json:"label"`
			InAmount  string `json:"inAmount"`
			OutAmount string `json:"outAmount"`
		} `json:"swapInfo"`
		Percent int `json:"percent"`
	} `json:"routePlan"`
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	PrioritizationFeeLamports uint64          `json:"prioritizationFeeLamports,omitempty"`
}

type swapResponse struct {
	SwapTransaction           string `json:"swapTransaction"`
	LastValidBlockHeight      uint64 `json:"lastValidBlockHeight"`
	PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
	SimulationError           *struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	} `json:"simulationError"`
}

func quoteKey(inputMint, outputMint string, amount uint64, slippage uint32) string {
	return fmt.Sprintf("%s:%s:%d:%d", inputMint, outputMint, amount, slippage)
}

// GetQuote returns a cached quote younger than five seconds or fetches a fresh one
func (c *JupiterClient) GetQuote(ctx context.Context, inputMint, outputMint string, amount uint64, maxSlippageBps uint32) (*Quote, error) {
	if amount == 0 {
		return nil, errors.NewValidationError(component, "get_quote", "amount must be positive")
	}

	key := quoteKey(inputMint, outputMint, amount, maxSlippageBps)
	c.mu.Lock()
	if q, ok := c.cache[key]; ok && c.now().Sub(q.FetchedAt) < quoteCacheTTL {
		c.mu.Unlock()
		return q, nil
	}
	c.mu.Unlock()

	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(amount, 10))
	params.Set("slippageBps", strconv.FormatUint(uint64(maxSlippageBps), 10))

	body, err := c.do(ctx, http.MethodGet, "/quote?"+params.Encode(), nil, "get_quote")
	if err != nil {
		return nil, err
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, errors.KindTrading, component, "get_quote")
	}

	q := &Quote{
		InputMint:            resp.InputMint,
		OutputMint:           resp.OutputMint,
		InAmount:             parseAtomic(resp.InAmount),
		OutAmount:            parseAtomic(resp.OutAmount),
		OtherAmountThreshold: parseAtomic(resp.OtherAmountThreshold),
		SlippageBps:          resp.SlippageBps,
		FetchedAt:            c.now(),
		Raw:                  json.RawMessage(body),
	}
	q.PriceImpactPct, _ = strconv.ParseFloat(resp.PriceImpactPct, 64)
	for _, leg := range resp.RoutePlan {
		q.Route = append(q.Route, RouteLeg{
			Label:     leg.SwapInfo.Label,
			InAmount:  parseAtomic(leg.SwapInfo.InAmount),
			OutAmount: parseAtomic(leg.SwapInfo.OutAmount),
			Percent:   leg.Percent,
		})
	}
	if q.OutAmount == 0 {
		return nil, errors.NewTradingError(component, "get_quote", "no route found").
			WithContext("input_mint", inputMint).
			WithContext("output_mint", outputMint)
	}

	c.mu.Lock()
	c.cache[key] = q
	c.evictExpiredLocked()
	c.mu.Unlock()

	c.logger.Debug("quote fetched",
		zap.String("input_mint", inputMint),
		zap.String("output_mint", outputMint),
		zap.Uint64("in_amount", q.InAmount),
		zap.Uint64("out_amount", q.OutAmount),
		zap.Int("route_legs", len(q.Route)))
	return q, nil
}

func (c *JupiterClient) evictExpiredLocked() {
	now := c.now()
	for k, q := range c.cache {
		if now.Sub(q.FetchedAt) >= quoteCacheTTL {
			delete(c.cache, k)
		}
	}
}

// ProposeSwap builds an unsigned swap transaction for the owner
func (c *JupiterClient) ProposeSwap(ctx context.Context, quote *Quote, ownerAddress string, priorityFee uint64) (*SwapProposal, error) {
	if quote == nil || len(quote.Raw) == 0 {
		return nil, errors.NewValidationError(component, "propose_swap", "quote is missing")
	}

	payload, err := json.Marshal(swapRequest{
		QuoteResponse:             quote.Raw,
		UserPublicKey:             ownerAddress,
		WrapAndUnwrapSol:          true,
		PrioritizationFeeLamports: priorityFee,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, component, "propose_swap")
	}

	body, err := c.do(ctx, http.MethodPost, "/swap", payload, "propose_swap")
	if err != nil {
		return nil, err
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, errors.KindTrading, component, "propose_swap")
	}
	if resp.SimulationError != nil {
		return nil, errors.NewTradingError(component, "propose_swap", "swap simulation failed: "+resp.SimulationError.Message).
			WithContext("code", resp.SimulationError.Error)
	}
	if resp.SwapTransaction == "" {
		return nil, errors.NewTradingError(component, "propose_swap", "empty swap transaction")
	}

	return &SwapProposal{
		Transaction:          resp.SwapTransaction,
		LastValidBlockHeight: resp.LastValidBlockHeight,
		PriorityFeeLamports:  resp.PrioritizationFeeLamports,
	}, nil
}

func (c *JupiterClient) do(ctx context.Context, method, path string, payload []byte, op string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, component, op)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Categorize(errors.FromContext(err, component, op), component, op)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindTrading, component, op)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.NewServiceUnavailableError(component, op, fmt.Sprintf("status %d", resp.StatusCode)).
			WithContext("body", truncate(body, 200))
	default:
		return nil, errors.NewTradingError(component, op, fmt.Sprintf("status %d", resp.StatusCode)).
			WithContext("body", truncate(body, 200))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
