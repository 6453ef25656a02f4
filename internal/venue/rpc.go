package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ducminhle1904/trade-automation/internal/errors"
)

const rpcComponent = "chain_rpc"

// TokenProgram2022 owns mints that may carry transfer fee or non-transferable extensions
const TokenProgram2022 = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"

// RPCClient is a ChainRPC over Solana JSON-RPC
type RPCClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	nextID     atomic.Uint64
}

// NewRPCClient creates a JSON-RPC client for endpoint
func NewRPCClient(endpoint string, logger *zap.Logger) *RPCClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RPCClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.Named(rpcComponent),
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, rpcComponent, method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, rpcComponent, method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Categorize(errors.FromContext(err, rpcComponent, method), rpcComponent, method)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, errors.KindTrading, rpcComponent, method)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.NewServiceUnavailableError(rpcComponent, method, fmt.Sprintf("status %d", resp.StatusCode))
	}

	var rr rpcResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return errors.Wrap(err, errors.KindTrading, rpcComponent, method)
	}
	if rr.Error != nil {
		return errors.NewTradingError(rpcComponent, method, rr.Error.Message).WithContext("code", rr.Error.Code)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return errors.Wrap(err, errors.KindTrading, rpcComponent, method)
	}
	return nil
}

// GetNativeBalance returns the SOL balance of owner
func (c *RPCClient) GetNativeBalance(ctx context.Context, owner string) (float64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, "getBalance", []interface{}{owner}, &result); err != nil {
		return 0, err
	}
	return FromAtomic(result.Value, NativeDecimals), nil
}

// GetTokenBalance sums every token account owner holds for mint
func (c *RPCClient) GetTokenBalance(ctx context.Context, owner, mint string) (float64, error) {
	if mint == NativeMint {
		return c.GetNativeBalance(ctx, owner)
	}

	var result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								Amount   string `json:"amount"`
								Decimals int32  `json:"decimals"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	params := []interface{}{
		owner,
		map[string]string{"mint": mint},
		map[string]string{"encoding": "jsonParsed"},
	}
	if err := c.call(ctx, "getTokenAccountsByOwner", params, &result); err != nil {
		return 0, err
	}

	var total float64
	for _, acc := range result.Value {
		amt := acc.Account.Data.Parsed.Info.TokenAmount
		total += FromAtomic(parseAtomic(amt.Amount), amt.Decimals)
	}
	return total, nil
}

type mintExtension struct {
	Extension string `json:"extension"`
	State     struct {
		NewerTransferFee struct {
			TransferFeeBasisPoints uint16 `json:"transferFeeBasisPoints"`
			MaximumFee             uint64 `json:"maximumFee"`
		} `json:"newerTransferFee"`
	} `json:"state"`
}

// GetTokenInfo reads decimals and token-2022 restrictions of a mint
func (c *RPCClient) GetTokenInfo(ctx context.Context, mint string) (*TokenInfo, error) {
	if mint == NativeMint {
		return &TokenInfo{Mint: mint, Decimals: NativeDecimals}, nil
	}

	var result struct {
		Value *struct {
			Owner string `json:"owner"`
			Data  struct {
				Parsed struct {
					Info struct {
						Decimals   int32           `json:"decimals"`
						Extensions []mintExtension `json:"extensions"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"value"`
	}
	params := []interface{}{mint, map[string]string{"encoding": "jsonParsed"}}
	if err := c.call(ctx, "getAccountInfo", params, &result); err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, errors.NewValidationError(rpcComponent, "getAccountInfo", "mint account does not exist").
			WithContext("mint", mint)
	}

	info := &TokenInfo{Mint: mint, Decimals: result.Value.Data.Parsed.Info.Decimals}
	for _, ext := range result.Value.Data.Parsed.Info.Extensions {
		switch ext.Extension {
		case "nonTransferable":
			info.NonTransferable = true
		case "transferFeeConfig":
			info.TransferFee = &TransferFee{
				BasisPoints: ext.State.NewerTransferFee.TransferFeeBasisPoints,
				MaximumFee:  ext.State.NewerTransferFee.MaximumFee,
			}
		}
	}
	return info, nil
}

// GetRecentPriorityFee returns the median prioritization fee of recent slots
func (c *RPCClient) GetRecentPriorityFee(ctx context.Context) (uint64, error) {
	var result []struct {
		Slot              uint64 `json:"slot"`
		PrioritizationFee uint64 `json:"prioritizationFee"`
	}
	if err := c.call(ctx, "getRecentPrioritizationFees", []interface{}{}, &result); err != nil {
		return 0, err
	}
	if len(result) == 0 {
		return 0, nil
	}

	fees := make([]uint64, len(result))
	for i, r := range result {
		fees[i] = r.PrioritizationFee
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i] < fees[j] })
	return fees[len(fees)/2], nil
}
