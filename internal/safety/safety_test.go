package safety

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/trade-automation/internal/errors"
)

var errBoom = stderrors.New("boom")

func newTestBreaker(now *time.Time) *CircuitBreaker {
	cb := NewCircuitBreaker("swap_api", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, Timeout: time.Minute})
	cb.SetClock(func() time.Time { return *now })
	return cb
}

func TestCircuitBreaker_Lifecycle(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)
	fail := func() error { return errBoom }
	ok := func() error { return nil }

	assert.ErrorIs(t, cb.Call(fail), errBoom)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.ErrorIs(t, cb.Call(fail), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())

	called := false
	err := cb.Call(func() error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called, "open breaker must not invoke the call")
	assert.True(t, errors.IsKind(err, errors.KindServiceUnavailable))
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)

	now = now.Add(time.Minute)
	require.NoError(t, cb.Call(ok))
	assert.Equal(t, StateHalfOpen, cb.GetState())
	require.NoError(t, cb.Call(ok))
	assert.Equal(t, StateClosed, cb.GetState())

	stats := cb.GetStats()
	assert.Equal(t, uint64(4), stats.TotalRequests)
	assert.Equal(t, uint64(2), stats.TotalFailures)
	assert.InDelta(t, 50.0, stats.FailureRate, 1e-9)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)
	cb := newTestBreaker(&now)
	cb.ForceOpen()
	assert.Equal(t, StateOpen, cb.GetState())

	now = now.Add(2 * time.Minute)
	assert.ErrorIs(t, cb.Call(func() error { return errBoom }), errBoom)
	assert.Equal(t, StateOpen, cb.GetState())
	assert.Equal(t, now.Add(time.Minute), cb.GetStats().NextAttempt)

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreakerManager(t *testing.T) {
	m := NewCircuitBreakerManager(nil)
	cfg := CircuitBreakerConfig{FailureThreshold: 1}

	a := m.GetOrCreate("rpc", cfg)
	assert.Same(t, a, m.GetOrCreate("rpc", CircuitBreakerConfig{FailureThreshold: 9}))
	m.GetOrCreate("oracle", cfg).ForceOpen()
	m.GetOrCreate("swap", cfg).ForceOpen()

	got, ok := m.Get("rpc")
	require.True(t, ok)
	assert.Same(t, a, got)
	_, ok = m.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"oracle", "swap"}, m.GetOpenCircuits())
	assert.True(t, m.HasOpenCircuits())

	stats := m.GetStats()
	require.Len(t, stats, 3)
	assert.Equal(t, "oracle", stats[0].Name)
	assert.Equal(t, "swap", stats[2].Name)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter("swap_api", 1, 2)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	stats := rl.GetStats()
	assert.Equal(t, uint64(2), stats.Allowed)
	assert.Equal(t, uint64(1), stats.Rejected)
	assert.Equal(t, 2, stats.Burst)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, rl.Wait(ctx))

	unlimited := NewRateLimiter("free", 0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.Allow())
	}
}

func TestValidator(t *testing.T) {
	v := NewValidator(0.001, 10)
	tests := []struct {
		name string
		res  ValidationResult
		code string
	}{
		{"amount ok", v.ValidateTradeAmount(1, 0), ""},
		{"amount zero", v.ValidateTradeAmount(0, 0), "AMOUNT_NON_POSITIVE"},
		{"amount below floor", v.ValidateTradeAmount(0.0001, 0), "AMOUNT_TOO_SMALL"},
		{"amount above caller max", v.ValidateTradeAmount(5, 2), "AMOUNT_EXCEEDS_LIMIT"},
		{"amount above ceiling", v.ValidateTradeAmount(11, 0), "AMOUNT_EXCEEDS_LIMIT"},
		{"percentage ok", v.ValidatePercentage(100), ""},
		{"percentage zero", v.ValidatePercentage(0), "INVALID_PERCENTAGE"},
		{"slippage at ceiling", v.ValidateSlippage(MaxSlippageBps), ""},
		{"slippage above ceiling", v.ValidateSlippage(MaxSlippageBps + 1), "SLIPPAGE_TOO_HIGH"},
		{"fee too high", v.ValidatePriorityFee(MaxPriorityFeeLamports + 1), "PRIORITY_FEE_TOO_HIGH"},
		{"price negative", v.ValidatePrice(-1, "SOL"), "INVALID_PRICE_NEGATIVE"},
		{"user empty", v.ValidateUserID("  "), "USER_ID_EMPTY"},
		{"user spaces", v.ValidateUserID("a b"), "USER_ID_INVALID"},
		{"address ok", v.ValidateAddress("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"), ""},
		{"address short", v.ValidateAddress("abc"), "ADDRESS_INVALID_LENGTH"},
		{"address not base58", v.ValidateAddress("0WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"), "ADDRESS_INVALID_CHARS"},
		{"balance short", v.ValidateSufficientBalance(1, 2), "INSUFFICIENT_BALANCE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code == "" {
				assert.True(t, tt.res.Valid, tt.res.Message)
				assert.NoError(t, tt.res.Err("test", "validate"))
				return
			}
			assert.False(t, tt.res.Valid)
			assert.Equal(t, tt.code, tt.res.Code)
			assert.True(t, errors.IsKind(tt.res.Err("test", "validate"), errors.KindValidation))
		})
	}
}
