package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/orders"
	"github.com/ducminhle1904/trade-automation/internal/scheduler"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, 10.0, c.Trading.MaxTradeSize)
	assert.Equal(t, 0.001, c.Trading.MinTradeSize)
	assert.Equal(t, uint32(100), c.Trading.SlippageBps)
	assert.Equal(t, uint32(1000), c.Trading.MaxSlippageBps)
	assert.Equal(t, uint64(10_000), c.Trading.PriorityFee)
	assert.Equal(t, 10, c.Executor.MaxConcurrent)
	assert.Equal(t, 100, c.Executor.MaxQueue)
	assert.Equal(t, 30*time.Second, c.Executor.Timeout)
	assert.Equal(t, "https://quote-api.jup.ag/v6", c.Venue.SwapAPIURL)
	assert.Equal(t, "data/trading.db", c.Storage.DBPath)
	assert.Equal(t, ":9090", c.Monitoring.MetricsAddr)
	assert.Equal(t, 5*time.Second, c.Loops.Orders)
	assert.Equal(t, time.Second, c.Loops.Trailing)
	assert.Equal(t, time.Minute, c.Loops.DCA)
	assert.Equal(t, 30*time.Second, c.Loops.Scheduler)
	assert.Equal(t, 2*time.Second, c.Loops.PriceRefresh)
	assert.Equal(t, "SOLUSDT", c.Exchange.SymbolMap["SOL"])
	assert.False(t, c.TelegramEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MAX_TRADE_SIZE", "25")
	t.Setenv("DEFAULT_SLIPPAGE_BPS", "250")
	t.Setenv("EXECUTOR_TIMEOUT", "45s")
	t.Setenv("BYBIT_TESTNET", "true")
	t.Setenv("PRICE_SYMBOL_MAP", "sol=solusdt, wif=WIFUSDT")
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("EXECUTOR_MAX_QUEUE", "not-a-number")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25.0, c.Trading.MaxTradeSize)
	assert.Equal(t, uint32(250), c.Trading.SlippageBps)
	assert.Equal(t, 45*time.Second, c.Executor.Timeout)
	assert.True(t, c.Exchange.Testnet)
	assert.Equal(t, map[string]string{"SOL": "SOLUSDT", "WIF": "WIFUSDT"}, c.Exchange.SymbolMap)
	assert.True(t, c.TelegramEnabled())
	assert.Equal(t, 100, c.Executor.MaxQueue, "unparsable values fall back to the default")

	exec := c.ExecutionConfig()
	assert.Equal(t, 25.0, exec.MaxTradeAmount)
	assert.Equal(t, uint32(250), exec.SlippageBps)
	assert.Equal(t, 45*time.Second, exec.Timeout)
	assert.Equal(t, uint32(3), exec.VenueBreaker.FailureThreshold)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"max below min", map[string]string{"MAX_TRADE_SIZE": "0.0001"}},
		{"slippage above ceiling", map[string]string{"MAX_SLIPPAGE_BPS": "5000"}},
		{"default above max", map[string]string{"DEFAULT_SLIPPAGE_BPS": "600", "MAX_SLIPPAGE_BPS": "500"}},
		{"bad wallet", map[string]string{"WALLET_ADDRESS": "0xabc"}},
		{"zero loop", map[string]string{"DCA_LOOP_INTERVAL": "0s"}},
		{"telegram half set", map[string]string{"TELEGRAM_BOT_TOKEN": "token"}},
		{"bad symbol map", map[string]string{"PRICE_SYMBOL_MAP": "SOL"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfig) || errors.IsKind(err, errors.KindValidation), "got %v", err)
		})
	}
}

const schedulesYAML = `
schedules:
  - id: morning-sol
    strategy_id: strat-1
    owner: 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM
    token: SOL
    timezone: America/New_York
    type:
      kind: cron
      cron:
        expression: "0 9 * * 1-5"
    window:
      start: "09:00"
      end: "17:00"
      days: [mon, tue, wed, thu, fri]
    skip_weekends: true
    max_executions: 20
    conditions:
      - kind: minimum_balance
        asset: USDC
        min_amount: 50
      - kind: network_congestion
        max_priority_fee: 50000
    notifications:
      on_execution: true
      on_failure: true
  - strategy_id: strat-2
    token: SOL
    type:
      kind: price_based
      price:
        check_interval_minutes: 5
        conditions:
          - type: percentage_change
            target: -5
            timeframe: 1h
`

func TestParseSchedules(t *testing.T) {
	got, err := ParseSchedules([]byte(schedulesYAML))
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "morning-sol", first.ID)
	assert.Equal(t, scheduler.KindCron, first.Type.Kind)
	require.NotNil(t, first.Type.Cron)
	assert.Equal(t, "0 9 * * 1-5", first.Type.Cron.Expression)
	require.NotNil(t, first.Window)
	assert.Equal(t, scheduler.Weekdays, first.Window.Days)
	require.NotNil(t, first.MaxExecutions)
	assert.Equal(t, 20, *first.MaxExecutions)
	require.Len(t, first.Conditions, 2)
	assert.Equal(t, scheduler.ConditionMinBalance, first.Conditions[0].Kind)
	assert.Equal(t, 50.0, first.Conditions[0].MinAmount)
	assert.Equal(t, uint64(50000), first.Conditions[1].MaxPriorityFee)
	assert.True(t, first.Notifications.OnExecution)

	second := got[1]
	assert.Equal(t, "price_based-strat-2", second.Name)
	assert.Equal(t, scheduler.DefaultNotificationConfig(), second.Notifications)
	require.NotNil(t, second.Type.Price)
	assert.Equal(t, 5, second.Type.Price.CheckIntervalMinutes)
	require.Len(t, second.Type.Price.Conditions, 1)
	assert.Equal(t, orders.PricePercentageChange, second.Type.Price.Conditions[0].Type)
	assert.Equal(t, time.Hour, second.Type.Price.Conditions[0].Timeframe)
}

func TestParseSchedules_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown top-level key", "schedule:\n  - strategy_id: a\n"},
		{"missing strategy", "schedules:\n  - name: orphan\n    type: {kind: cron}\n"},
		{"duplicate id", "schedules:\n  - {id: a, strategy_id: s1}\n  - {id: a, strategy_id: s2}\n"},
		{"malformed", "schedules: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchedules([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.IsKind(err, errors.KindConfig))
		})
	}
}

func TestLoadSchedules_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedules")
	require.NoError(t, os.WriteFile(path+".yaml", []byte(schedulesYAML), 0o644))

	got, err := LoadSchedules(path)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = LoadSchedules(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}
