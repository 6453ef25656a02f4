package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/execution"
	"github.com/ducminhle1904/trade-automation/internal/safety"
)

const component = "config"

type Config struct {
	Environment string
	LogLevel    string
	LogDir      string

	Trading struct {
		MinTradeSize   float64
		MaxTradeSize   float64
		SlippageBps    uint32
		MaxSlippageBps uint32
		PriorityFee    uint64
		QuoteToken     string
		WalletAddress  string
	}

	Executor struct {
		MaxConcurrent int
		MaxQueue      int
		Timeout       time.Duration
	}

	Venue struct {
		SwapAPIURL string
		SwapAPIRPS float64
		RPCURL     string
	}

	Exchange struct {
		Testnet     bool
		SymbolMap   map[string]string // token -> oracle symbol
		OracleRPS   float64
		Stablecoins []string
	}

	Loops struct {
		Orders       time.Duration
		Trailing     time.Duration
		DCA          time.Duration
		Scheduler    time.Duration
		PriceRefresh time.Duration
	}

	Storage struct {
		DBPath        string
		SchedulesFile string
	}

	Monitoring struct {
		MetricsAddr string
	}

	Notifications struct {
		TelegramToken  string
		TelegramChatID string
	}
}

// Load reads the process configuration from the environment and validates it
func Load() (*Config, error) {
	c := &Config{
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogDir:      getEnv("LOG_DIR", "logs"),
	}

	c.Trading.MinTradeSize = getEnvFloat("MIN_TRADE_SIZE", 0.001)
	c.Trading.MaxTradeSize = getEnvFloat("MAX_TRADE_SIZE", 10)
	c.Trading.SlippageBps = uint32(getEnvInt("DEFAULT_SLIPPAGE_BPS", 100))
	c.Trading.MaxSlippageBps = uint32(getEnvInt("MAX_SLIPPAGE_BPS", 1000))
	c.Trading.PriorityFee = uint64(getEnvInt("DEFAULT_PRIORITY_FEE", 10_000))
	c.Trading.QuoteToken = getEnv("QUOTE_TOKEN", "SOL")
	c.Trading.WalletAddress = getEnv("WALLET_ADDRESS", "")

	c.Executor.MaxConcurrent = getEnvInt("EXECUTOR_MAX_CONCURRENT", 10)
	c.Executor.MaxQueue = getEnvInt("EXECUTOR_MAX_QUEUE", 100)
	c.Executor.Timeout = getEnvDuration("EXECUTOR_TIMEOUT", 30*time.Second)

	c.Venue.SwapAPIURL = getEnv("SWAP_API_URL", "https://quote-api.jup.ag/v6")
	c.Venue.SwapAPIRPS = getEnvFloat("SWAP_API_RPS", 10)
	c.Venue.RPCURL = getEnv("RPC_URL", "https://api.mainnet-beta.solana.com")

	c.Exchange.Testnet = getEnvBool("BYBIT_TESTNET", false)
	c.Exchange.OracleRPS = getEnvFloat("BYBIT_RPS", 10)
	c.Exchange.Stablecoins = getEnvList("STABLECOINS", []string{"USDC", "USDT"})
	symbols, err := parseSymbolMap(getEnv("PRICE_SYMBOL_MAP", "SOL=SOLUSDT,BONK=BONKUSDT,JUP=JUPUSDT"))
	if err != nil {
		return nil, errors.Wrap(err, errors.KindConfig, component, "load")
	}
	c.Exchange.SymbolMap = symbols

	c.Loops.Orders = getEnvDuration("ORDER_LOOP_INTERVAL", 5*time.Second)
	c.Loops.Trailing = getEnvDuration("TRAILING_LOOP_INTERVAL", time.Second)
	c.Loops.DCA = getEnvDuration("DCA_LOOP_INTERVAL", time.Minute)
	c.Loops.Scheduler = getEnvDuration("SCHEDULER_LOOP_INTERVAL", 30*time.Second)
	c.Loops.PriceRefresh = getEnvDuration("PRICE_REFRESH_INTERVAL", 2*time.Second)

	c.Storage.DBPath = getEnv("DB_PATH", "data/trading.db")
	c.Storage.SchedulesFile = getEnv("SCHEDULES_FILE", "")

	c.Monitoring.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	c.Notifications.TelegramToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	c.Notifications.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	bad := func(format string, args ...interface{}) error {
		return errors.NewConfigError(component, "validate", fmt.Sprintf(format, args...))
	}

	if c.Trading.MinTradeSize <= 0 {
		return bad("MIN_TRADE_SIZE must be positive")
	}
	if c.Trading.MaxTradeSize < c.Trading.MinTradeSize {
		return bad("MAX_TRADE_SIZE %.6f is below MIN_TRADE_SIZE %.6f", c.Trading.MaxTradeSize, c.Trading.MinTradeSize)
	}
	if c.Trading.MaxSlippageBps == 0 || c.Trading.MaxSlippageBps > safety.MaxSlippageBps {
		return bad("MAX_SLIPPAGE_BPS must be in (0, %d]", safety.MaxSlippageBps)
	}
	if c.Trading.SlippageBps > c.Trading.MaxSlippageBps {
		return bad("DEFAULT_SLIPPAGE_BPS %d exceeds MAX_SLIPPAGE_BPS %d", c.Trading.SlippageBps, c.Trading.MaxSlippageBps)
	}
	if c.Trading.WalletAddress != "" {
		if err := safety.NewValidator(0, 0).ValidateAddress(c.Trading.WalletAddress).Err(component, "validate"); err != nil {
			return err
		}
	}
	if c.Executor.MaxConcurrent <= 0 || c.Executor.MaxQueue <= 0 {
		return bad("executor concurrency and queue size must be positive")
	}
	if c.Executor.Timeout <= 0 {
		return bad("EXECUTOR_TIMEOUT must be positive")
	}
	if c.Venue.SwapAPIRPS <= 0 || c.Exchange.OracleRPS <= 0 {
		return bad("rate limits must be positive")
	}
	for name, d := range map[string]time.Duration{
		"ORDER_LOOP_INTERVAL":     c.Loops.Orders,
		"TRAILING_LOOP_INTERVAL":  c.Loops.Trailing,
		"DCA_LOOP_INTERVAL":       c.Loops.DCA,
		"SCHEDULER_LOOP_INTERVAL": c.Loops.Scheduler,
		"PRICE_REFRESH_INTERVAL":  c.Loops.PriceRefresh,
	} {
		if d <= 0 {
			return bad("%s must be positive", name)
		}
	}
	if (c.Notifications.TelegramToken == "") != (c.Notifications.TelegramChatID == "") {
		return bad("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return nil
}

// ExecutionConfig maps the trading and executor settings onto the execution actor
func (c *Config) ExecutionConfig() execution.Config {
	cfg := execution.DefaultConfig()
	cfg.MaxConcurrent = c.Executor.MaxConcurrent
	cfg.MaxQueue = c.Executor.MaxQueue
	cfg.Timeout = c.Executor.Timeout
	cfg.MinTradeAmount = c.Trading.MinTradeSize
	cfg.MaxTradeAmount = c.Trading.MaxTradeSize
	cfg.SlippageBps = c.Trading.SlippageBps
	cfg.PriorityFee = c.Trading.PriorityFee
	cfg.QuoteToken = c.Trading.QuoteToken
	return cfg
}

// TelegramEnabled reports whether notifications go to Telegram
func (c *Config) TelegramEnabled() bool {
	return c.Notifications.TelegramToken != ""
}

// parseSymbolMap reads "TOKEN=SYMBOL,TOKEN=SYMBOL"
func parseSymbolMap(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, symbol, ok := strings.Cut(pair, "=")
		token, symbol = strings.TrimSpace(token), strings.TrimSpace(symbol)
		if !ok || token == "" || symbol == "" {
			return nil, fmt.Errorf("invalid PRICE_SYMBOL_MAP entry %q", pair)
		}
		out[strings.ToUpper(token)] = strings.ToUpper(symbol)
	}
	return out, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, strings.ToUpper(item))
		}
	}
	return out
}
