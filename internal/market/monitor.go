package market

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/monitoring"
	"github.com/ducminhle1904/trade-automation/internal/safety"
	"github.com/ducminhle1904/trade-automation/pkg/types"
)

const (
	MaxHistory = 1000
	MaxCandles = 500
)

// Snapshot is an immutable copy of one token's market state
type Snapshot struct {
	Token     string
	Price     float64
	Volume24h float64
	Timestamp time.Time
	History   []types.PricePoint // oldest first, includes the current price
	Candles   []types.OHLCV
}

// Prices returns the history as a plain price series
func (s Snapshot) Prices() []float64 {
	out := make([]float64, len(s.History))
	for i, p := range s.History {
		out[i] = p.Price
	}
	return out
}

// PreviousPrice returns the observation before the current one
func (s Snapshot) PreviousPrice() (float64, bool) {
	if len(s.History) < 2 {
		return 0, false
	}
	return s.History[len(s.History)-2].Price, true
}

// PriceAt returns the latest observation at or before t
func (s Snapshot) PriceAt(t time.Time) (float64, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if !s.History[i].Timestamp.After(t) {
			return s.History[i].Price, true
		}
	}
	return 0, false
}

// AverageVolume is the mean of observed 24h volumes, excluding the current one
func (s Snapshot) AverageVolume() float64 {
	if len(s.History) < 2 {
		return s.Volume24h
	}
	sum := 0.0
	for _, p := range s.History[:len(s.History)-1] {
		sum += p.Volume
	}
	return sum / float64(len(s.History)-1)
}

type monitor struct {
	latest     types.PriceData
	history    []types.PricePoint
	candles    []types.OHLCV
	backfilled bool
}

// Monitors is the shared registry of per-token price monitors.
// Monitors are created lazily on first reference and shared by every consumer of the token.
type Monitors struct {
	mu             sync.RWMutex
	monitors       map[string]*monitor
	oracle         PriceOracle
	breaker        *safety.CircuitBreaker
	candleInterval time.Duration
	timeout        time.Duration
	logger         *zap.Logger
}

// NewMonitors creates an empty registry. breaker may be nil.
func NewMonitors(oracle PriceOracle, breaker *safety.CircuitBreaker, candleInterval time.Duration, logger *zap.Logger) *Monitors {
	if logger == nil {
		logger = zap.NewNop()
	}
	if candleInterval <= 0 {
		candleInterval = time.Minute
	}
	return &Monitors{
		monitors:       make(map[string]*monitor),
		oracle:         oracle,
		breaker:        breaker,
		candleInterval: candleInterval,
		timeout:        10 * time.Second,
		logger:         logger.Named("price_monitor"),
	}
}

// Ensure registers a monitor for token if none exists
func (m *Monitors) Ensure(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.monitors[token]; !ok {
		m.monitors[token] = &monitor{}
		m.logger.Debug("price monitor created", zap.String("token", token))
	}
}

// Tokens returns every monitored token in sorted order
func (m *Monitors) Tokens() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.monitors))
	for t := range m.monitors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Update records a new observation for token, creating its monitor if needed
func (m *Monitors) Update(token string, pd types.PriceData) {
	if pd.Timestamp.IsZero() {
		pd.Timestamp = time.Now()
	}

	m.mu.Lock()
	mon, ok := m.monitors[token]
	if !ok {
		mon = &monitor{}
		m.monitors[token] = mon
	}
	mon.latest = pd
	mon.history = append(mon.history, types.PricePoint{Price: pd.USDPrice, Volume: pd.Volume24h, Timestamp: pd.Timestamp})
	if len(mon.history) > MaxHistory {
		mon.history = mon.history[len(mon.history)-MaxHistory:]
	}
	m.appendCandle(mon, pd)
	m.mu.Unlock()

	monitoring.UpdatePrice(token, pd.USDPrice)
}

// appendCandle folds an observation into the current candle; caller holds the lock
func (m *Monitors) appendCandle(mon *monitor, pd types.PriceData) {
	bucket := pd.Timestamp.Truncate(m.candleInterval)
	if n := len(mon.candles); n > 0 && mon.candles[n-1].Timestamp.Equal(bucket) {
		c := &mon.candles[n-1]
		if pd.USDPrice > c.High {
			c.High = pd.USDPrice
		}
		if pd.USDPrice < c.Low {
			c.Low = pd.USDPrice
		}
		c.Close = pd.USDPrice
		c.Volume = pd.Volume24h
		return
	}
	mon.candles = append(mon.candles, types.OHLCV{
		Open: pd.USDPrice, High: pd.USDPrice, Low: pd.USDPrice, Close: pd.USDPrice,
		Volume: pd.Volume24h, Timestamp: bucket,
	})
	if len(mon.candles) > MaxCandles {
		mon.candles = mon.candles[len(mon.candles)-MaxCandles:]
	}
}

// SetCandles replaces the candle history of token, used for backfill
func (m *Monitors) SetCandles(token string, candles []types.OHLCV) {
	if len(candles) > MaxCandles {
		candles = candles[len(candles)-MaxCandles:]
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mon, ok := m.monitors[token]
	if !ok {
		mon = &monitor{}
		m.monitors[token] = mon
	}
	mon.candles = append([]types.OHLCV(nil), candles...)
	mon.backfilled = true
	if len(mon.history) == 0 {
		for _, c := range candles {
			mon.history = append(mon.history, types.PricePoint{Price: c.Close, Volume: c.Volume, Timestamp: c.Timestamp})
		}
		if len(mon.history) > MaxHistory {
			mon.history = mon.history[len(mon.history)-MaxHistory:]
		}
	}
}

// Snapshot returns a copy of the token's state; false if it has no price yet
func (m *Monitors) Snapshot(token string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mon, ok := m.monitors[token]
	if !ok || mon.latest.USDPrice <= 0 {
		return Snapshot{}, false
	}
	return Snapshot{
		Token:     token,
		Price:     mon.latest.USDPrice,
		Volume24h: mon.latest.Volume24h,
		Timestamp: mon.latest.Timestamp,
		History:   append([]types.PricePoint(nil), mon.history...),
		Candles:   append([]types.OHLCV(nil), mon.candles...),
	}, true
}

// Refresh fetches prices for every monitored token in one oracle call.
// No lock is held during the call.
func (m *Monitors) Refresh(ctx context.Context) error {
	tokens := m.Tokens()
	if len(tokens) == 0 || m.oracle == nil {
		return nil
	}

	m.backfill(ctx)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var prices map[string]types.PriceData
	call := func() error {
		var err error
		prices, err = m.oracle.GetPrices(ctx, tokens)
		return errors.FromContext(err, "price_oracle", "get_prices")
	}

	var err error
	if m.breaker != nil {
		err = m.breaker.Call(call)
	} else {
		err = call()
	}
	if err != nil {
		monitoring.RecordError("price_monitor", string(errors.KindOf(err)))
		return err
	}

	for token, pd := range prices {
		m.Update(token, pd)
	}
	return nil
}

// backfill seeds candle history once per token when the oracle can provide it
func (m *Monitors) backfill(ctx context.Context) {
	source, ok := m.oracle.(CandleSource)
	if !ok {
		return
	}

	m.mu.Lock()
	var pending []string
	for token, mon := range m.monitors {
		if !mon.backfilled {
			mon.backfilled = true
			pending = append(pending, token)
		}
	}
	m.mu.Unlock()

	for _, token := range pending {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		candles, err := source.GetCandles(cctx, token, m.candleInterval, 200)
		cancel()
		if err != nil {
			m.logger.Warn("candle backfill failed", zap.String("token", token), zap.Error(err))
			continue
		}
		m.SetCandles(token, candles)
	}
}

// Run refreshes prices every interval until ctx is done
func (m *Monitors) Run(ctx context.Context, interval time.Duration, heartbeat func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := m.Refresh(ctx)
			if err != nil {
				m.logger.Warn("price refresh failed", zap.Error(err))
			}
			if heartbeat != nil {
				heartbeat(err)
			}
		}
	}
}
