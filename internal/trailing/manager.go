package trailing

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/execution"
	"github.com/ducminhle1904/trade-automation/internal/market"
	"github.com/ducminhle1904/trade-automation/internal/monitoring"
	"github.com/ducminhle1904/trade-automation/internal/notifications"
	"github.com/ducminhle1904/trade-automation/internal/orders"
	"github.com/ducminhle1904/trade-automation/internal/regime"
)

const component = "trailing_stop"

// Trigger causes
const (
	CauseStopHit    = "stop_hit"
	CauseMaxLoss    = "max_loss"
	CauseProfitLock = "profit_lock"
	CauseTimeStop   = "time_stop"
	CauseDrawdown   = "drawdown_limit"
)

// OrderManager is the part of the order manager a trailing stop drives
type OrderManager interface {
	CreateOrder(ctx context.Context, o *orders.Order) (*orders.Order, error)
	CancelOrder(ctx context.Context, id string) (bool, error)
	UpdateStopPrice(ctx context.Context, id string, stop float64) error
	UpdateTrailingWatermark(id string, highest float64)
	TriggerOrder(ctx context.Context, id string) error
	GetOrder(id string) (*orders.Order, bool)
}

// SentimentSource scores market sentiment for a token in [-1, 1]
type SentimentSource interface {
	Sentiment(ctx context.Context, token string) (float64, error)
}

// CreateRequest describes a new trailing stop
type CreateRequest struct {
	Owner        string
	Token        string
	Strategy     Strategy
	Side         PositionSide
	EntryPrice   float64
	PositionSize float64
	Risk         *RiskControls // nil uses DefaultRiskControls
}

// Manager adjusts stops as price moves favorably and force-triggers linked orders
type Manager struct {
	mu    sync.RWMutex
	stops map[string]*State

	orders    OrderManager
	monitors  *market.Monitors
	sentiment SentimentSource
	notifier  notifications.Notifier
	trend     *regime.Detector
	interval  time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewManager creates a trailing stop manager ticking every interval
func NewManager(om OrderManager, monitors *market.Monitors, notifier notifications.Notifier, interval time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Manager{
		stops:    make(map[string]*State),
		orders:   om,
		monitors: monitors,
		notifier: notifier,
		trend:    regime.NewDetector(regime.DefaultRegimeConfig()),
		interval: interval,
		now:      time.Now,
		logger:   logger.Named(component),
	}
}

// SetClock overrides the time source
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetSentimentSource attaches a sentiment feed for adaptive stops
func (m *Manager) SetSentimentSource(s SentimentSource) { m.sentiment = s }

// Create places the linked order and starts trailing it
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*State, error) {
	if err := validateStrategy(req.Strategy); err != nil {
		return nil, err
	}
	if req.EntryPrice <= 0 || math.IsNaN(req.EntryPrice) {
		return nil, errors.NewValidationError(component, "create", "entry price must be positive")
	}
	if req.PositionSize <= 0 {
		return nil, errors.NewValidationError(component, "create", "position size must be positive")
	}
	if req.Side == "" {
		req.Side = Long
	}
	if req.Side != Long && req.Side != Short {
		return nil, errors.NewValidationError(component, "create", fmt.Sprintf("unknown position side %q", req.Side))
	}
	risk := DefaultRiskControls()
	if req.Risk != nil {
		risk = *req.Risk
	}

	stop := initialStop(req.Strategy, req.Side, req.EntryPrice)
	if stop <= 0 {
		return nil, errors.NewValidationError(component, "create", fmt.Sprintf("initial stop %.6f is not a valid price", stop))
	}

	order, err := m.orders.CreateOrder(ctx, linkedOrder(req, stop))
	if err != nil {
		return nil, err
	}

	now := m.now()
	st := &State{
		ID:           uuid.NewString(),
		OrderID:      order.ID,
		Owner:        req.Owner,
		Token:        req.Token,
		Strategy:     req.Strategy,
		Side:         req.Side,
		CurrentStop:  stop,
		HighestPrice: req.EntryPrice,
		LowestPrice:  req.EntryPrice,
		EntryPrice:   req.EntryPrice,
		PositionSize: req.PositionSize,
		Status:       StatusActive,
		Risk:         risk,
		CreatedAt:    now,
		LastUpdated:  now,
	}

	m.mu.Lock()
	m.stops[st.ID] = st
	m.mu.Unlock()

	m.logger.Info("trailing stop created",
		zap.String("stop_id", st.ID),
		zap.String("order_id", st.OrderID),
		zap.String("token", st.Token),
		zap.String("strategy", string(st.Strategy.Kind)),
		zap.Float64("stop", stop))
	return st.clone(), nil
}

// CreatePercentage is a shortcut for a plain percentage trailing stop
func (m *Manager) CreatePercentage(ctx context.Context, owner, token string, side PositionSide, entry, size, pct float64) (*State, error) {
	return m.Create(ctx, CreateRequest{
		Owner:        owner,
		Token:        token,
		Strategy:     PercentageStrategy(pct),
		Side:         side,
		EntryPrice:   entry,
		PositionSize: size,
	})
}

// linkedOrder is a sell stop for longs and a buy stop above price for shorts
func linkedOrder(req CreateRequest, stop float64) *orders.Order {
	if req.Side == Short {
		o := orders.NewLimit(req.Owner, req.Token, req.PositionSize*stop, stop, execution.SideBuy, orders.GTC, nil)
		o.Conditions.Price[0].Type = orders.PriceAbove
		return o
	}
	return orders.NewStopLoss(req.Owner, req.Token, req.PositionSize, stop)
}

// Cancel stops trailing and cancels the linked order; false if unknown or finished
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	st, ok := m.stops[id]
	if !ok || !st.Status.live() {
		m.mu.Unlock()
		return false, nil
	}
	st.Status = StatusCancelled
	st.LastUpdated = m.now()
	orderID := st.OrderID
	m.mu.Unlock()

	if _, err := m.orders.CancelOrder(ctx, orderID); err != nil {
		return true, err
	}
	m.logger.Info("trailing stop cancelled", zap.String("stop_id", id))
	return true, nil
}

// Get returns a copy of a trailing stop
func (m *Manager) Get(id string) (*State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stops[id]
	if !ok {
		return nil, false
	}
	return st.clone(), true
}

// GetPerformance returns the performance metrics of a trailing stop
func (m *Manager) GetPerformance(id string) (Performance, bool) {
	st, ok := m.Get(id)
	if !ok {
		return Performance{}, false
	}
	return st.Performance, true
}

// GetUserStops returns copies of the owner's trailing stops, oldest first
func (m *Manager) GetUserStops(owner string) []*State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*State
	for _, st := range m.stops {
		if st.Owner == owner {
			out = append(out, st.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Run ticks every interval until ctx is done
func (m *Manager) Run(ctx context.Context, heartbeat func(error)) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
			if heartbeat != nil {
				heartbeat(nil)
			}
		}
	}
}

// Tick updates every live trailing stop once
func (m *Manager) Tick(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.stops))
	for id, st := range m.stops {
		if st.Status.live() {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := m.update(ctx, id); err != nil {
			m.logger.Warn("trailing stop update failed", zap.String("stop_id", id), zap.Error(err))
		}
	}
}

// update runs one tick for a stop: adjust, track, then check risk controls
func (m *Manager) update(ctx context.Context, id string) error {
	m.mu.RLock()
	st, ok := m.stops[id]
	if !ok || !st.Status.live() {
		m.mu.RUnlock()
		return nil
	}
	view := st.clone()
	m.mu.RUnlock()

	snap, ok := m.monitors.Snapshot(view.Token)
	if _, live := m.orders.GetOrder(view.OrderID); !live {
		m.closeOrphan(view, snap.Price)
		return nil
	}
	if !ok || snap.Price <= 0 {
		return nil
	}
	price := snap.Price
	now := m.now()

	mv := marketView{snap: snap, trend: m.trend}
	if view.Strategy.Kind == KindAdaptive && m.sentiment != nil {
		if s, err := m.sentiment.Sentiment(ctx, view.Token); err == nil {
			mv.sentiment = clamp(s, -1, 1)
		}
	}

	paused := view.Risk.VolumeThreshold != nil && snap.Volume24h < *view.Risk.VolumeThreshold
	candidate, active := 0.0, false
	if !paused {
		candidate, active = candidateStop(view, price, mv, now)
	}

	m.mu.Lock()
	st, ok = m.stops[id]
	if !ok || !st.Status.live() {
		m.mu.Unlock()
		return nil
	}
	if paused && st.Status == StatusActive {
		st.Status = StatusPaused
		m.logger.Info("trailing paused on low volume", zap.String("stop_id", id), zap.Float64("volume_24h", snap.Volume24h))
	} else if !paused && st.Status == StatusPaused {
		st.Status = StatusActive
		m.logger.Info("trailing resumed", zap.String("stop_id", id))
	}

	adjusted := active && candidate > 0 && st.better(candidate)
	var old float64
	if adjusted {
		old = st.CurrentStop
		st.CurrentStop = candidate
		perf := &st.Performance
		perf.Adjustments++
		size := math.Abs(candidate - old)
		perf.AverageAdjustment += (size - perf.AverageAdjustment) / float64(perf.Adjustments)
	}
	m.track(st, price, now)
	cause := m.riskCause(st, price, now)
	if cause != "" {
		st.Status = StatusTriggered
		st.TriggerCause = cause
	}
	st.LastUpdated = now
	snapshot := st.clone()
	m.mu.Unlock()

	if adjusted {
		monitoring.RecordTrailingAdjustment(string(snapshot.Strategy.Kind))
		m.logger.Debug("trailing stop adjusted",
			zap.String("stop_id", id),
			zap.Float64("from", old),
			zap.Float64("to", snapshot.CurrentStop),
			zap.Float64("price", price))
		if err := m.orders.UpdateStopPrice(ctx, snapshot.OrderID, snapshot.CurrentStop); err != nil {
			return err
		}
		watermark := snapshot.HighestPrice
		if snapshot.Side == Short {
			watermark = snapshot.LowestPrice
		}
		m.orders.UpdateTrailingWatermark(snapshot.OrderID, watermark)
	}

	if cause != "" {
		return m.trigger(ctx, snapshot, price)
	}
	return nil
}

// track updates watermarks and performance; caller holds the lock
func (m *Manager) track(st *State, price float64, now time.Time) {
	if price > st.HighestPrice {
		st.HighestPrice = price
	}
	if price < st.LowestPrice || st.LowestPrice == 0 {
		st.LowestPrice = price
	}

	perf := &st.Performance
	profit := st.profitPct(price)
	perf.CurrentProfitPct = profit
	favorable, adverse := st.HighestPrice, st.LowestPrice
	if st.Side == Short {
		favorable, adverse = st.LowestPrice, st.HighestPrice
	}
	perf.MaxFavorableExcursion = favorable
	perf.MaxAdverseExcursion = adverse

	if !st.lastTick.IsZero() {
		elapsed := now.Sub(st.lastTick)
		if profit >= 0 {
			perf.TimeInProfit += elapsed
		} else {
			perf.TimeInLoss += elapsed
		}
	}
	st.lastTick = now
}

// riskCause returns why the stop must fire now, or ""; caller holds the lock
func (m *Manager) riskCause(st *State, price float64, now time.Time) string {
	if st.crossed(price) {
		return CauseStopHit
	}
	profit := st.profitPct(price)
	if st.Risk.MaxLossPercentage > 0 && -profit >= st.Risk.MaxLossPercentage {
		return CauseMaxLoss
	}
	if lock := st.Risk.ProfitLockPercentage; lock != nil && profit >= *lock {
		return CauseProfitLock
	}
	if ts := st.Risk.TimeStop; ts != nil && !now.Before(*ts) {
		return CauseTimeStop
	}
	if dd := st.Risk.DrawdownLimit; dd != nil && *dd > 0 {
		var retrace float64
		if st.Side == Short {
			if st.LowestPrice > 0 {
				retrace = (price - st.LowestPrice) / st.LowestPrice * 100
			}
		} else if st.HighestPrice > 0 {
			retrace = (st.HighestPrice - price) / st.HighestPrice * 100
		}
		if retrace >= *dd {
			return CauseDrawdown
		}
	}
	return ""
}

func (m *Manager) trigger(ctx context.Context, st *State, price float64) error {
	monitoring.RecordTrailingTrigger(st.TriggerCause)
	m.logger.Info("trailing stop triggered",
		zap.String("stop_id", st.ID),
		zap.String("cause", st.TriggerCause),
		zap.Float64("price", price),
		zap.Float64("stop", st.CurrentStop))

	err := m.notifier.Notify(ctx, st.Owner, notifications.Event{
		Type:    notifications.EventStopTriggered,
		Level:   notifications.LevelWarning,
		Title:   fmt.Sprintf("trailing stop %s", st.Token),
		Message: fmt.Sprintf("%s at %.6f (stop %.6f)", st.TriggerCause, price, st.CurrentStop),
		Fields: map[string]string{
			"stop_id":  st.ID,
			"order_id": st.OrderID,
			"profit":   fmt.Sprintf("%.2f%%", st.Performance.CurrentProfitPct),
		},
	})
	if err != nil {
		m.logger.Debug("notification failed", zap.Error(err))
	}

	return m.orders.TriggerOrder(ctx, st.OrderID)
}

// closeOrphan finishes a stop whose linked order left the order registry.
// A stop already crossed at price counts as triggered, anything else as cancelled.
func (m *Manager) closeOrphan(view *State, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stops[view.ID]
	if !ok || !st.Status.live() {
		return
	}
	if price > 0 && st.crossed(price) {
		st.Status = StatusTriggered
		st.TriggerCause = CauseStopHit
	} else {
		st.Status = StatusCancelled
	}
	st.LastUpdated = m.now()
	m.logger.Info("linked order closed, trailing stopped",
		zap.String("stop_id", st.ID),
		zap.String("order_id", st.OrderID),
		zap.String("status", string(st.Status)))
}
