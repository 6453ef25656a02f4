package orders

import (
	"context"
	"encoding/json"
	"fmt"
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
	"github.com/ducminhle1904/trade-automation/internal/safety"
	"github.com/ducminhle1904/trade-automation/internal/store"
)

const component = "order_manager"

// MaxHistory bounds the in-memory execution history
const MaxHistory = 1000

// Executor is the part of the execution actor the manager needs
type Executor interface {
	Quote(ctx context.Context, side execution.Side, req execution.TradeRequest) (*execution.TradeResult, error)
	Buy(ctx context.Context, req execution.TradeRequest) (*execution.TradeResult, error)
	Sell(ctx context.Context, req execution.TradeRequest) (*execution.TradeResult, error)
}

// Store persists orders and their execution history
type Store interface {
	SaveOrder(ctx context.Context, rec store.Record) error
	ListOrders(ctx context.Context, statuses ...string) ([]store.Record, error)
	AppendExecution(ctx context.Context, e store.Execution) error
}

// Config for the order manager loop
type Config struct {
	LoopInterval time.Duration
}

// DefaultConfig evaluates orders every 5 seconds
func DefaultConfig() Config {
	return Config{LoopInterval: 5 * time.Second}
}

// Manager owns the active-order registry
type Manager struct {
	mu       sync.RWMutex
	orders   map[string]*Order
	inflight map[string]bool
	history  []OrderExecution

	cfg       Config
	executor  Executor
	monitors  *market.Monitors
	store     Store
	notifier  notifications.Notifier
	validator *safety.Validator
	now       func() time.Time
	logger    *zap.Logger
}

// NewManager creates a manager. store and notifier may be nil.
func NewManager(cfg Config, executor Executor, monitors *market.Monitors, st Store, notifier notifications.Notifier, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = DefaultConfig().LoopInterval
	}
	return &Manager{
		orders:    make(map[string]*Order),
		inflight:  make(map[string]bool),
		cfg:       cfg,
		executor:  executor,
		monitors:  monitors,
		store:     st,
		notifier:  notifier,
		validator: safety.NewValidator(0, 0),
		now:       time.Now,
		logger:    logger.Named(component),
	}
}

// SetClock overrides the time source
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Manager) validate(o *Order) error {
	if !o.Type.payloadMatches() {
		return errors.NewValidationError(component, "create_order", fmt.Sprintf("order type %q has no matching parameters", o.Type.Kind))
	}
	if err := m.validator.ValidateAddress(o.Owner).Err(component, "create_order"); err != nil {
		return err
	}
	if o.Token == "" {
		return errors.NewValidationError(component, "create_order", "token is required")
	}
	if err := m.validator.ValidateTradeAmount(o.Amount, 0).Err(component, "create_order"); err != nil {
		return err
	}
	if o.Conditions.Empty() {
		return errors.NewValidationError(component, "create_order", "order has no trigger conditions")
	}
	if err := m.validator.ValidateSlippage(o.Execution.MaxSlippageBps).Err(component, "create_order"); err != nil {
		return err
	}

	switch o.Conditions.Logic {
	case LogicAnd, LogicOr:
	case LogicWeighted:
		if len(o.Conditions.Weights) != weightCount {
			return errors.NewValidationError(component, "create_order",
				fmt.Sprintf("weighted logic needs %d weights, got %d", weightCount, len(o.Conditions.Weights)))
		}
		for _, w := range o.Conditions.Weights {
			if w < 0 {
				return errors.NewValidationError(component, "create_order", "weights must not be negative")
			}
		}
	default:
		return errors.NewValidationError(component, "create_order", fmt.Sprintf("unknown logic %q", o.Conditions.Logic))
	}

	for _, c := range o.Conditions.Price {
		if c.Type == PriceAbove || c.Type == PriceBelow || c.Type == PriceCrossingAbove || c.Type == PriceCrossingBelow {
			if err := m.validator.ValidatePrice(c.Target, o.Token).Err(component, "create_order"); err != nil {
				return err
			}
		}
	}

	if o.Type.Kind == KindLimit && o.Type.Limit.TimeInForce == GTD && o.Type.Limit.GoodTill == nil {
		return errors.NewValidationError(component, "create_order", "GTD limit order needs good_till")
	}
	if o.ExpiresAt != nil && !o.ExpiresAt.After(m.now()) {
		return errors.NewValidationError(component, "create_order", "expires_at is in the past")
	}
	return nil
}

// prepare fills defaults and bookkeeping on a new order
func (m *Manager) prepare(o *Order, status Status) {
	now := m.now()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Execution == (ExecutionConfig{}) {
		o.Execution = DefaultExecutionConfig()
	}
	if o.Conditions.Logic == "" {
		o.Conditions.Logic = LogicAnd
	}
	if o.Type.Kind == KindLimit && o.Type.Limit.GoodTill != nil && o.ExpiresAt == nil {
		t := *o.Type.Limit.GoodTill
		o.ExpiresAt = &t
	}
	o.Remaining = o.Amount
	o.Status = status
	o.CreatedAt = now
	o.UpdatedAt = now
}

// CreateOrder validates, persists and registers a conditional order
func (m *Manager) CreateOrder(ctx context.Context, o *Order) (*Order, error) {
	if o == nil {
		return nil, errors.NewValidationError(component, "create_order", "order is nil")
	}
	if o.Type.container() {
		return nil, errors.NewValidationError(component, "create_order", "use CreateOCO or CreateBracket for grouped orders")
	}
	o = o.clone()
	m.prepare(o, StatusActive)
	if err := m.validate(o); err != nil {
		return nil, err
	}

	if err := m.persist(ctx, o); err != nil {
		return nil, err
	}
	m.insert(o)

	m.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("type", string(o.Type.Kind)),
		zap.String("token", o.Token),
		zap.Float64("amount", o.Amount))
	m.notify(ctx, o, notifications.EventOrderCreated, notifications.LevelInfo, "order created")
	return o.clone(), nil
}

// CreateStopLoss sells amount once price falls to stopPrice
func (m *Manager) CreateStopLoss(ctx context.Context, owner, token string, amount, stopPrice float64) (*Order, error) {
	return m.CreateOrder(ctx, NewStopLoss(owner, token, amount, stopPrice))
}

// CreateTakeProfit sells once price rises to target
func (m *Manager) CreateTakeProfit(ctx context.Context, owner, token string, amount, target, partialPct float64) (*Order, error) {
	return m.CreateOrder(ctx, NewTakeProfit(owner, token, amount, target, partialPct))
}

// CreateTrailingStop registers a trailing stop starting trailPct below currentPrice
func (m *Manager) CreateTrailingStop(ctx context.Context, owner, token string, amount, trailPct, currentPrice float64) (*Order, error) {
	if trailPct <= 0 || trailPct >= 100 {
		return nil, errors.NewValidationError(component, "create_order", "trail percentage must be in (0, 100)")
	}
	return m.CreateOrder(ctx, NewTrailingStop(owner, token, amount, trailPct, currentPrice))
}

func (m *Manager) insert(orders ...*Order) {
	m.mu.Lock()
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	m.updateGauge()
	m.mu.Unlock()

	if m.monitors != nil {
		for _, o := range orders {
			if !o.Type.container() {
				m.monitors.Ensure(o.Token)
			}
		}
	}
}

// updateGauge must be called with the lock held
func (m *Manager) updateGauge() {
	n := 0
	for _, o := range m.orders {
		if !o.Type.container() {
			n++
		}
	}
	monitoring.UpdateActiveOrders(n)
}

// setStatus applies a status transition; caller holds the lock.
// Terminal orders leave the registry.
func (m *Manager) setStatus(o *Order, to Status) bool {
	if o.Status == to {
		return true
	}
	if !CanTransition(o.Status, to) {
		m.logger.Warn("invalid order status transition",
			zap.String("order_id", o.ID),
			zap.String("from", string(o.Status)),
			zap.String("to", string(to)))
		return false
	}
	o.Status = to
	o.UpdatedAt = m.now()
	if to.IsTerminal() {
		delete(m.orders, o.ID)
	}
	return true
}

// CancelOrder cancels an order and, for grouped orders, every leg.
// It returns false without error when the order is unknown or already finished.
func (m *Manager) CancelOrder(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}

	var changed []*Order
	for _, legID := range o.LinkedIDs {
		if o.Type.container() {
			if leg, ok := m.orders[legID]; ok && m.setStatus(leg, StatusCancelled) {
				changed = append(changed, leg.clone())
			}
		}
	}
	if !m.setStatus(o, StatusCancelled) {
		m.mu.Unlock()
		return false, nil
	}
	changed = append(changed, o.clone())
	changed = append(changed, m.settleParent(o)...)
	m.updateGauge()
	m.mu.Unlock()

	m.logger.Info("order cancelled", zap.String("order_id", id))
	m.notify(ctx, o, notifications.EventOrderCancelled, notifications.LevelInfo, "order cancelled")
	return true, m.persist(ctx, changed...)
}

// ExpireOrders moves every order past its expiry to Expired and returns how many expired
func (m *Manager) ExpireOrders(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	var expired, changed []*Order
	ids := make([]string, 0, len(m.orders))
	for id := range m.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		o, ok := m.orders[id]
		if !ok || o.ExpiresAt == nil || now.Before(*o.ExpiresAt) || m.inflight[id] {
			continue
		}
		if !CanTransition(o.Status, StatusExpired) {
			continue
		}
		if o.Type.container() {
			for _, legID := range o.LinkedIDs {
				if leg, ok := m.orders[legID]; ok && m.setStatus(leg, StatusExpired) {
					changed = append(changed, leg.clone())
				}
			}
		}
		m.setStatus(o, StatusExpired)
		expired = append(expired, o.clone())
		changed = append(changed, o.clone())
		changed = append(changed, m.settleParent(o)...)
	}
	if len(expired) > 0 {
		m.updateGauge()
	}
	m.mu.Unlock()

	for _, o := range expired {
		m.logger.Info("order expired", zap.String("order_id", o.ID))
		m.notify(ctx, o, notifications.EventOrderExpired, notifications.LevelWarning, "order expired before triggering")
	}
	if err := m.persist(ctx, changed...); err != nil {
		m.logger.Warn("persisting expired orders failed", zap.Error(err))
	}
	return len(expired)
}

// GetOrder returns a copy of a registered order
func (m *Manager) GetOrder(id string) (*Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, false
	}
	return o.clone(), true
}

// GetUserOrders returns copies of the owner's registered orders, oldest first
func (m *Manager) GetUserOrders(owner string) []*Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Order
	for _, o := range m.orders {
		if o.Owner == owner {
			out = append(out, o.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetOrderHistory returns executions newest first. An empty orderID matches all orders;
// limit <= 0 returns everything retained.
func (m *Manager) GetOrderHistory(orderID string, limit int) []OrderExecution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []OrderExecution
	for i := len(m.history) - 1; i >= 0; i-- {
		if orderID != "" && m.history[i].OrderID != orderID {
			continue
		}
		out = append(out, m.history[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// ActiveTokens lists tokens with at least one registered order
func (m *Manager) ActiveTokens() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, o := range m.orders {
		if !o.Type.container() && !seen[o.Token] {
			seen[o.Token] = true
			out = append(out, o.Token)
		}
	}
	sort.Strings(out)
	return out
}

// UpdateStopPrice moves the stop of a stop-style or limit order and its price trigger
func (m *Manager) UpdateStopPrice(ctx context.Context, id string, stop float64) error {
	if err := m.validator.ValidatePrice(stop, id).Err(component, "update_stop"); err != nil {
		return err
	}

	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return errors.NewNotFoundError(component, "update_stop", fmt.Sprintf("order %s is not active", id))
	}
	switch o.Type.Kind {
	case KindStopLoss:
		o.Type.StopLoss.TriggerPrice = stop
	case KindTrailingStop:
		o.Type.TrailingStop.CurrentStop = stop
	case KindLimit:
		o.Type.Limit.Price = stop
	}
	for i := range o.Conditions.Price {
		switch o.Conditions.Price[i].Type {
		case PriceBelow, PriceAbove, PriceCrossingBelow, PriceCrossingAbove:
			o.Conditions.Price[i].Target = stop
		}
	}
	o.UpdatedAt = m.now()
	snapshot := o.clone()
	m.mu.Unlock()

	return m.persist(ctx, snapshot)
}

// UpdateTrailingWatermark records the favourable extreme of a trailing stop order
func (m *Manager) UpdateTrailingWatermark(id string, highest float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok && o.Type.Kind == KindTrailingStop {
		o.Type.TrailingStop.HighestPrice = highest
	}
}

// TriggerOrder forces an order to execute now regardless of its conditions
func (m *Manager) TriggerOrder(ctx context.Context, id string) error {
	m.mu.Lock()
	o, ok := m.orders[id]
	if !ok {
		m.mu.Unlock()
		return errors.NewNotFoundError(component, "trigger_order", fmt.Sprintf("order %s is not active", id))
	}
	if o.Type.container() || o.Status == StatusPending {
		m.mu.Unlock()
		return errors.NewValidationError(component, "trigger_order", fmt.Sprintf("order %s cannot be triggered in status %s", id, o.Status))
	}
	o.Forced = true
	if o.Status == StatusActive {
		m.setStatus(o, StatusTriggered)
	}
	snapshot := o.clone()
	m.mu.Unlock()

	monitoring.RecordOrderTrigger(string(snapshot.Type.Kind))
	m.notify(ctx, snapshot, notifications.EventOrderTriggered, notifications.LevelWarning, "order triggered")

	var snap market.Snapshot
	if m.monitors != nil {
		snap, _ = m.monitors.Snapshot(snapshot.Token)
	}
	return m.execute(ctx, snapshot, snap, ReasonForced)
}

// Load restores non-terminal orders from the store
func (m *Manager) Load(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	recs, err := m.store.ListOrders(ctx,
		string(StatusPending), string(StatusActive), string(StatusTriggered), string(StatusPartiallyFilled))
	if err != nil {
		return 0, err
	}

	restored := make([]*Order, 0, len(recs))
	for _, rec := range recs {
		var o Order
		if err := json.Unmarshal(rec.Payload, &o); err != nil {
			m.logger.Warn("skipping unreadable order", zap.String("order_id", rec.ID), zap.Error(err))
			continue
		}
		restored = append(restored, &o)
	}
	m.insert(restored...)
	m.logger.Info("orders restored", zap.Int("count", len(restored)))
	return len(restored), nil
}

func (m *Manager) persist(ctx context.Context, orders ...*Order) error {
	if m.store == nil {
		return nil
	}
	for _, o := range orders {
		payload, err := json.Marshal(o)
		if err != nil {
			return errors.Wrap(err, errors.KindInternal, component, "persist")
		}
		rec := store.Record{
			ID:        o.ID,
			Owner:     o.Owner,
			Kind:      string(o.Type.Kind),
			Status:    string(o.Status),
			Payload:   payload,
			CreatedAt: o.CreatedAt,
			UpdatedAt: o.UpdatedAt,
		}
		if err := m.store.SaveOrder(ctx, rec); err != nil {
			return errors.Wrap(err, errors.KindInternal, component, "persist").WithContext("order_id", o.ID)
		}
	}
	return nil
}

func (m *Manager) notify(ctx context.Context, o *Order, event notifications.EventType, level notifications.Level, message string) {
	err := m.notifier.Notify(ctx, o.Owner, notifications.Event{
		Type:    event,
		Level:   level,
		Title:   fmt.Sprintf("%s %s", o.Type.Kind, o.Token),
		Message: message,
		Fields: map[string]string{
			"order_id":  o.ID,
			"status":    string(o.Status),
			"remaining": fmt.Sprintf("%.6f", o.Remaining),
		},
		Timestamp: m.now(),
	})
	if err != nil {
		m.logger.Debug("notification failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}
