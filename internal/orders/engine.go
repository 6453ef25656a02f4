package orders

import (
	"context"
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
	"github.com/ducminhle1904/trade-automation/internal/store"
)

// fills smaller than this leave nothing worth selling
const dustAmount = 1e-9

// Run evaluates orders every LoopInterval until ctx is done
func (m *Manager) Run(ctx context.Context, heartbeat func(error)) {
	ticker := time.NewTicker(m.cfg.LoopInterval)
	defer ticker.Stop()

	m.logger.Info("order loop started", zap.Duration("interval", m.cfg.LoopInterval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("order loop stopped")
			return
		case <-ticker.C:
			m.ExpireOrders(ctx)
			m.ProcessOrders(ctx)
			if heartbeat != nil {
				heartbeat(nil)
			}
		}
	}
}

// candidates returns copies of orders eligible for evaluation; caller holds the read lock
func (m *Manager) candidates(now time.Time) []*Order {
	var out []*Order
	for id, o := range m.orders {
		if o.Type.container() || m.inflight[id] {
			continue
		}
		switch o.Status {
		case StatusActive, StatusTriggered, StatusPartiallyFilled:
		default:
			continue
		}
		if o.FailureCount > 0 && now.Sub(o.LastAttempt) < o.Execution.RetryDelay {
			continue
		}
		out = append(out, o.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ProcessOrders runs one evaluation cycle and returns how many orders were executed
func (m *Manager) ProcessOrders(ctx context.Context) int {
	now := m.now()

	m.mu.RLock()
	pending := m.candidates(now)
	m.mu.RUnlock()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		executed int
	)
	for _, o := range pending {
		if ctx.Err() != nil {
			break
		}
		if m.monitors == nil {
			break
		}
		snap, ok := m.monitors.Snapshot(o.Token)
		if !ok {
			continue
		}

		reason := ReasonForced
		if !o.Forced && o.Status != StatusTriggered {
			eval := Evaluate(o.Conditions, snap, now)
			if !eval.Triggered {
				if immediateOnly(o) {
					m.cancelUnfilled(ctx, o, "limit price not available on first evaluation")
				}
				continue
			}
			reason = eval.Reason
			monitoring.RecordOrderTrigger(string(o.Type.Kind))
			m.logger.Info("order triggered",
				zap.String("order_id", o.ID),
				zap.String("reason", string(reason)),
				zap.Float64("price", snap.Price),
				zap.Float64("score", eval.Score))
		}

		wg.Add(1)
		go func(o *Order, snap market.Snapshot, reason TriggerReason) {
			defer wg.Done()
			if err := m.execute(ctx, o, snap, reason); err == nil {
				mu.Lock()
				executed++
				mu.Unlock()
			}
		}(o, snap, reason)
	}
	wg.Wait()

	m.mu.RLock()
	m.updateGauge()
	m.mu.RUnlock()
	return executed
}

func immediateOnly(o *Order) bool {
	if o.Type.Kind != KindLimit {
		return false
	}
	tif := o.Type.Limit.TimeInForce
	return tif == IOC || tif == FOK
}

func (m *Manager) cancelUnfilled(ctx context.Context, o *Order, why string) {
	if ok, err := m.CancelOrder(ctx, o.ID); ok {
		m.logger.Info("immediate order cancelled", zap.String("order_id", o.ID), zap.String("why", why))
	} else if err != nil {
		m.logger.Warn("cancel failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

// executionAmount is what this attempt should trade
func executionAmount(o *Order) float64 {
	if o.Type.Kind == KindTakeProfit && o.Status != StatusPartiallyFilled {
		if pct := o.Type.TakeProfit.PartialFillPct; pct > 0 && pct < 100 {
			return o.Remaining * pct / 100
		}
	}
	return o.Remaining
}

// slippageBps measures the quoted USD price against the observed market price; positive is adverse
func slippageBps(side execution.Side, expected, actual float64) float64 {
	if side == execution.SideBuy {
		return (actual - expected) / expected * 10000
	}
	return (expected - actual) / expected * 10000
}

// execute runs one attempt for an order copy. The returned error is nil only on a fill.
func (m *Manager) execute(ctx context.Context, o *Order, snap market.Snapshot, reason TriggerReason) error {
	m.mu.Lock()
	live, ok := m.orders[o.ID]
	if !ok || live.Status.IsTerminal() || m.inflight[o.ID] {
		m.mu.Unlock()
		return errors.NewTradingError(component, "execute", "order is not executable")
	}
	m.inflight[o.ID] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, o.ID)
		m.mu.Unlock()
	}()

	side := o.Type.Side()
	amount := executionAmount(o)
	req := execution.TradeRequest{
		Owner:       o.Owner,
		Token:       o.Token,
		Amount:      amount,
		SlippageBps: o.Execution.MaxSlippageBps,
	}
	attempt := OrderExecution{
		ID:          uuid.NewString(),
		OrderID:     o.ID,
		Owner:       o.Owner,
		Token:       o.Token,
		Side:        side,
		Reason:      reason,
		MarketPrice: snap.Price,
		Amount:      amount,
		ExecutedAt:  m.now(),
	}

	if snap.Price > 0 && snap.Volume24h < o.Execution.MinLiquidity {
		m.logger.Info("order deferred for liquidity",
			zap.String("order_id", o.ID),
			zap.Float64("volume_24h", snap.Volume24h),
			zap.Float64("min_liquidity", o.Execution.MinLiquidity))
		return errors.NewTradingError(component, "execute", "liquidity below minimum")
	}

	quote, err := m.executor.Quote(ctx, side, req)
	if err != nil {
		return m.fail(ctx, o, attempt, err)
	}

	if snap.Price > 0 {
		if quote.PriceUSD <= 0 {
			err := errors.NewServiceUnavailableError(component, "slippage_check", "no reference price for quote")
			return m.fail(ctx, o, attempt, err)
		}
		slip := slippageBps(side, snap.Price, quote.PriceUSD)
		attempt.SlippageBps = slip
		if slip > float64(o.Execution.MaxSlippageBps) {
			err := errors.NewTradingError(component, "slippage_check",
				fmt.Sprintf("slippage %.1f bps exceeds maximum %d bps", slip, o.Execution.MaxSlippageBps)).
				WithContext("order_id", o.ID)
			attempt.ExecutedPrice = quote.PriceUSD
			m.record(ctx, attempt, err)
			m.mu.Lock()
			if live, ok := m.orders[o.ID]; ok {
				live.LastError = err.Error()
				live.LastAttempt = m.now()
			}
			m.mu.Unlock()
			monitoring.RecordOrderExecution(string(o.Type.Kind), false, slip)
			m.logger.Warn("order attempt aborted on slippage",
				zap.String("order_id", o.ID),
				zap.Float64("slippage_bps", slip))
			return err
		}
	}

	var result *execution.TradeResult
	if side == execution.SideBuy {
		result, err = m.executor.Buy(ctx, req)
	} else {
		result, err = m.executor.Sell(ctx, req)
	}
	if err != nil {
		return m.fail(ctx, o, attempt, err)
	}

	attempt.Success = true
	attempt.ExecutedPrice = result.PriceUSD
	if attempt.ExecutedPrice == 0 {
		attempt.ExecutedPrice = result.Price
	}
	attempt.Fee = result.TransferFee
	attempt.TxSignature = result.TxSignature
	if snap.Price > 0 && result.PriceUSD > 0 {
		attempt.SlippageBps = slippageBps(side, snap.Price, result.PriceUSD)
	}
	filled := result.TokensSold
	if side == execution.SideBuy {
		filled = result.AmountIn
	}
	if filled <= 0 {
		filled = amount
	}
	attempt.Amount = filled
	m.record(ctx, attempt, nil)
	monitoring.RecordOrderExecution(string(o.Type.Kind), true, attempt.SlippageBps)

	m.mu.Lock()
	live, ok = m.orders[o.ID]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("order left the registry during execution", zap.String("order_id", o.ID))
		return nil
	}
	live.Remaining -= filled
	live.FailureCount = 0
	live.LastError = ""
	live.LastAttempt = m.now()
	live.Forced = false
	next := StatusPartiallyFilled
	if live.Remaining <= dustAmount {
		live.Remaining = 0
		next = StatusFilled
	}
	m.setStatus(live, next)
	changed := append([]*Order{live.clone()}, m.onFill(live, result)...)
	m.updateGauge()
	final := live.clone()
	m.mu.Unlock()

	if err := m.persist(ctx, changed...); err != nil {
		m.logger.Warn("persisting filled order failed", zap.String("order_id", o.ID), zap.Error(err))
	}

	m.logger.Info("order executed",
		zap.String("order_id", o.ID),
		zap.String("status", string(final.Status)),
		zap.Float64("amount", filled),
		zap.Float64("price", attempt.ExecutedPrice),
		zap.Float64("slippage_bps", attempt.SlippageBps))
	m.notify(ctx, final, notifications.EventOrderFilled, notifications.LevelSuccess,
		fmt.Sprintf("executed %.6f at %.6f", filled, attempt.ExecutedPrice))
	return nil
}

// fail records a failed attempt. ServiceUnavailable failures do not count toward retry_attempts.
func (m *Manager) fail(ctx context.Context, o *Order, attempt OrderExecution, cause error) error {
	m.record(ctx, attempt, cause)
	kind := errors.KindOf(cause)
	monitoring.RecordOrderExecution(string(o.Type.Kind), false, 0)
	monitoring.RecordError(component, string(kind))

	m.mu.Lock()
	live, ok := m.orders[o.ID]
	if !ok {
		m.mu.Unlock()
		return cause
	}
	live.LastError = cause.Error()
	live.LastAttempt = m.now()
	if kind != errors.KindServiceUnavailable {
		live.FailureCount++
	}

	var (
		changed []*Order
		final   Status
	)
	switch {
	case immediateOnly(live):
		final = StatusCancelled
	case live.FailureCount >= live.Execution.RetryAttempts:
		final = StatusFailed
	}
	if final != "" && m.setStatus(live, final) {
		changed = append(changed, live.clone())
		changed = append(changed, m.settleParent(live)...)
		m.updateGauge()
	}
	snapshot := live.clone()
	m.mu.Unlock()

	m.logger.Warn("order execution failed",
		zap.String("order_id", o.ID),
		zap.String("kind", string(kind)),
		zap.Int("failures", snapshot.FailureCount),
		zap.Error(cause))

	if len(changed) > 0 {
		if err := m.persist(ctx, changed...); err != nil {
			m.logger.Warn("persisting failed order failed", zap.String("order_id", o.ID), zap.Error(err))
		}
		if snapshot.Status == StatusFailed {
			m.notify(ctx, snapshot, notifications.EventOrderFailed, notifications.LevelError, cause.Error())
		}
	}
	return cause
}

// record appends an attempt to the bounded history and the store
func (m *Manager) record(ctx context.Context, attempt OrderExecution, cause error) {
	if cause != nil {
		attempt.Error = cause.Error()
	}

	m.mu.Lock()
	m.history = append(m.history, attempt)
	if len(m.history) > MaxHistory {
		m.history = m.history[len(m.history)-MaxHistory:]
	}
	m.mu.Unlock()

	if m.store == nil {
		return
	}
	err := m.store.AppendExecution(ctx, store.Execution{
		ID:          attempt.ID,
		EntityKind:  "order",
		EntityID:    attempt.OrderID,
		Owner:       attempt.Owner,
		Token:       attempt.Token,
		Side:        string(attempt.Side),
		Price:       attempt.ExecutedPrice,
		Amount:      attempt.Amount,
		SlippageBps: attempt.SlippageBps,
		Fee:         attempt.Fee,
		Success:     attempt.Success,
		Error:       attempt.Error,
		ExecutedAt:  attempt.ExecutedAt,
	})
	if err != nil {
		m.logger.Warn("recording execution failed", zap.String("order_id", attempt.OrderID), zap.Error(err))
	}
}
