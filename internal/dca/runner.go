package dca

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
	"github.com/ducminhle1904/trade-automation/internal/monitoring"
	"github.com/ducminhle1904/trade-automation/internal/notifications"
	"github.com/ducminhle1904/trade-automation/internal/risk"
	"github.com/ducminhle1904/trade-automation/internal/store"
)

// budgets below this are treated as spent
const dustAmount = 1e-9

// Result is the outcome of one strategy cycle. Skipped cycles carry SkipReason and no Execution.
type Result struct {
	StrategyID string
	Execution  *Execution
	Skipped    bool
	SkipReason string
}

// Run executes due strategies every LoopInterval until ctx is done
func (e *Engine) Run(ctx context.Context, heartbeat func(error)) {
	ticker := time.NewTicker(e.cfg.LoopInterval)
	defer ticker.Stop()

	e.logger.Info("dca loop started", zap.Duration("interval", e.cfg.LoopInterval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("dca loop stopped")
			return
		case <-ticker.C:
			e.ExecutePending(ctx)
			if heartbeat != nil {
				heartbeat(nil)
			}
		}
	}
}

// due returns copies of active strategies whose own interval is due; caller holds the read lock
func (e *Engine) due(now time.Time) []*Strategy {
	var out []*Strategy
	for id, s := range e.strategies {
		if s.Status != StatusActive || s.ScheduleID != "" || e.inflight[id] {
			continue
		}
		if s.NextExecution.After(now) {
			continue
		}
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextExecution.Before(out[j].NextExecution) })
	return out
}

// ExecutePending runs every due strategy concurrently and returns how many bought.
// Strategies attached to a schedule are left to the scheduler.
func (e *Engine) ExecutePending(ctx context.Context) int {
	e.mu.RLock()
	pending := e.due(e.now())
	e.mu.RUnlock()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		executed int
	)
	for _, s := range pending {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := e.ExecuteStrategy(ctx, id, ReasonScheduled)
			if err == nil && !res.Skipped {
				mu.Lock()
				executed++
				mu.Unlock()
			}
		}(s.ID)
	}
	wg.Wait()
	return executed
}

// ExecuteStrategy runs one cycle for an active strategy now, regardless of its next execution time.
// A nil error with Skipped set means nothing was bought and nothing failed.
func (e *Engine) ExecuteStrategy(ctx context.Context, id string, reason Reason) (*Result, error) {
	e.mu.Lock()
	live, ok := e.strategies[id]
	if !ok {
		e.mu.Unlock()
		return nil, errors.NewNotFoundError(component, "execute", fmt.Sprintf("strategy %s is not registered", id))
	}
	if live.Status != StatusActive {
		e.mu.Unlock()
		return nil, errors.NewTradingError(component, "execute", fmt.Sprintf("strategy %s is %s", id, live.Status))
	}
	if e.inflight[id] {
		e.mu.Unlock()
		return nil, errors.NewTradingError(component, "execute", fmt.Sprintf("strategy %s is already executing", id))
	}
	e.inflight[id] = true
	s := live.clone()
	confidence := e.confidence
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, id)
		e.mu.Unlock()
	}()

	res := &Result{StrategyID: id}
	if e.monitors == nil {
		return e.skip(ctx, s, res, SkipNoPrice, false), nil
	}
	snap, ok := e.monitors.Snapshot(s.OutputToken)
	if !ok || snap.Price <= 0 {
		return e.skip(ctx, s, res, SkipNoPrice, false), nil
	}

	if why, hit := riskExit(s, snap.Price); hit {
		e.pauseOnRisk(ctx, s, why, snap.Price)
		return e.skip(ctx, s, res, why, false), nil
	}

	var conf *float64
	if s.Type.Kind == KindAIEnhanced && confidence != nil {
		if c, err := confidence.Confidence(ctx, s.OutputToken); err == nil {
			c = math.Max(0, math.Min(1, c))
			conf = &c
		} else {
			e.logger.Debug("confidence unavailable", zap.String("strategy_id", id), zap.Error(err))
		}
	}
	mc := conditions(s, snap, conf)

	if why := riskGate(s.Risk, mc); why != "" {
		e.logger.Info("strategy cycle gated",
			zap.String("strategy_id", id),
			zap.String("reason", why),
			zap.Float64("volatility_pct", mc.VolatilityPct),
			zap.Float64("volume_24h", mc.Volume24h))
		return e.skip(ctx, s, res, why, false), nil
	}

	d := size(s, mc)
	if d.Skip != "" {
		return e.skip(ctx, s, res, d.Skip, true), nil
	}
	if reason == ReasonManual {
		d.Reason = ReasonManual
	}

	attempt := Execution{
		ID:          uuid.NewString(),
		StrategyID:  id,
		Owner:       s.Owner,
		Token:       s.OutputToken,
		ExecutedAt:  e.now(),
		InputAmount: d.Amount,
		Reason:      d.Reason,
		Market:      mc,
	}

	if s.RiskModel != nil && e.risk != nil {
		rec, err := e.risk.Recommend(ctx, risk.RecommendRequest{StrategyID: id, Token: s.OutputToken, BaseAmount: d.Amount})
		if err != nil {
			return res, e.fail(ctx, s, attempt, err)
		}
		score := rec.Score
		attempt.RiskScore = &score
		attempt.InputAmount = math.Min(rec.Amount, s.Remaining())
		e.logger.Debug("amount risk-adjusted",
			zap.String("strategy_id", id),
			zap.Float64("base", d.Amount),
			zap.Float64("amount", attempt.InputAmount),
			zap.Float64("factor", rec.Factor))
	}
	res.Execution = &attempt

	req := execution.TradeRequest{
		Owner:       s.Owner,
		Token:       s.OutputToken,
		QuoteToken:  s.InputToken,
		Amount:      attempt.InputAmount,
		SlippageBps: s.Risk.MaxSlippageBps,
	}

	quote, err := e.executor.Quote(ctx, execution.SideBuy, req)
	if err != nil {
		return res, e.fail(ctx, s, attempt, err)
	}
	if quote.PriceUSD <= 0 {
		err := errors.NewServiceUnavailableError(component, "slippage_check", "no reference price for quote")
		return res, e.fail(ctx, s, attempt, err)
	}
	slip := slippageBps(snap.Price, quote.PriceUSD)
	attempt.SlippageBps = slip
	if slip > float64(s.Risk.MaxSlippageBps) {
		err := errors.NewTradingError(component, "slippage_check",
			fmt.Sprintf("slippage %.1f bps exceeds maximum %d bps", slip, s.Risk.MaxSlippageBps)).
			WithContext("strategy_id", id)
		attempt.Price = quote.PriceUSD
		e.record(ctx, &attempt, err)
		e.mu.Lock()
		if live, ok := e.strategies[id]; ok {
			live.LastError = err.Error()
		}
		e.mu.Unlock()
		monitoring.RecordDCAExecution(string(s.Type.Kind), false)
		e.logger.Warn("dca attempt aborted on slippage",
			zap.String("strategy_id", id),
			zap.Float64("slippage_bps", slip))
		return res, err
	}

	result, err := e.executor.Buy(ctx, req)
	if err != nil {
		return res, e.fail(ctx, s, attempt, err)
	}

	attempt.Success = true
	attempt.OutputAmount = result.TokensReceived
	attempt.Price = result.PriceUSD
	if attempt.Price <= 0 && attempt.OutputAmount > 0 {
		attempt.Price = attempt.InputAmount / attempt.OutputAmount
	}
	if result.PriceUSD > 0 {
		attempt.SlippageBps = slippageBps(snap.Price, result.PriceUSD)
	}
	attempt.Fee = result.TransferFee
	attempt.TxSignature = result.TxSignature
	e.record(ctx, &attempt, nil)
	monitoring.RecordDCAExecution(string(s.Type.Kind), true)

	final, done := e.settle(id, attempt, d.GridFills)
	if final == nil {
		e.logger.Warn("strategy left the registry during execution", zap.String("strategy_id", id))
		return res, nil
	}
	if err := e.persist(ctx, final); err != nil {
		e.logger.Warn("persisting strategy failed", zap.String("strategy_id", id), zap.Error(err))
	}

	e.logger.Info("dca executed",
		zap.String("strategy_id", id),
		zap.String("reason", string(attempt.Reason)),
		zap.Float64("amount", attempt.InputAmount),
		zap.Float64("tokens", attempt.OutputAmount),
		zap.Float64("price", attempt.Price),
		zap.Int("execution_count", final.ExecutionCount),
		zap.Time("next_execution", final.NextExecution))
	e.notify(ctx, final, notifications.EventDCAExecuted, notifications.LevelSuccess,
		fmt.Sprintf("bought %.6f %s for %.6f %s", attempt.OutputAmount, s.OutputToken, attempt.InputAmount, s.InputToken))
	if done {
		e.notify(ctx, final, notifications.EventDCACompleted, notifications.LevelInfo, "strategy completed")
	}
	return res, nil
}

// settle applies a successful buy to the live strategy and reports whether it completed
func (e *Engine) settle(id string, attempt Execution, gridFills []int) (*Strategy, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	live, ok := e.strategies[id]
	if !ok {
		return nil, false
	}

	at := attempt.ExecutedAt
	live.ExecutionCount++
	live.TotalInvested += attempt.InputAmount
	live.TokensAcquired += attempt.OutputAmount
	live.ConsecutiveFailures = 0
	live.LastError = ""
	live.LastExecution = &at
	if live.StartedAt == nil {
		live.StartedAt = &at
	}
	if live.Type.Grid != nil {
		for _, i := range gridFills {
			live.Type.Grid.Levels[i].Filled = true
		}
	}
	if next, err := live.Interval.Next(at); err == nil {
		live.NextExecution = next
	}
	live.UpdatedAt = e.now()

	done := (live.MaxExecutions != nil && live.ExecutionCount >= *live.MaxExecutions) ||
		live.Remaining() <= dustAmount ||
		(live.EndDate != nil && live.ScheduleID == "" && live.NextExecution.After(*live.EndDate))
	if done {
		e.setStatus(live, StatusCompleted)
	}
	return live.clone(), done
}

// skip reports a cycle that bought nothing. Policy skips consume the slot; gate skips retry next cycle.
func (e *Engine) skip(ctx context.Context, s *Strategy, res *Result, why string, advance bool) *Result {
	res.Skipped = true
	res.SkipReason = why
	monitoring.RecordDCASkipped(why)
	if !advance {
		return res
	}

	e.mu.Lock()
	live, ok := e.strategies[s.ID]
	if !ok {
		e.mu.Unlock()
		return res
	}
	if next, err := live.Interval.Next(e.now()); err == nil && live.ScheduleID == "" {
		live.NextExecution = next
	}
	live.UpdatedAt = e.now()
	snapshot := live.clone()
	e.mu.Unlock()

	e.logger.Debug("strategy cycle skipped", zap.String("strategy_id", s.ID), zap.String("reason", why))
	if err := e.persist(ctx, snapshot); err != nil {
		e.logger.Warn("persisting strategy failed", zap.String("strategy_id", s.ID), zap.Error(err))
	}
	return res
}

func (e *Engine) pauseOnRisk(ctx context.Context, s *Strategy, why string, price float64) {
	e.mu.Lock()
	live, ok := e.strategies[s.ID]
	if !ok || !e.setStatus(live, StatusPaused) {
		e.mu.Unlock()
		return
	}
	snapshot := live.clone()
	e.mu.Unlock()

	e.logger.Warn("strategy paused by risk limit",
		zap.String("strategy_id", s.ID),
		zap.String("limit", why),
		zap.Float64("price", price),
		zap.Float64("average_entry", snapshot.AverageEntry()))
	if err := e.persist(ctx, snapshot); err != nil {
		e.logger.Warn("persisting strategy failed", zap.String("strategy_id", s.ID), zap.Error(err))
	}
	e.notify(ctx, snapshot, notifications.EventDCAFailed, notifications.LevelWarning,
		fmt.Sprintf("paused: %s reached at %.6f", why, price))
}

// slippageBps is the adverse move of the quoted buy price over the market price
func slippageBps(expected, actual float64) float64 {
	return (actual - expected) / expected * 10000
}

// fail records a failed attempt. ServiceUnavailable failures do not count toward the failure limit.
func (e *Engine) fail(ctx context.Context, s *Strategy, attempt Execution, cause error) error {
	e.record(ctx, &attempt, cause)
	kind := errors.KindOf(cause)
	monitoring.RecordDCAExecution(string(s.Type.Kind), false)
	monitoring.RecordError(component, string(kind))

	e.mu.Lock()
	live, ok := e.strategies[s.ID]
	if !ok {
		e.mu.Unlock()
		return cause
	}
	live.LastError = cause.Error()
	if kind != errors.KindServiceUnavailable {
		live.ConsecutiveFailures++
	}
	failed := live.ConsecutiveFailures >= e.cfg.MaxConsecutiveFailures && e.setStatus(live, StatusFailed)
	live.UpdatedAt = e.now()
	snapshot := live.clone()
	e.mu.Unlock()

	e.logger.Warn("dca execution failed",
		zap.String("strategy_id", s.ID),
		zap.String("kind", string(kind)),
		zap.Int("consecutive_failures", snapshot.ConsecutiveFailures),
		zap.Error(cause))

	if err := e.persist(ctx, snapshot); err != nil {
		e.logger.Warn("persisting strategy failed", zap.String("strategy_id", s.ID), zap.Error(err))
	}
	if failed {
		e.notify(ctx, snapshot, notifications.EventDCAFailed, notifications.LevelError, cause.Error())
	}
	return cause
}

// record appends an attempt to the bounded history and the store
func (e *Engine) record(ctx context.Context, attempt *Execution, cause error) {
	if cause != nil {
		attempt.Error = cause.Error()
	}

	e.mu.Lock()
	e.history = append(e.history, *attempt)
	if len(e.history) > MaxHistory {
		e.history = e.history[len(e.history)-MaxHistory:]
	}
	e.mu.Unlock()

	if e.store == nil {
		return
	}
	err := e.store.AppendExecution(ctx, store.Execution{
		ID:          attempt.ID,
		EntityKind:  "dca",
		EntityID:    attempt.StrategyID,
		Owner:       attempt.Owner,
		Token:       attempt.Token,
		Side:        string(execution.SideBuy),
		Price:       attempt.Price,
		Amount:      attempt.InputAmount,
		SlippageBps: attempt.SlippageBps,
		Fee:         attempt.Fee,
		Success:     attempt.Success,
		Error:       attempt.Error,
		ExecutedAt:  attempt.ExecutedAt,
	})
	if err != nil {
		e.logger.Warn("recording execution failed", zap.String("strategy_id", attempt.StrategyID), zap.Error(err))
	}
}
