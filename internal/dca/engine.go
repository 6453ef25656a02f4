// Package dca runs recurring dollar-cost-averaging strategies. Each cycle sizes a buy
// from the strategy-type policy, optionally replaces it with a risk-adjusted
// recommendation, and executes it through the execution actor.
package dca

import (
	"context"
	"encoding/json"
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
	"github.com/ducminhle1904/trade-automation/internal/notifications"
	"github.com/ducminhle1904/trade-automation/internal/risk"
	"github.com/ducminhle1904/trade-automation/internal/safety"
	"github.com/ducminhle1904/trade-automation/internal/store"
)

const component = "dca_engine"

// MaxHistory bounds the in-memory execution history
const MaxHistory = 1000

// Executor is the part of the execution actor the engine needs
type Executor interface {
	Quote(ctx context.Context, side execution.Side, req execution.TradeRequest) (*execution.TradeResult, error)
	Buy(ctx context.Context, req execution.TradeRequest) (*execution.TradeResult, error)
}

// Store persists strategies and their execution history
type Store interface {
	SaveStrategy(ctx context.Context, rec store.Record) error
	ListStrategies(ctx context.Context, statuses ...string) ([]store.Record, error)
	AppendExecution(ctx context.Context, e store.Execution) error
}

// RiskAdvisor sizes executions for strategies with an attached risk model
type RiskAdvisor interface {
	CreateModel(key, token string, t risk.ModelType, params *risk.Parameters) (*risk.Model, error)
	GetModel(key string) (*risk.Model, bool)
	RemoveModel(key string) bool
	Recommend(ctx context.Context, req risk.RecommendRequest) (*risk.Recommendation, error)
}

// ConfidenceSource scores a token in [0, 1] for AI-enhanced strategies
type ConfidenceSource interface {
	Confidence(ctx context.Context, token string) (float64, error)
}

type Config struct {
	LoopInterval           time.Duration
	MaxConsecutiveFailures int
}

// DefaultConfig checks for due strategies every minute and fails a strategy after 5 failed buys in a row
func DefaultConfig() Config {
	return Config{LoopInterval: time.Minute, MaxConsecutiveFailures: 5}
}

// Engine owns the strategy registry
type Engine struct {
	mu         sync.RWMutex
	strategies map[string]*Strategy
	inflight   map[string]bool
	history    []Execution

	cfg        Config
	executor   Executor
	monitors   *market.Monitors
	store      Store
	risk       RiskAdvisor
	confidence ConfidenceSource
	notifier   notifications.Notifier
	validator  *safety.Validator
	now        func() time.Time
	logger     *zap.Logger
}

// NewEngine creates an engine. store, advisor and notifier may be nil.
func NewEngine(cfg Config, executor Executor, monitors *market.Monitors, st Store, advisor RiskAdvisor, notifier notifications.Notifier, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	def := DefaultConfig()
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = def.LoopInterval
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	return &Engine{
		strategies: make(map[string]*Strategy),
		inflight:   make(map[string]bool),
		cfg:        cfg,
		executor:   executor,
		monitors:   monitors,
		store:      st,
		risk:       advisor,
		notifier:   notifier,
		validator:  safety.NewValidator(0, 0),
		now:        time.Now,
		logger:     logger.Named(component),
	}
}

// SetClock overrides the time source
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *Engine) SetConfidenceSource(src ConfidenceSource) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.confidence = src
}

func (e *Engine) validate(s *Strategy) error {
	const op = "create_strategy"
	if err := e.validator.ValidateAddress(s.Owner).Err(component, op); err != nil {
		return err
	}
	if s.InputToken == "" || s.OutputToken == "" {
		return errors.NewValidationError(component, op, "input and output tokens are required")
	}
	if s.InputToken == s.OutputToken {
		return errors.NewValidationError(component, op, "input and output tokens must differ")
	}
	if err := e.validator.ValidateTradeAmount(s.TotalAmount, 0).Err(component, op); err != nil {
		return err
	}
	if err := e.validator.ValidateTradeAmount(s.AmountPerExecution, s.TotalAmount).Err(component, op); err != nil {
		return err
	}
	if err := e.validator.ValidateSlippage(s.Risk.MaxSlippageBps).Err(component, op); err != nil {
		return err
	}
	if s.MaxExecutions != nil && *s.MaxExecutions <= 0 {
		return errors.NewValidationError(component, op, "max executions must be positive")
	}
	if s.EndDate != nil && !s.EndDate.After(e.now()) {
		return errors.NewValidationError(component, op, "end date must be in the future")
	}
	if s.ScheduleID == "" {
		if _, err := s.Interval.Next(e.now()); err != nil {
			return errors.Wrap(err, errors.KindValidation, component, op)
		}
	}
	return validateType(s.Type)
}

func validateType(t StrategyType) error {
	const op = "create_strategy"
	bad := func(msg string) error { return errors.NewValidationError(component, op, msg) }

	switch t.Kind {
	case KindFixed:
	case KindValueAveraging:
		if t.ValueAveraging == nil {
			return bad("value averaging parameters are required")
		}
		if t.ValueAveraging.TargetGrowthPct < 0 {
			return bad("target growth must not be negative")
		}
	case KindBuyTheDip:
		if t.BuyTheDip == nil {
			return bad("buy-the-dip parameters are required")
		}
		if t.BuyTheDip.DipThreshold <= 0 || t.BuyTheDip.DipThreshold >= 100 {
			return bad("dip threshold must be in (0, 100)")
		}
		if t.BuyTheDip.Multiplier < 1 {
			return bad("dip multiplier must be at least 1")
		}
	case KindMomentum:
		if t.Momentum == nil {
			return bad("momentum parameters are required")
		}
		if t.Momentum.Oversold <= 0 || t.Momentum.Overbought >= 100 || t.Momentum.Oversold >= t.Momentum.Overbought {
			return bad("momentum bands must satisfy 0 < oversold < overbought < 100")
		}
	case KindGrid:
		if t.Grid == nil || len(t.Grid.Levels) == 0 {
			return bad("grid needs at least one level")
		}
		var total float64
		for _, lvl := range t.Grid.Levels {
			if lvl.Price <= 0 || lvl.AllocationPct <= 0 {
				return bad("grid levels need a positive price and allocation")
			}
			total += lvl.AllocationPct
		}
		if total > 100+1e-9 {
			return bad(fmt.Sprintf("grid allocations sum to %.2f%%, more than 100%%", total))
		}
	case KindAIEnhanced:
		if t.AIEnhanced == nil {
			return bad("ai-enhanced parameters are required")
		}
		if t.AIEnhanced.ConfidenceThreshold < 0 || t.AIEnhanced.ConfidenceThreshold > 1 {
			return bad("confidence threshold must be in [0, 1]")
		}
	default:
		return bad(fmt.Sprintf("unknown strategy type %q", t.Kind))
	}
	return nil
}

// CreateStrategy validates, persists and registers a strategy.
// The first run is one interval after creation unless NextExecution is set.
func (e *Engine) CreateStrategy(ctx context.Context, s *Strategy) (*Strategy, error) {
	if s == nil {
		return nil, errors.NewValidationError(component, "create_strategy", "strategy is nil")
	}
	s = s.clone()
	now := e.now()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Type.Kind == "" {
		s.Type.Kind = KindFixed
	}
	if s.Risk == (RiskParameters{}) {
		s.Risk = DefaultRiskParameters()
	}
	if s.MaxMultiplier <= 0 {
		s.MaxMultiplier = 3
	}
	if err := e.validate(s); err != nil {
		return nil, err
	}
	if s.RiskModel != nil && e.risk != nil {
		if _, err := e.risk.CreateModel(s.ID, s.OutputToken, *s.RiskModel, nil); err != nil {
			return nil, err
		}
	}

	s.Status = StatusActive
	s.ExecutionCount = 0
	s.TotalInvested = 0
	s.TokensAcquired = 0
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.NextExecution.IsZero() && s.ScheduleID == "" {
		s.NextExecution, _ = s.Interval.Next(now)
	}

	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}
	e.insert(s)

	e.logger.Info("strategy created",
		zap.String("strategy_id", s.ID),
		zap.String("type", string(s.Type.Kind)),
		zap.String("token", s.OutputToken),
		zap.Float64("amount_per_execution", s.AmountPerExecution),
		zap.Time("next_execution", s.NextExecution))
	return s.clone(), nil
}

// NewDailyDCA builds a fixed daily strategy spending daily until total is used
func NewDailyDCA(owner, inputToken, outputToken string, total, daily float64) *Strategy {
	s := &Strategy{
		Owner:              owner,
		Name:               fmt.Sprintf("daily %s", outputToken),
		InputToken:         inputToken,
		OutputToken:        outputToken,
		TotalAmount:        total,
		AmountPerExecution: daily,
		Interval:           Daily(),
		Type:               StrategyType{Kind: KindFixed},
		Risk:               DefaultRiskParameters(),
		MaxMultiplier:      1,
	}
	if daily > 0 {
		n := int(math.Floor(total / daily))
		s.MaxExecutions = &n
	}
	return s
}

// CreateDailyDCA registers NewDailyDCA
func (e *Engine) CreateDailyDCA(ctx context.Context, owner, inputToken, outputToken string, total, daily float64) (*Strategy, error) {
	return e.CreateStrategy(ctx, NewDailyDCA(owner, inputToken, outputToken, total, daily))
}

func (e *Engine) insert(strategies ...*Strategy) {
	e.mu.Lock()
	for _, s := range strategies {
		e.strategies[s.ID] = s
	}
	e.mu.Unlock()

	if e.monitors != nil {
		for _, s := range strategies {
			e.monitors.Ensure(s.OutputToken)
		}
	}
}

// setStatus applies a status change; caller holds the lock. Terminal strategies leave the registry.
func (e *Engine) setStatus(s *Strategy, to Status) bool {
	if s.Status == to {
		return true
	}
	if s.Status.IsTerminal() {
		return false
	}
	s.Status = to
	s.UpdatedAt = e.now()
	if to.IsTerminal() {
		delete(e.strategies, s.ID)
		if s.RiskModel != nil && e.risk != nil {
			e.risk.RemoveModel(s.ID)
		}
	}
	return true
}

// Pause stops an active strategy from executing
func (e *Engine) Pause(ctx context.Context, id string) (bool, error) {
	return e.transition(ctx, id, StatusActive, StatusPaused)
}

// Resume reactivates a paused strategy; an overdue run happens on the next cycle
func (e *Engine) Resume(ctx context.Context, id string) (bool, error) {
	return e.transition(ctx, id, StatusPaused, StatusActive)
}

// Cancel ends a strategy. It returns false without error when the strategy is unknown.
func (e *Engine) Cancel(ctx context.Context, id string) (bool, error) {
	return e.transition(ctx, id, "", StatusCancelled)
}

func (e *Engine) transition(ctx context.Context, id string, from, to Status) (bool, error) {
	e.mu.Lock()
	s, ok := e.strategies[id]
	if !ok {
		e.mu.Unlock()
		return false, nil
	}
	if from != "" && s.Status != from {
		e.mu.Unlock()
		return false, errors.NewValidationError(component, "set_status",
			fmt.Sprintf("strategy %s is %s, not %s", id, s.Status, from))
	}
	e.setStatus(s, to)
	snapshot := s.clone()
	e.mu.Unlock()

	e.logger.Info("strategy status changed", zap.String("strategy_id", id), zap.String("status", string(to)))
	return true, e.persist(ctx, snapshot)
}

// AttachSchedule hands dispatch of a strategy to a schedule; the engine loop then skips it.
// A strategy follows one schedule at a time.
func (e *Engine) AttachSchedule(ctx context.Context, strategyID, scheduleID string) error {
	const op = "attach_schedule"
	e.mu.Lock()
	s, ok := e.strategies[strategyID]
	if !ok {
		e.mu.Unlock()
		return errors.NewNotFoundError(component, op, fmt.Sprintf("strategy %s is not registered", strategyID))
	}
	if s.ScheduleID == scheduleID {
		e.mu.Unlock()
		return nil
	}
	if s.ScheduleID != "" {
		e.mu.Unlock()
		return errors.NewValidationError(component, op,
			fmt.Sprintf("strategy %s already follows schedule %s", strategyID, s.ScheduleID))
	}
	s.ScheduleID = scheduleID
	s.UpdatedAt = e.now()
	snapshot := s.clone()
	e.mu.Unlock()

	e.logger.Info("strategy attached to schedule", zap.String("strategy_id", strategyID), zap.String("schedule_id", scheduleID))
	return e.persist(ctx, snapshot)
}

// DetachSchedule returns a strategy to its own interval. It is a no-op when the
// strategy follows a different schedule or no longer exists.
func (e *Engine) DetachSchedule(ctx context.Context, strategyID, scheduleID string) error {
	e.mu.Lock()
	s, ok := e.strategies[strategyID]
	if !ok || s.ScheduleID != scheduleID {
		e.mu.Unlock()
		return nil
	}
	s.ScheduleID = ""
	now := e.now()
	if next, err := s.Interval.Next(now); err == nil {
		s.NextExecution = next
	}
	s.UpdatedAt = now
	snapshot := s.clone()
	e.mu.Unlock()

	e.logger.Info("strategy detached from schedule", zap.String("strategy_id", strategyID), zap.String("schedule_id", scheduleID))
	return e.persist(ctx, snapshot)
}

// GetStrategy returns a copy of a registered strategy
func (e *Engine) GetStrategy(id string) (*Strategy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.strategies[id]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// GetUserStrategies returns copies of the owner's strategies, oldest first
func (e *Engine) GetUserStrategies(owner string) []*Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*Strategy
	for _, s := range e.strategies {
		if s.Owner == owner {
			out = append(out, s.clone())
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

// GetExecutions returns a strategy's attempts newest first; limit <= 0 returns all retained
func (e *Engine) GetExecutions(strategyID string, limit int) []Execution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Execution
	for i := len(e.history) - 1; i >= 0; i-- {
		if strategyID != "" && e.history[i].StrategyID != strategyID {
			continue
		}
		out = append(out, e.history[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// GetPerformance summarizes the retained executions of a strategy at the current market price
func (e *Engine) GetPerformance(strategyID string) (*Performance, bool) {
	execs := e.GetExecutions(strategyID, 0)
	if len(execs) == 0 {
		return nil, false
	}

	p := &Performance{StrategyID: strategyID}
	var succeeded int
	for _, x := range execs {
		p.Executions++
		if !x.Success {
			continue
		}
		succeeded++
		p.TotalInvested += x.InputAmount
		p.TokensAcquired += x.OutputAmount
		p.TotalFees += x.Fee
		if x.Price > 0 && (p.BestPrice == 0 || x.Price < p.BestPrice) {
			p.BestPrice = x.Price
		}
		if x.Price > p.WorstPrice {
			p.WorstPrice = x.Price
		}
	}
	p.SuccessRate = float64(succeeded) / float64(p.Executions) * 100
	if p.TokensAcquired > 0 {
		p.AverageEntry = p.TotalInvested / p.TokensAcquired
	}
	if e.monitors != nil {
		if snap, ok := e.monitors.Snapshot(execs[0].Token); ok {
			p.CurrentPrice = snap.Price
		}
	}
	p.CurrentValue = p.TokensAcquired * p.CurrentPrice
	p.UnrealizedPnL = p.CurrentValue - p.TotalInvested
	if p.TotalInvested > 0 {
		p.UnrealizedPnLPct = p.UnrealizedPnL / p.TotalInvested * 100
	}
	return p, true
}

// Load restores active and paused strategies from the store
func (e *Engine) Load(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, nil
	}
	recs, err := e.store.ListStrategies(ctx, string(StatusActive), string(StatusPaused))
	if err != nil {
		return 0, err
	}

	restored := make([]*Strategy, 0, len(recs))
	for _, rec := range recs {
		var s Strategy
		if err := json.Unmarshal(rec.Payload, &s); err != nil {
			e.logger.Warn("skipping unreadable strategy", zap.String("strategy_id", rec.ID), zap.Error(err))
			continue
		}
		if s.RiskModel != nil && e.risk != nil {
			if _, ok := e.risk.GetModel(s.ID); !ok {
				if _, err := e.risk.CreateModel(s.ID, s.OutputToken, *s.RiskModel, nil); err != nil {
					e.logger.Warn("restoring risk model failed", zap.String("strategy_id", s.ID), zap.Error(err))
				}
			}
		}
		restored = append(restored, &s)
	}
	e.insert(restored...)
	e.logger.Info("strategies restored", zap.Int("count", len(restored)))
	return len(restored), nil
}

func (e *Engine) persist(ctx context.Context, strategies ...*Strategy) error {
	if e.store == nil {
		return nil
	}
	for _, s := range strategies {
		payload, err := json.Marshal(s)
		if err != nil {
			return errors.Wrap(err, errors.KindInternal, component, "persist")
		}
		rec := store.Record{
			ID:        s.ID,
			Owner:     s.Owner,
			Kind:      string(s.Type.Kind),
			Status:    string(s.Status),
			Payload:   payload,
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		}
		if err := e.store.SaveStrategy(ctx, rec); err != nil {
			return errors.Wrap(err, errors.KindInternal, component, "persist").WithContext("strategy_id", s.ID)
		}
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, s *Strategy, event notifications.EventType, level notifications.Level, message string) {
	err := e.notifier.Notify(ctx, s.Owner, notifications.Event{
		Type:    event,
		Level:   level,
		Title:   fmt.Sprintf("DCA %s", s.OutputToken),
		Message: message,
		Fields: map[string]string{
			"strategy_id":     s.ID,
			"status":          string(s.Status),
			"execution_count": fmt.Sprintf("%d", s.ExecutionCount),
			"total_invested":  fmt.Sprintf("%.6f", s.TotalInvested),
		},
		Timestamp: e.now(),
	})
	if err != nil {
		e.logger.Debug("notification failed", zap.String("strategy_id", s.ID), zap.Error(err))
	}
}
