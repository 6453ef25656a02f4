// Package scheduler dispatches DCA strategies on calendar, market-event and
// market-condition schedules. Due entries wait in a min-heap; each dispatch is gated
// by the schedule's execution conditions before it reaches the DCA engine.
package scheduler

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ducminhle1904/trade-automation/internal/dca"
	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/market"
	"github.com/ducminhle1904/trade-automation/internal/monitoring"
	"github.com/ducminhle1904/trade-automation/internal/notifications"
	"github.com/ducminhle1904/trade-automation/internal/safety"
	"github.com/ducminhle1904/trade-automation/internal/store"
)

const component = "scheduler"

// MaxHistory bounds the dispatch history kept in ExecutionStats
const MaxHistory = 1000

const (
	statusActive   = "active"
	statusInactive = "inactive"
)

// StrategyRunner executes one cycle of a DCA strategy. A strategy attached to a
// schedule is dispatched only by the scheduler until it is detached.
type StrategyRunner interface {
	ExecuteStrategy(ctx context.Context, id string, reason dca.Reason) (*dca.Result, error)
	AttachSchedule(ctx context.Context, strategyID, scheduleID string) error
	DetachSchedule(ctx context.Context, strategyID, scheduleID string) error
}

// Store persists schedules and failed dispatches
type Store interface {
	SaveSchedule(ctx context.Context, rec store.Record) error
	DeleteSchedule(ctx context.Context, id string) error
	ListSchedules(ctx context.Context, statuses ...string) ([]store.Record, error)
	AppendExecution(ctx context.Context, e store.Execution) error
}

type Config struct {
	LoopInterval time.Duration
}

// DefaultConfig polls the queue every 30 seconds
func DefaultConfig() Config {
	return Config{LoopInterval: 30 * time.Second}
}

// Scheduler owns the schedule registry and the dispatch queue
type Scheduler struct {
	mu        sync.RWMutex
	schedules map[string]*ScheduleConfig
	queue     queue
	approvals map[string]bool

	statsMu sync.Mutex
	stats   ExecutionStats

	cfg       Config
	runner    StrategyRunner
	monitors  *market.Monitors
	store     Store
	sources   ConditionSources
	notifier  notifications.Notifier
	validator *safety.Validator
	now       func() time.Time
	logger    *zap.Logger
}

// NewScheduler creates a scheduler. monitors, store and notifier may be nil.
func NewScheduler(cfg Config, runner StrategyRunner, monitors *market.Monitors, st Store, notifier notifications.Notifier, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notifications.Nop{}
	}
	if cfg.LoopInterval <= 0 {
		cfg.LoopInterval = DefaultConfig().LoopInterval
	}
	return &Scheduler{
		schedules: make(map[string]*ScheduleConfig),
		approvals: make(map[string]bool),
		cfg:       cfg,
		runner:    runner,
		monitors:  monitors,
		store:     st,
		notifier:  notifier,
		validator: safety.NewValidator(0, 0),
		now:       time.Now,
		logger:    logger.Named(component),
	}
}

// SetClock overrides the time source
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetConditionSources wires the dependencies execution conditions read
func (s *Scheduler) SetConditionSources(src ConditionSources) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = src
}

func (s *Scheduler) snapshot(token string) (market.Snapshot, bool) {
	if s.monitors == nil || token == "" {
		return market.Snapshot{}, false
	}
	return s.monitors.Snapshot(token)
}

func (s *Scheduler) validate(c *ScheduleConfig) error {
	const op = "add_schedule"
	bad := func(msg string) error { return errors.NewValidationError(component, op, msg) }

	if c.StrategyID == "" {
		return bad("strategy id is required")
	}
	if c.Owner != "" {
		if err := s.validator.ValidateAddress(c.Owner).Err(component, op); err != nil {
			return err
		}
	}
	if c.MaxExecutions != nil && *c.MaxExecutions <= 0 {
		return bad("max executions must be positive")
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return bad(fmt.Sprintf("unknown timezone %q", c.Timezone))
		}
	}
	if c.Window != nil {
		if _, err := c.Window.parse(); err != nil {
			return errors.Wrap(err, errors.KindValidation, component, op)
		}
	}
	if c.MarketHoursOnly {
		if _, ok := market.MarketByName(c.Market); !ok {
			return bad(fmt.Sprintf("unknown market %q", c.Market))
		}
	}

	t := c.Type
	switch t.Kind {
	case KindInterval:
		if t.Interval == nil {
			return bad("interval schedule needs an interval")
		}
	case KindCron:
		if t.Cron == nil || t.Cron.Expression == "" {
			return bad("cron schedule needs an expression")
		}
	case KindMarketEvent:
		if t.MarketEvent == nil {
			return bad("market event schedule needs an event")
		}
	case KindPrice:
		if t.Price == nil || len(t.Price.Conditions) == 0 {
			return bad("price schedule needs at least one condition")
		}
	case KindVolume:
		if t.Volume == nil || t.Volume.VolumeThreshold <= 0 {
			return bad("volume schedule needs a positive threshold")
		}
	case KindTechnical:
		if t.Technical == nil || len(t.Technical.Indicators) == 0 {
			return bad("technical schedule needs at least one indicator")
		}
	case KindAlgorithm:
		if t.Algorithm == nil || t.Algorithm.Name == "" {
			return bad("algorithm schedule needs a name")
		}
	default:
		return bad(fmt.Sprintf("unknown schedule kind %q", t.Kind))
	}
	if t.polling() {
		if c.Token == "" {
			return bad("condition schedules need a token")
		}
		if t.checkInterval() <= 0 {
			return bad("check interval must be positive")
		}
	}

	for _, cond := range c.Conditions {
		switch cond.Kind {
		case ConditionMaxSlippage:
			if err := s.validator.ValidateSlippage(cond.MaxSlippageBps).Err(component, op); err != nil {
				return err
			}
			if c.Token == "" {
				return bad("slippage conditions need a token")
			}
		case ConditionMaxVolatility, ConditionPriceStability:
			if c.Token == "" {
				return bad(fmt.Sprintf("%s conditions need a token", cond.Kind))
			}
		case ConditionMinBalance, ConditionMaxPriorityFee, ConditionAPIHealth, ConditionUserApproval:
		default:
			return bad(fmt.Sprintf("unknown condition %q", cond.Kind))
		}
	}
	return nil
}

// AddSchedule validates, persists and enqueues a schedule. The strategy must be
// registered and not already follow another schedule.
func (s *Scheduler) AddSchedule(ctx context.Context, c *ScheduleConfig) (*ScheduleConfig, error) {
	if c == nil {
		return nil, errors.NewValidationError(component, "add_schedule", "schedule is nil")
	}
	c = c.clone()
	if err := s.validate(c); err != nil {
		return nil, err
	}
	now := s.now()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	next, typ, err := nextExecution(c, now, true)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, component, "add_schedule")
	}
	c.Active = true
	c.NextExecution = next
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := s.runner.AttachSchedule(ctx, c.StrategyID, c.ID); err != nil {
		return nil, err
	}
	if err := s.persist(ctx, c); err != nil {
		s.release(ctx, c)
		return nil, err
	}
	s.mu.Lock()
	s.schedules[c.ID] = c
	s.queue.push(&entry{executeAt: next, scheduleID: c.ID, strategyID: c.StrategyID, typ: typ, priority: priorityOf(typ)})
	monitoring.UpdateSchedulerQueueDepth(s.queue.Len())
	s.mu.Unlock()

	s.logger.Info("schedule added",
		zap.String("schedule_id", c.ID),
		zap.String("strategy_id", c.StrategyID),
		zap.String("kind", string(c.Type.Kind)),
		zap.Time("next_execution", next))
	return c.clone(), nil
}

// RemoveSchedule drops a schedule and its queued entries. Unknown ids return false.
func (s *Scheduler) RemoveSchedule(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	c, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.schedules, id)
	delete(s.approvals, id)
	kept := s.queue[:0]
	for _, e := range s.queue {
		if e.scheduleID != id {
			kept = append(kept, e)
		}
	}
	s.queue = kept
	heap.Init(&s.queue)
	monitoring.UpdateSchedulerQueueDepth(s.queue.Len())
	s.mu.Unlock()

	s.logger.Info("schedule removed", zap.String("schedule_id", id))
	s.release(ctx, c)
	if s.store == nil {
		return true, nil
	}
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return true, errors.Wrap(err, errors.KindInternal, component, "remove_schedule")
	}
	return true, nil
}

// GetSchedule returns a copy of a registered schedule
func (s *Scheduler) GetSchedule(id string) (*ScheduleConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.schedules[id]
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

// GetActiveSchedules returns active schedules, soonest first
func (s *Scheduler) GetActiveSchedules() []*ScheduleConfig {
	s.mu.RLock()
	out := make([]*ScheduleConfig, 0, len(s.schedules))
	for _, c := range s.schedules {
		if c.Active {
			out = append(out, c.clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].NextExecution.Before(out[j].NextExecution) })
	return out
}

// Approve grants one dispatch to a schedule waiting on user approval
func (s *Scheduler) Approve(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return false
	}
	s.approvals[id] = true
	return true
}

// GetExecutionStats returns a copy of the dispatch statistics
func (s *Scheduler) GetExecutionStats() ExecutionStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := s.stats
	out.History = append([]ExecutionRecord(nil), s.stats.History...)
	if s.stats.LastExecution != nil {
		t := *s.stats.LastExecution
		out.LastExecution = &t
	}
	return out
}

// QueueDepth is the number of pending entries
func (s *Scheduler) QueueDepth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue.Len()
}

// Run processes due entries every LoopInterval until ctx is done
func (s *Scheduler) Run(ctx context.Context, heartbeat func(error)) {
	ticker := time.NewTicker(s.cfg.LoopInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", zap.Duration("interval", s.cfg.LoopInterval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.ProcessDue(ctx)
			if heartbeat != nil {
				heartbeat(nil)
			}
		}
	}
}

// Load restores active schedules from the store and reattaches their strategies.
// Schedules whose strategy is gone are deactivated.
func (s *Scheduler) Load(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	recs, err := s.store.ListSchedules(ctx, statusActive)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInternal, component, "load")
	}
	now := s.now()

	var restored []*ScheduleConfig
	s.mu.Lock()
	for _, rec := range recs {
		var c ScheduleConfig
		if err := json.Unmarshal(rec.Payload, &c); err != nil {
			s.logger.Warn("skipping unreadable schedule", zap.String("schedule_id", rec.ID), zap.Error(err))
			continue
		}
		c.Active = true
		next, typ, err := nextExecution(&c, now, true)
		if err != nil {
			s.logger.Warn("skipping schedule", zap.String("schedule_id", rec.ID), zap.Error(err))
			continue
		}
		if c.NextExecution.IsZero() {
			c.NextExecution = next
		}
		s.schedules[c.ID] = &c
		s.queue.push(&entry{executeAt: c.NextExecution, scheduleID: c.ID, strategyID: c.StrategyID, typ: typ, priority: priorityOf(typ)})
		restored = append(restored, c.clone())
	}
	monitoring.UpdateSchedulerQueueDepth(s.queue.Len())
	s.mu.Unlock()

	count := len(restored)
	for _, c := range restored {
		err := s.runner.AttachSchedule(ctx, c.StrategyID, c.ID)
		switch {
		case err == nil:
		case errors.IsKind(err, errors.KindNotFound):
			s.deactivate(ctx, c.ID, "strategy no longer exists")
			count--
		default:
			s.logger.Warn("failed to attach strategy", zap.String("schedule_id", c.ID), zap.String("strategy_id", c.StrategyID), zap.Error(err))
		}
	}
	s.logger.Info("schedules restored", zap.Int("count", count))
	return count, nil
}

// release hands a strategy back to the DCA engine
func (s *Scheduler) release(ctx context.Context, c *ScheduleConfig) {
	if err := s.runner.DetachSchedule(ctx, c.StrategyID, c.ID); err != nil {
		s.logger.Warn("failed to detach strategy", zap.String("schedule_id", c.ID), zap.String("strategy_id", c.StrategyID), zap.Error(err))
	}
}

func priorityOf(typ ExecutionType) int {
	switch typ {
	case ExecMarketOpen, ExecMarketClose:
		return 0
	case ExecPriceAlert:
		return 1
	case ExecConditional:
		return 3
	default:
		return 2
	}
}

func (s *Scheduler) persist(ctx context.Context, c *ScheduleConfig) error {
	if s.store == nil {
		return nil
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.KindInternal, component, "persist")
	}
	status := statusActive
	if !c.Active {
		status = statusInactive
	}
	rec := store.Record{
		ID:        c.ID,
		Owner:     c.Owner,
		Kind:      string(c.Type.Kind),
		Status:    status,
		Payload:   payload,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	if err := s.store.SaveSchedule(ctx, rec); err != nil {
		return errors.Wrap(err, errors.KindInternal, component, "persist").WithContext("schedule_id", c.ID)
	}
	return nil
}

func (s *Scheduler) notify(ctx context.Context, c *ScheduleConfig, event notifications.EventType, level notifications.Level, message string) {
	err := s.notifier.Notify(ctx, c.Owner, notifications.Event{
		Type:    event,
		Level:   level,
		Title:   fmt.Sprintf("Schedule %s", c.Name),
		Message: message,
		Fields: map[string]string{
			"schedule_id":     c.ID,
			"strategy_id":     c.StrategyID,
			"execution_count": fmt.Sprintf("%d", c.ExecutionCount),
		},
		Timestamp: s.now(),
	})
	if err != nil {
		s.logger.Debug("notification failed", zap.String("schedule_id", c.ID), zap.Error(err))
	}
}

// NewDailySchedule runs a strategy every day at hour:minute UTC
func NewDailySchedule(strategyID string, hour, minute int) *ScheduleConfig {
	return &ScheduleConfig{
		StrategyID: strategyID,
		Name:       fmt.Sprintf("daily %02d:%02d", hour, minute),
		Type: ScheduleType{Kind: KindCron, Cron: &CronSchedule{
			Expression:  fmt.Sprintf("%d %d * * *", minute, hour),
			Description: "daily",
		}},
		Notifications: DefaultNotificationConfig(),
	}
}

// NewMarketHoursSchedule runs a strategy every interval between 09:00 and 17:00 UTC on weekdays
func NewMarketHoursSchedule(strategyID string, interval dca.Interval) *ScheduleConfig {
	return &ScheduleConfig{
		StrategyID:      strategyID,
		Name:            "market hours",
		Type:            ScheduleType{Kind: KindInterval, Interval: &IntervalSchedule{Interval: interval}},
		Window:          &TimeWindow{Start: "09:00", End: "17:00", Days: Weekdays},
		MarketHoursOnly: true,
		SkipWeekends:    true,
		Notifications:   DefaultNotificationConfig(),
	}
}

// NextDue returns the earliest queued dispatch time
func (s *Scheduler) NextDue() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.queue.peek()
	if !ok {
		return time.Time{}, false
	}
	return e.executeAt, true
}
