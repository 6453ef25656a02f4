package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ducminhle1904/trade-automation/internal/dca"
	"github.com/ducminhle1904/trade-automation/internal/errors"
	"github.com/ducminhle1904/trade-automation/internal/market"
	"github.com/ducminhle1904/trade-automation/internal/monitoring"
	"github.com/ducminhle1904/trade-automation/internal/notifications"
	"github.com/ducminhle1904/trade-automation/internal/store"
)

// dca skips that leave the slot for the next cycle
var retrySkips = map[string]bool{
	dca.SkipHighVolatility: true,
	dca.SkipLowLiquidity:   true,
	dca.SkipNoPrice:        true,
}

type job struct {
	entry    *entry
	schedule *ScheduleConfig
}

// ProcessDue dispatches every due entry concurrently and returns how many succeeded.
// Entries left behind by removed, deactivated or rescheduled schedules are dropped.
func (s *Scheduler) ProcessDue(ctx context.Context) int {
	s.mu.Lock()
	now := s.now()
	var jobs []job
	for _, e := range s.queue.popDue(now) {
		c, ok := s.schedules[e.scheduleID]
		if !ok || !c.Active || !c.NextExecution.Equal(e.executeAt) {
			continue
		}
		jobs = append(jobs, job{entry: e, schedule: c.clone()})
	}
	monitoring.UpdateSchedulerQueueDepth(s.queue.Len())
	s.mu.Unlock()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, j := range jobs {
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			if s.process(ctx, j.entry, j.schedule, now) {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(j)
	}
	wg.Wait()
	return succeeded
}

func (s *Scheduler) process(ctx context.Context, e *entry, c *ScheduleConfig, now time.Time) bool {
	log := s.logger.With(zap.String("schedule_id", c.ID), zap.String("strategy_id", c.StrategyID))

	if c.MarketHoursOnly {
		m, _ := market.MarketByName(c.Market)
		if !m.IsOpen(now) {
			open := m.NextOpen(now)
			log.Debug("market closed, deferring", zap.Time("next_open", open))
			monitoring.RecordSchedulerDispatch(string(e.typ), "market_closed")
			s.requeue(ctx, c.ID, e.typ, open.UTC())
			return false
		}
	}

	if c.Type.polling() && !s.conditionMet(c, now) {
		monitoring.RecordSchedulerDispatch(string(e.typ), "condition_not_met")
		s.advance(ctx, c.ID, now, false)
		return false
	}

	if reason := s.checkConditions(ctx, c, now); reason != "" {
		log.Info("execution conditions not met", zap.String("reason", reason))
		monitoring.RecordSchedulerDispatch(string(e.typ), "gated")
		s.record(ExecutionRecord{Timestamp: now, ScheduleID: c.ID, StrategyID: c.StrategyID, Type: e.typ, Skipped: true, Error: reason})
		s.requeue(ctx, c.ID, e.typ, e.executeAt)
		return false
	}

	start := time.Now()
	res, err := s.runner.ExecuteStrategy(ctx, c.StrategyID, dca.ReasonScheduled)
	rec := ExecutionRecord{
		Timestamp:  now,
		ScheduleID: c.ID,
		StrategyID: c.StrategyID,
		Type:       e.typ,
		Duration:   time.Since(start),
	}

	switch {
	case err != nil:
		rec.Error = err.Error()
		log.Warn("scheduled execution failed", zap.Error(err))
		monitoring.RecordSchedulerDispatch(string(e.typ), "failed")
		s.appendFailure(ctx, c, now, err)
		if errors.IsKind(err, errors.KindNotFound) {
			s.deactivate(ctx, c.ID, "strategy no longer exists")
		} else {
			s.advance(ctx, c.ID, now, false)
		}
		if c.Notifications.OnFailure {
			s.notify(ctx, c, notifications.EventScheduleFailed, notifications.LevelError, err.Error())
		}

	case res.Skipped:
		rec.Skipped = true
		rec.Error = res.SkipReason
		monitoring.RecordSchedulerDispatch(string(e.typ), "skipped")
		if retrySkips[res.SkipReason] {
			s.requeue(ctx, c.ID, e.typ, e.executeAt)
		} else {
			s.advance(ctx, c.ID, now, false)
		}

	default:
		rec.Success = true
		monitoring.RecordSchedulerDispatch(string(e.typ), "success")
		updated := s.advance(ctx, c.ID, now, true)
		log.Info("scheduled execution completed", zap.Duration("duration", rec.Duration))
		if c.Notifications.OnExecution && updated != nil {
			s.notify(ctx, updated, notifications.EventScheduleRun, notifications.LevelSuccess, "scheduled DCA execution completed")
		}
	}
	s.record(rec)
	return rec.Success
}

// requeue puts a schedule back on the queue at executeAt without consuming its slot
func (s *Scheduler) requeue(ctx context.Context, id string, typ ExecutionType, executeAt time.Time) {
	s.mu.Lock()
	c, ok := s.schedules[id]
	if !ok || !c.Active {
		s.mu.Unlock()
		return
	}
	changed := !c.NextExecution.Equal(executeAt)
	c.NextExecution = executeAt
	s.queue.push(&entry{executeAt: executeAt, scheduleID: id, strategyID: c.StrategyID, typ: typ, priority: priorityOf(typ)})
	monitoring.UpdateSchedulerQueueDepth(s.queue.Len())
	var snapshot *ScheduleConfig
	if changed {
		c.UpdatedAt = s.now()
		snapshot = c.clone()
	}
	s.mu.Unlock()

	if snapshot != nil {
		if err := s.persist(ctx, snapshot); err != nil {
			s.logger.Warn("failed to persist schedule", zap.String("schedule_id", id), zap.Error(err))
		}
	}
}

// advance moves a schedule to its next slot after from. A counted dispatch increments the
// execution count and deactivates the schedule once MaxExecutions is reached.
func (s *Scheduler) advance(ctx context.Context, id string, from time.Time, counted bool) *ScheduleConfig {
	s.mu.Lock()
	c, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	if counted {
		c.ExecutionCount++
		at := from
		c.LastExecuted = &at
	}
	c.UpdatedAt = s.now()

	done := c.MaxExecutions != nil && c.ExecutionCount >= *c.MaxExecutions
	var nextErr error
	if !done {
		next, typ, err := nextExecution(c, from, false)
		if err == nil {
			c.NextExecution = next
			s.queue.push(&entry{executeAt: next, scheduleID: id, strategyID: c.StrategyID, typ: typ, priority: priorityOf(typ)})
		}
		nextErr = err
	}
	if done || nextErr != nil {
		c.Active = false
		delete(s.schedules, id)
		delete(s.approvals, id)
	}
	monitoring.UpdateSchedulerQueueDepth(s.queue.Len())
	snapshot := c.clone()
	s.mu.Unlock()

	switch {
	case done:
		s.logger.Info("schedule completed", zap.String("schedule_id", id), zap.Int("executions", snapshot.ExecutionCount))
	case nextErr != nil:
		s.logger.Error("schedule deactivated", zap.String("schedule_id", id), zap.Error(nextErr))
	}
	if err := s.persist(ctx, snapshot); err != nil {
		s.logger.Warn("failed to persist schedule", zap.String("schedule_id", id), zap.Error(err))
	}
	if !snapshot.Active {
		s.release(ctx, snapshot)
	}
	return snapshot
}

func (s *Scheduler) deactivate(ctx context.Context, id, reason string) {
	s.mu.Lock()
	c, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	c.Active = false
	c.UpdatedAt = s.now()
	delete(s.schedules, id)
	delete(s.approvals, id)
	snapshot := c.clone()
	s.mu.Unlock()

	s.logger.Warn("schedule deactivated", zap.String("schedule_id", id), zap.String("reason", reason))
	if err := s.persist(ctx, snapshot); err != nil {
		s.logger.Warn("failed to persist schedule", zap.String("schedule_id", id), zap.Error(err))
	}
	s.release(ctx, snapshot)
}

func (s *Scheduler) appendFailure(ctx context.Context, c *ScheduleConfig, at time.Time, cause error) {
	if s.store == nil {
		return
	}
	err := s.store.AppendExecution(ctx, store.Execution{
		ID:         uuid.NewString(),
		EntityKind: "schedule",
		EntityID:   c.ID,
		Owner:      c.Owner,
		Token:      c.Token,
		Side:       "buy",
		Error:      cause.Error(),
		ExecutedAt: at,
	})
	if err != nil {
		s.logger.Warn("failed to record dispatch failure", zap.String("schedule_id", c.ID), zap.Error(err))
	}
}

// record adds a dispatch to the stats, keeping the newest MaxHistory records
func (s *Scheduler) record(rec ExecutionRecord) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	st := &s.stats
	st.Total++
	switch {
	case rec.Success:
		st.Successful++
	case rec.Skipped:
		st.Skipped++
	default:
		st.Failed++
	}
	st.AverageDuration += (rec.Duration - st.AverageDuration) / time.Duration(st.Total)
	ts := rec.Timestamp
	st.LastExecution = &ts

	st.History = append(st.History, rec)
	if len(st.History) > MaxHistory {
		st.History = append([]ExecutionRecord(nil), st.History[len(st.History)-MaxHistory:]...)
	}
}
