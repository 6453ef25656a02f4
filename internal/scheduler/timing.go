package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ducminhle1904/trade-automation/internal/market"
)

// algorithm schedules are re-evaluated at this cadence
const algorithmInterval = time.Hour

// nextExecution computes the next due time strictly after from. first is set when the
// schedule is created, which applies interval offsets and lets polling start at once.
func nextExecution(c *ScheduleConfig, from time.Time, first bool) (time.Time, ExecutionType, error) {
	loc := c.location()
	var (
		next time.Time
		typ  = ExecRegular
	)

	switch c.Type.Kind {
	case KindInterval:
		t, err := c.Type.Interval.Interval.Next(from)
		if err != nil {
			return time.Time{}, "", err
		}
		if first {
			t = t.Add(time.Duration(c.Type.Interval.OffsetMinutes) * time.Minute)
		}
		next = t

	case KindCron:
		sched, err := cron.ParseStandard(c.Type.Cron.Expression)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("cron %q: %w", c.Type.Cron.Expression, err)
		}
		next = sched.Next(from.In(loc))

	case KindMarketEvent:
		t, err := marketEventTime(*c.Type.MarketEvent, from)
		if err != nil {
			return time.Time{}, "", err
		}
		next = t
		typ = ExecMarketOpen
		if e := c.Type.MarketEvent.Event; e == EventMarketClose || e == EventAfterHours {
			typ = ExecMarketClose
		}

	case KindPrice, KindVolume, KindTechnical:
		next = from
		if !first {
			next = from.Add(c.Type.checkInterval())
		}
		typ = ExecConditional
		if c.Type.Kind == KindPrice {
			typ = ExecPriceAlert
		}

	case KindAlgorithm:
		next = from.Add(algorithmInterval)

	default:
		return time.Time{}, "", fmt.Errorf("unknown schedule kind %q", c.Type.Kind)
	}

	if c.Window != nil {
		w, err := c.Window.parse()
		if err != nil {
			return time.Time{}, "", err
		}
		next = w.clamp(next, loc)
	}
	if c.SkipWeekends {
		next = skipWeekend(next, loc)
	}
	return next.UTC(), typ, nil
}

// marketEventTime returns the next occurrence of the event, plus its delay, after from.
// Markets that never close have their session boundary at UTC midnight.
func marketEventTime(ev MarketEventSchedule, from time.Time) (time.Time, error) {
	m, ok := market.MarketByName(ev.Market)
	if !ok {
		return time.Time{}, fmt.Errorf("unknown market %q", ev.Market)
	}
	delay := time.Duration(ev.DelayMinutes) * time.Minute
	// the event itself must fall after this instant for the delayed run to be in the future
	after := from.Add(-delay).Add(time.Second)

	if m.AlwaysOpen {
		u := after.UTC()
		midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		if midnight.Before(after) {
			midnight = midnight.AddDate(0, 0, 1)
		}
		return midnight.Add(delay), nil
	}

	var at time.Time
	switch ev.Event {
	case EventMarketOpen:
		at = m.NextOpen(after)
	case EventMarketClose:
		at = m.NextClose(after)
	case EventPreMarket:
		at = m.NextOpen(after.Add(extendedSession)).Add(-extendedSession)
	case EventAfterHours:
		at = m.NextClose(after.Add(-extendedSession)).Add(extendedSession)
	default:
		return time.Time{}, fmt.Errorf("unknown market event %q", ev.Event)
	}
	return at.Add(delay), nil
}

// clamp moves t into the window: before the start it waits for the start the same day,
// after the end or on a disallowed day it moves to the start of the next allowed day
func (w window) clamp(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	tod := local.Sub(midnight)

	if w.days[local.Weekday()] {
		if tod < w.start {
			return midnight.Add(w.start)
		}
		if tod <= w.end {
			return t
		}
	}
	for i := 1; i <= 7; i++ {
		day := midnight.AddDate(0, 0, i)
		if w.days[day.Weekday()] {
			return day.Add(w.start)
		}
	}
	return t
}

func skipWeekend(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	switch local.Weekday() {
	case time.Saturday:
		return local.AddDate(0, 0, 2)
	case time.Sunday:
		return local.AddDate(0, 0, 1)
	}
	return t
}
