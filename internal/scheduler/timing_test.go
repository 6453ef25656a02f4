package scheduler

import (
	"container/heap"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/trade-automation/internal/dca"
	"github.com/ducminhle1904/trade-automation/internal/orders"
)

// Monday, before the New York open (07:00 EST)
var monday = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

func TestNextExecution(t *testing.T) {
	marketEvent := func(ev MarketEvent, mkt string, delay int) ScheduleType {
		return ScheduleType{Kind: KindMarketEvent, MarketEvent: &MarketEventSchedule{Event: ev, Market: mkt, DelayMinutes: delay}}
	}
	tests := []struct {
		name  string
		cfg   ScheduleConfig
		from  time.Time
		first bool
		want  time.Time
		typ   ExecutionType
	}{
		{"daily interval", ScheduleConfig{Type: ScheduleType{Kind: KindInterval, Interval: &IntervalSchedule{Interval: dca.Daily()}}},
			monday, false, monday.Add(24 * time.Hour), ExecRegular},
		{"offset applies on creation", ScheduleConfig{Type: ScheduleType{Kind: KindInterval, Interval: &IntervalSchedule{Interval: dca.Every(60), OffsetMinutes: 15}}},
			monday, true, monday.Add(75 * time.Minute), ExecRegular},
		{"offset does not accumulate", ScheduleConfig{Type: ScheduleType{Kind: KindInterval, Interval: &IntervalSchedule{Interval: dca.Every(60), OffsetMinutes: 15}}},
			monday, false, monday.Add(time.Hour), ExecRegular},
		{"cron utc", ScheduleConfig{Type: ScheduleType{Kind: KindCron, Cron: &CronSchedule{Expression: "0 9 * * *"}}},
			monday, false, time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC), ExecRegular},
		{"cron in timezone", ScheduleConfig{Timezone: "America/New_York", Type: ScheduleType{Kind: KindCron, Cron: &CronSchedule{Expression: "0 9 * * *"}}},
			monday, false, time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC), ExecRegular},
		{"nyse open", ScheduleConfig{Type: marketEvent(EventMarketOpen, "NYSE", 0)},
			monday, false, time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC), ExecMarketOpen},
		{"nyse open delayed, inside delay", ScheduleConfig{Type: marketEvent(EventMarketOpen, "NYSE", 10)},
			time.Date(2025, 3, 3, 14, 35, 0, 0, time.UTC), false, time.Date(2025, 3, 3, 14, 40, 0, 0, time.UTC), ExecMarketOpen},
		{"nyse open after it fired", ScheduleConfig{Type: marketEvent(EventMarketOpen, "NYSE", 0)},
			time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC), false, time.Date(2025, 3, 4, 14, 30, 0, 0, time.UTC), ExecMarketOpen},
		{"nyse close", ScheduleConfig{Type: marketEvent(EventMarketClose, "NYSE", 0)},
			monday, false, time.Date(2025, 3, 3, 21, 0, 0, 0, time.UTC), ExecMarketClose},
		{"pre-market", ScheduleConfig{Type: marketEvent(EventPreMarket, "NYSE", 0)},
			monday, false, time.Date(2025, 3, 3, 13, 30, 0, 0, time.UTC), ExecMarketOpen},
		{"after hours", ScheduleConfig{Type: marketEvent(EventAfterHours, "NYSE", 0)},
			monday, false, time.Date(2025, 3, 3, 22, 0, 0, 0, time.UTC), ExecMarketClose},
		{"crypto day boundary", ScheduleConfig{Type: marketEvent(EventMarketOpen, "", 0)},
			monday, false, time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), ExecMarketOpen},
		{"price polling starts at once", ScheduleConfig{Type: ScheduleType{Kind: KindPrice, Price: &PriceSchedule{
			Conditions: []orders.PriceCondition{{Type: orders.PriceBelow, Target: 90}}, CheckIntervalMinutes: 5}}},
			monday, true, monday, ExecPriceAlert},
		{"volume polling", ScheduleConfig{Type: ScheduleType{Kind: KindVolume, Volume: &VolumeSchedule{VolumeThreshold: 1, CheckIntervalMinutes: 5}}},
			monday, false, monday.Add(5 * time.Minute), ExecConditional},
		{"algorithm", ScheduleConfig{Type: ScheduleType{Kind: KindAlgorithm, Algorithm: &AlgorithmSchedule{Name: "twap"}}},
			monday, false, monday.Add(time.Hour), ExecRegular},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, typ, err := nextExecution(&tt.cfg, tt.from, tt.first)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.Equal(t, tt.typ, typ)
		})
	}
}

func TestNextExecution_Errors(t *testing.T) {
	bad := []ScheduleConfig{
		{Type: ScheduleType{Kind: KindCron, Cron: &CronSchedule{Expression: "every day"}}},
		{Type: ScheduleType{Kind: KindMarketEvent, MarketEvent: &MarketEventSchedule{Event: EventMarketOpen, Market: "LSE"}}},
		{Type: ScheduleType{Kind: KindMarketEvent, MarketEvent: &MarketEventSchedule{Event: "lunch", Market: "NYSE"}}},
		{Type: ScheduleType{Kind: "lunar"}},
	}
	for _, c := range bad {
		_, _, err := nextExecution(&c, monday, false)
		assert.Error(t, err, "%+v", c.Type)
	}
}

func TestTimeWindow_Clamp(t *testing.T) {
	w, err := TimeWindow{Start: "09:00", End: "17:00", Days: Weekdays}.parse()
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"before start", time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC), time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)},
		{"inside", time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC), time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)},
		{"at end", time.Date(2025, 3, 3, 17, 0, 0, 0, time.UTC), time.Date(2025, 3, 3, 17, 0, 0, 0, time.UTC)},
		{"after end", time.Date(2025, 3, 3, 18, 0, 0, 0, time.UTC), time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)},
		{"friday evening", time.Date(2025, 3, 7, 18, 0, 0, 0, time.UTC), time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
		{"saturday", time.Date(2025, 3, 8, 10, 0, 0, 0, time.UTC), time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(w.clamp(tt.at, time.UTC)), "got %s", w.clamp(tt.at, time.UTC))
		})
	}
}

func TestTimeWindow_Parse(t *testing.T) {
	w, err := TimeWindow{Start: "09:00", End: "10:00", Days: []string{"Monday", "sat"}}.parse()
	require.NoError(t, err)
	assert.Len(t, w.days, 2)
	assert.True(t, w.days[time.Monday])
	assert.True(t, w.days[time.Saturday])

	w, err = TimeWindow{Start: "00:00", End: "23:59"}.parse()
	require.NoError(t, err)
	assert.Len(t, w.days, 7, "no days means every day")

	for _, bad := range []TimeWindow{
		{Start: "25:00", End: "26:00"},
		{Start: "10:00", End: "09:00"},
		{Start: "09:00", End: "10:00", Days: []string{"funday"}},
	} {
		_, err := bad.parse()
		assert.Error(t, err, "%+v", bad)
	}
}

func TestSkipWeekend(t *testing.T) {
	sat := time.Date(2025, 3, 8, 10, 0, 0, 0, time.UTC)
	sun := sat.Add(24 * time.Hour)
	mon := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	wed := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)

	assert.True(t, mon.Equal(skipWeekend(sat, time.UTC)))
	assert.True(t, mon.Equal(skipWeekend(sun, time.UTC)))
	assert.True(t, wed.Equal(skipWeekend(wed, time.UTC)))
}

func TestNextExecution_WindowThenWeekend(t *testing.T) {
	c := ScheduleConfig{
		Type:         ScheduleType{Kind: KindInterval, Interval: &IntervalSchedule{Interval: dca.Every(60)}},
		Window:       &TimeWindow{Start: "09:00", End: "17:00"},
		SkipWeekends: true,
	}
	// Friday 17:30 leaves the window, lands on Saturday 09:00, then Monday 09:00
	got, _, err := nextExecution(&c, time.Date(2025, 3, 7, 16, 30, 0, 0, time.UTC), false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), got)
}

func TestQueue_OrdersByTimeThenPriority(t *testing.T) {
	var q queue
	heap.Init(&q)
	q.push(&entry{executeAt: monday.Add(2 * time.Minute), scheduleID: "late"})
	q.push(&entry{executeAt: monday, scheduleID: "regular", priority: 2})
	q.push(&entry{executeAt: monday, scheduleID: "open", priority: 0})
	q.push(&entry{executeAt: monday.Add(time.Hour), scheduleID: "future"})

	head, ok := q.peek()
	require.True(t, ok)
	assert.Equal(t, "open", head.scheduleID)

	due := q.popDue(monday.Add(5 * time.Minute))
	ids := make([]string, len(due))
	for i, e := range due {
		ids[i] = e.scheduleID
	}
	assert.Equal(t, []string{"open", "regular", "late"}, ids)
	assert.Equal(t, 1, q.Len())
}
