package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/ducminhle1904/trade-automation/internal/dca"
	"github.com/ducminhle1904/trade-automation/internal/orders"
)

// ScheduleKind selects how due times are produced
type ScheduleKind string

const (
	KindInterval    ScheduleKind = "interval"
	KindCron        ScheduleKind = "cron"
	KindMarketEvent ScheduleKind = "market_event"
	KindPrice       ScheduleKind = "price_based"
	KindVolume      ScheduleKind = "volume_based"
	KindTechnical   ScheduleKind = "technical_based"
	KindAlgorithm   ScheduleKind = "algorithm"
)

type IntervalSchedule struct {
	Interval      dca.Interval `json:"interval" yaml:"interval"`
	OffsetMinutes int          `json:"offset_minutes,omitempty" yaml:"offset_minutes,omitempty"`
}

// CronSchedule uses the standard five-field cron syntax, evaluated in the schedule's timezone
type CronSchedule struct {
	Expression  string `json:"expression" yaml:"expression"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

type MarketEvent string

const (
	EventMarketOpen  MarketEvent = "market_open"
	EventMarketClose MarketEvent = "market_close"
	EventPreMarket   MarketEvent = "pre_market"
	EventAfterHours  MarketEvent = "after_hours"
)

// pre-market and after-hours sessions are anchored this long before the open and after the close
const extendedSession = time.Hour

// MarketEventSchedule fires DelayMinutes after the next occurrence of Event on Market
type MarketEventSchedule struct {
	Event        MarketEvent `json:"event" yaml:"event"`
	Market       string      `json:"market,omitempty" yaml:"market,omitempty"`
	DelayMinutes int         `json:"delay_minutes,omitempty" yaml:"delay_minutes,omitempty"`
}

// PriceSchedule polls until every price condition on the schedule token holds
type PriceSchedule struct {
	Conditions           []orders.PriceCondition `json:"conditions" yaml:"conditions"`
	CheckIntervalMinutes int                     `json:"check_interval_minutes" yaml:"check_interval_minutes"`
}

// VolumeSchedule polls until 24h volume is above VolumeThreshold and, when set,
// SpikePct above its recent average
type VolumeSchedule struct {
	VolumeThreshold      float64 `json:"volume_threshold" yaml:"volume_threshold"`
	SpikePct             float64 `json:"spike_pct,omitempty" yaml:"spike_pct,omitempty"`
	CheckIntervalMinutes int     `json:"check_interval_minutes" yaml:"check_interval_minutes"`
}

// TechnicalSchedule polls until every indicator condition holds
type TechnicalSchedule struct {
	Indicators           []orders.TechnicalCondition `json:"indicators" yaml:"indicators"`
	CheckIntervalMinutes int                         `json:"check_interval_minutes" yaml:"check_interval_minutes"`
}

// AlgorithmSchedule names an external timing algorithm; it runs hourly
type AlgorithmSchedule struct {
	Name       string            `json:"name" yaml:"name"`
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// ScheduleType is a closed union; the payload named by Kind is set
type ScheduleType struct {
	Kind        ScheduleKind         `json:"kind" yaml:"kind"`
	Interval    *IntervalSchedule    `json:"interval,omitempty" yaml:"interval,omitempty"`
	Cron        *CronSchedule        `json:"cron,omitempty" yaml:"cron,omitempty"`
	MarketEvent *MarketEventSchedule `json:"market_event,omitempty" yaml:"market_event,omitempty"`
	Price       *PriceSchedule       `json:"price,omitempty" yaml:"price,omitempty"`
	Volume      *VolumeSchedule      `json:"volume,omitempty" yaml:"volume,omitempty"`
	Technical   *TechnicalSchedule   `json:"technical,omitempty" yaml:"technical,omitempty"`
	Algorithm   *AlgorithmSchedule   `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
}

// polling reports whether the schedule waits on a market condition
func (t ScheduleType) polling() bool {
	return t.Kind == KindPrice || t.Kind == KindVolume || t.Kind == KindTechnical
}

func (t ScheduleType) checkInterval() time.Duration {
	var minutes int
	switch t.Kind {
	case KindPrice:
		minutes = t.Price.CheckIntervalMinutes
	case KindVolume:
		minutes = t.Volume.CheckIntervalMinutes
	case KindTechnical:
		minutes = t.Technical.CheckIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// TimeWindow limits execution to [Start, End] local time on Days.
// Times are "15:04"; days are three-letter English names. No days means every day.
type TimeWindow struct {
	Start string   `json:"start" yaml:"start"`
	End   string   `json:"end" yaml:"end"`
	Days  []string `json:"days,omitempty" yaml:"days,omitempty"`
}

// window is a parsed TimeWindow
type window struct {
	start, end time.Duration
	days       map[time.Weekday]bool
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// Weekdays is Monday to Friday
var Weekdays = []string{"mon", "tue", "wed", "thu", "fri"}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("time %q must be HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func (w TimeWindow) parse() (window, error) {
	var (
		out window
		err error
	)
	if out.start, err = parseClock(w.Start); err != nil {
		return out, err
	}
	if out.end, err = parseClock(w.End); err != nil {
		return out, err
	}
	if out.end < out.start {
		return out, fmt.Errorf("window end %s is before start %s", w.End, w.Start)
	}
	out.days = make(map[time.Weekday]bool)
	for _, d := range w.Days {
		key := strings.ToLower(strings.TrimSpace(d))
		if len(key) > 3 {
			key = key[:3]
		}
		day, ok := weekdays[key]
		if !ok {
			return out, fmt.Errorf("unknown weekday %q", d)
		}
		out.days[day] = true
	}
	if len(out.days) == 0 {
		for _, day := range weekdays {
			out.days[day] = true
		}
	}
	return out, nil
}

type ConditionKind string

const (
	ConditionMinBalance     ConditionKind = "minimum_balance"
	ConditionMaxSlippage    ConditionKind = "maximum_slippage"
	ConditionMaxVolatility  ConditionKind = "market_volatility"
	ConditionMaxPriorityFee ConditionKind = "network_congestion"
	ConditionAPIHealth      ConditionKind = "external_api_health"
	ConditionUserApproval   ConditionKind = "user_approval"
	ConditionPriceStability ConditionKind = "price_stability"
)

// ExecutionCondition gates a dispatch. Only the fields of its Kind are read.
type ExecutionCondition struct {
	Kind ConditionKind `json:"kind" yaml:"kind"`

	// minimum_balance: Asset is SOL, USDC or USD
	Asset     string  `json:"asset,omitempty" yaml:"asset,omitempty"`
	MinAmount float64 `json:"min_amount,omitempty" yaml:"min_amount,omitempty"`

	MaxSlippageBps uint32  `json:"max_slippage_bps,omitempty" yaml:"max_slippage_bps,omitempty"`
	QuoteAmount    float64 `json:"quote_amount,omitempty" yaml:"quote_amount,omitempty"`

	// market_volatility: annualized, in percent
	MaxVolatility float64 `json:"max_volatility,omitempty" yaml:"max_volatility,omitempty"`

	MaxPriorityFee uint64 `json:"max_priority_fee,omitempty" yaml:"max_priority_fee,omitempty"`
	API            string `json:"api,omitempty" yaml:"api,omitempty"`

	MaxChangePct     float64 `json:"max_change_pct,omitempty" yaml:"max_change_pct,omitempty"`
	TimeframeMinutes int     `json:"timeframe_minutes,omitempty" yaml:"timeframe_minutes,omitempty"`
}

type NotificationConfig struct {
	OnExecution bool `json:"on_execution" yaml:"on_execution"`
	OnFailure   bool `json:"on_failure" yaml:"on_failure"`
}

// DefaultNotificationConfig reports failures only
func DefaultNotificationConfig() NotificationConfig {
	return NotificationConfig{OnFailure: true}
}

// ScheduleConfig drives one DCA strategy
type ScheduleConfig struct {
	ID         string       `json:"id" yaml:"id"`
	StrategyID string       `json:"strategy_id" yaml:"strategy_id"`
	Owner      string       `json:"owner" yaml:"owner"`
	Name       string       `json:"name" yaml:"name"`
	Token      string       `json:"token" yaml:"token"`
	Type       ScheduleType `json:"type" yaml:"type"`
	Timezone   string       `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Active     bool         `json:"active" yaml:"-"`

	MaxExecutions   *int                 `json:"max_executions,omitempty" yaml:"max_executions,omitempty"`
	Window          *TimeWindow          `json:"window,omitempty" yaml:"window,omitempty"`
	MarketHoursOnly bool                 `json:"market_hours_only" yaml:"market_hours_only"`
	Market          string               `json:"market,omitempty" yaml:"market,omitempty"`
	SkipWeekends    bool                 `json:"skip_weekends" yaml:"skip_weekends"`
	Conditions      []ExecutionCondition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Notifications   NotificationConfig   `json:"notifications" yaml:"notifications"`

	ExecutionCount int        `json:"execution_count" yaml:"-"`
	LastExecuted   *time.Time `json:"last_executed,omitempty" yaml:"-"`
	NextExecution  time.Time  `json:"next_execution" yaml:"-"`
	CreatedAt      time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time  `json:"updated_at" yaml:"-"`
}

func (c *ScheduleConfig) clone() *ScheduleConfig {
	out := *c
	out.Conditions = append([]ExecutionCondition(nil), c.Conditions...)
	if c.Window != nil {
		w := *c.Window
		w.Days = append([]string(nil), c.Window.Days...)
		out.Window = &w
	}
	return &out
}

func (c *ScheduleConfig) location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// ExecutionType labels why a queue entry exists
type ExecutionType string

const (
	ExecRegular     ExecutionType = "regular"
	ExecMarketOpen  ExecutionType = "market_open"
	ExecMarketClose ExecutionType = "market_close"
	ExecPriceAlert  ExecutionType = "price_alert"
	ExecConditional ExecutionType = "condition_check"
)

// ExecutionRecord is one dispatch attempt
type ExecutionRecord struct {
	Timestamp  time.Time     `json:"timestamp"`
	ScheduleID string        `json:"schedule_id"`
	StrategyID string        `json:"strategy_id"`
	Type       ExecutionType `json:"type"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Skipped    bool          `json:"skipped"`
	Error      string        `json:"error,omitempty"`
}

// ExecutionStats aggregates dispatches since start; History keeps the latest MaxHistory
type ExecutionStats struct {
	Total           int               `json:"total"`
	Successful      int               `json:"successful"`
	Failed          int               `json:"failed"`
	Skipped         int               `json:"skipped"`
	AverageDuration time.Duration     `json:"average_duration"`
	LastExecution   *time.Time        `json:"last_execution,omitempty"`
	History         []ExecutionRecord `json:"history"`
}
