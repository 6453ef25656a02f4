package notifications

import (
	"context"
	"time"
)

// EventType names what happened
type EventType string

const (
	EventOrderCreated   EventType = "order_created"
	EventOrderTriggered EventType = "order_triggered"
	EventOrderFilled    EventType = "order_filled"
	EventOrderFailed    EventType = "order_failed"
	EventOrderCancelled EventType = "order_cancelled"
	EventOrderExpired   EventType = "order_expired"
	EventStopAdjusted   EventType = "trailing_stop_adjusted"
	EventStopTriggered  EventType = "trailing_stop_triggered"
	EventDCAExecuted    EventType = "dca_executed"
	EventDCAFailed      EventType = "dca_failed"
	EventDCACompleted   EventType = "dca_completed"
	EventScheduleRun    EventType = "schedule_executed"
	EventScheduleFailed EventType = "schedule_failed"
	EventBreakerOpened  EventType = "circuit_breaker_opened"
)

// Level maps to the alert severity shown to the user
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is one user-facing notification
type Event struct {
	Type      EventType
	Level     Level
	Title     string
	Message   string
	Fields    map[string]string
	Timestamp time.Time
}

// Notifier delivers events to a user. Delivery failures never affect trading state.
type Notifier interface {
	Notify(ctx context.Context, userID string, event Event) error
}

// Nop discards every event
type Nop struct{}

func (Nop) Notify(context.Context, string, Event) error { return nil }
