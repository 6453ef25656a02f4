package notifications

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type envelope struct {
	userID string
	event  Event
}

// Dispatcher delivers events on a background goroutine.
// Send never blocks; events are dropped when the buffer is full.
type Dispatcher struct {
	next    Notifier
	queue   chan envelope
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	closed  bool
	dropped uint64
	wg      sync.WaitGroup
}

// NewDispatcher starts a worker delivering to next
func NewDispatcher(next Notifier, buffer int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 100
	}
	d := &Dispatcher{
		next:    next,
		queue:   make(chan envelope, buffer),
		timeout: 10 * time.Second,
		logger:  logger.Named("notifications"),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify implements Notifier by enqueueing; it never returns an error
func (d *Dispatcher) Notify(_ context.Context, userID string, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil
	}
	select {
	case d.queue <- envelope{userID: userID, event: event}:
	default:
		d.dropped++
		d.logger.Warn("notification dropped", zap.String("type", string(event.Type)))
	}
	return nil
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for env := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.next.Notify(ctx, env.userID, env.event); err != nil {
			d.logger.Warn("notification delivery failed",
				zap.String("type", string(env.event.Type)),
				zap.String("user", env.userID),
				zap.Error(err))
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be delivered
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
