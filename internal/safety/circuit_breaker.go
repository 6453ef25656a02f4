package safety

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ducminhle1904/trade-automation/internal/errors"
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	FailureThreshold uint32        // Consecutive failures before opening
	SuccessThreshold uint32        // Consecutive half-open successes before closing
	Timeout          time.Duration // Time spent open before a half-open trial
}

// CircuitBreaker guards a single external dependency
type CircuitBreaker struct {
	config        CircuitBreakerConfig
	state         CircuitBreakerState
	failures      uint32
	successes     uint32
	totalRequests uint64
	totalFailures uint64
	lastFailure   time.Time
	nextAttempt   time.Time
	mutex         sync.RWMutex
	name          string
	now           func() time.Time
	logger        *zap.Logger
	onStateChange func(name string, from, to CircuitBreakerState)
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 3
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
		name:   name,
		now:    time.Now,
		logger: zap.NewNop(),
	}
}

// SetLogger attaches a logger for state transitions
func (cb *CircuitBreaker) SetLogger(logger *zap.Logger) {
	if logger == nil {
		return
	}
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.logger = logger.With(zap.String("breaker", cb.name))
}

// SetClock overrides the time source
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.now = now
}

// SetStateChangeCallback sets a callback to be called when the state changes
func (cb *CircuitBreaker) SetStateChangeCallback(callback func(name string, from, to CircuitBreakerState)) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.onStateChange = callback
}

// Name returns the dependency name the breaker guards
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Call executes fn with circuit breaker protection.
// An open breaker returns a ServiceUnavailable error without invoking fn.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.canExecute() {
		return errors.Wrap(errors.ErrCircuitOpen, errors.KindServiceUnavailable, cb.name, "call").
			WithContext("breaker", cb.name)
	}

	err := fn()
	if err != nil {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

// canExecute determines if the circuit breaker allows execution
func (cb *CircuitBreaker) canExecute() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		cb.totalRequests++
		return true
	case StateOpen:
		if !cb.now().Before(cb.nextAttempt) {
			cb.changeState(StateHalfOpen)
			cb.successes = 0
			cb.totalRequests++
			return true
		}
		return false
	default:
		return false
	}
}

// recordSuccess records a successful execution
func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures = 0

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.toClosed()
		}
	case StateOpen:
		cb.toClosed()
	}
}

// recordFailure records a failed execution
func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++
	cb.totalFailures++
	cb.lastFailure = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.toOpen()
		}
	case StateHalfOpen:
		cb.toOpen()
	case StateOpen:
		cb.nextAttempt = cb.now().Add(cb.config.Timeout)
	}
}

// toClosed transitions to closed state
func (cb *CircuitBreaker) toClosed() {
	cb.changeState(StateClosed)
	cb.failures = 0
	cb.successes = 0
}

// toOpen transitions to open state
func (cb *CircuitBreaker) toOpen() {
	cb.changeState(StateOpen)
	cb.nextAttempt = cb.now().Add(cb.config.Timeout)
	cb.successes = 0
}

// changeState must be called with the mutex held
func (cb *CircuitBreaker) changeState(newState CircuitBreakerState) {
	oldState := cb.state
	cb.state = newState
	if oldState == newState {
		return
	}

	if newState == StateOpen {
		cb.logger.Warn("circuit breaker opened",
			zap.Uint32("failures", cb.failures),
			zap.Duration("timeout", cb.config.Timeout))
	} else {
		cb.logger.Info("circuit breaker state changed",
			zap.String("from", oldState.String()),
			zap.String("to", newState.String()))
	}

	if cb.onStateChange != nil {
		// Call callback without holding the mutex to avoid deadlock
		go cb.onStateChange(cb.name, oldState, newState)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()

	var failureRate float64
	if cb.totalRequests > 0 {
		failureRate = float64(cb.totalFailures) / float64(cb.totalRequests) * 100
	}

	return CircuitBreakerStats{
		Name:          cb.name,
		State:         cb.state,
		Failures:      cb.failures,
		Successes:     cb.successes,
		TotalRequests: cb.totalRequests,
		TotalFailures: cb.totalFailures,
		FailureRate:   failureRate,
		LastFailure:   cb.lastFailure,
		NextAttempt:   cb.nextAttempt,
	}
}

// CircuitBreakerStats holds statistics about a circuit breaker
type CircuitBreakerStats struct {
	Name          string              `json:"name"`
	State         CircuitBreakerState `json:"-"`
	Failures      uint32              `json:"consecutive_failures"`
	Successes     uint32              `json:"consecutive_successes"`
	TotalRequests uint64              `json:"total_requests"`
	TotalFailures uint64              `json:"total_failures"`
	FailureRate   float64             `json:"failure_rate"`
	LastFailure   time.Time           `json:"last_failure"`
	NextAttempt   time.Time           `json:"next_attempt"`
}

// Reset forces the circuit breaker closed
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.toClosed()
}

// ForceOpen forces the circuit breaker to open state
func (cb *CircuitBreaker) ForceOpen() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.toOpen()
}

// CircuitBreakerManager manages one breaker per external dependency
type CircuitBreakerManager struct {
	breakers map[string]*CircuitBreaker
	mutex    sync.RWMutex
	logger   *zap.Logger
	onChange func(name string, from, to CircuitBreakerState)
}

// NewCircuitBreakerManager creates a new circuit breaker manager
func NewCircuitBreakerManager(logger *zap.Logger) *CircuitBreakerManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CircuitBreakerManager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// OnStateChange installs a callback applied to every breaker created afterwards
func (cbm *CircuitBreakerManager) OnStateChange(callback func(name string, from, to CircuitBreakerState)) {
	cbm.mutex.Lock()
	defer cbm.mutex.Unlock()
	cbm.onChange = callback
}

// GetOrCreate gets an existing circuit breaker or creates a new one
func (cbm *CircuitBreakerManager) GetOrCreate(name string, config CircuitBreakerConfig) *CircuitBreaker {
	cbm.mutex.RLock()
	if cb, exists := cbm.breakers[name]; exists {
		cbm.mutex.RUnlock()
		return cb
	}
	cbm.mutex.RUnlock()

	cbm.mutex.Lock()
	defer cbm.mutex.Unlock()

	// Double-check after acquiring write lock
	if cb, exists := cbm.breakers[name]; exists {
		return cb
	}

	cb := NewCircuitBreaker(name, config)
	cb.SetLogger(cbm.logger)
	if cbm.onChange != nil {
		cb.SetStateChangeCallback(cbm.onChange)
	}
	cbm.breakers[name] = cb
	return cb
}

// Get gets an existing circuit breaker
func (cbm *CircuitBreakerManager) Get(name string) (*CircuitBreaker, bool) {
	cbm.mutex.RLock()
	defer cbm.mutex.RUnlock()

	cb, exists := cbm.breakers[name]
	return cb, exists
}

// GetStats returns statistics for all circuit breakers ordered by name
func (cbm *CircuitBreakerManager) GetStats() []CircuitBreakerStats {
	cbm.mutex.RLock()
	defer cbm.mutex.RUnlock()

	stats := make([]CircuitBreakerStats, 0, len(cbm.breakers))
	for _, cb := range cbm.breakers {
		stats = append(stats, cb.GetStats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// HasOpenCircuits returns true if any circuit breakers are open
func (cbm *CircuitBreakerManager) HasOpenCircuits() bool {
	return len(cbm.GetOpenCircuits()) > 0
}

// GetOpenCircuits returns a sorted list of open circuit breaker names
func (cbm *CircuitBreakerManager) GetOpenCircuits() []string {
	cbm.mutex.RLock()
	defer cbm.mutex.RUnlock()

	var openCircuits []string
	for name, cb := range cbm.breakers {
		if cb.GetState() == StateOpen {
			openCircuits = append(openCircuits, name)
		}
	}
	sort.Strings(openCircuits)
	return openCircuits
}
