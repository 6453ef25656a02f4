package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// Kind classifies a failure by how callers are expected to react to it
type Kind string

const (
	// Rejected before any state was touched
	KindValidation Kind = "VALIDATION"
	// Quote, slippage or execution failure; the entity keeps its prior state
	KindTrading Kind = "TRADING"
	// A circuit breaker is open or the executor cannot accept work
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
	KindTimeout            Kind = "TIMEOUT"
	KindNotFound           Kind = "NOT_FOUND"
	KindConfig             Kind = "CONFIG"
	KindInternal           Kind = "INTERNAL"
)

var (
	ErrQueueFull   = &TradeError{Kind: KindServiceUnavailable, Component: "executor", Operation: "enqueue", Message: "execution queue is full"}
	ErrShutdown    = &TradeError{Kind: KindServiceUnavailable, Component: "executor", Operation: "enqueue", Message: "executor is shutting down"}
	ErrCircuitOpen = &TradeError{Kind: KindServiceUnavailable, Component: "circuit_breaker", Operation: "call", Message: "circuit breaker is open"}
)

// TradeError represents a categorized error with context
type TradeError struct {
	Kind       Kind
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

// Error implements the error interface
func (e *TradeError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Kind, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Kind, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *TradeError) Unwrap() error {
	return e.Underlying
}

// Is matches sentinel errors by kind, component and message so wrapped copies still compare equal
func (e *TradeError) Is(target error) bool {
	t, ok := target.(*TradeError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Component == t.Component && e.Message == t.Message
}

// IsRetryable returns whether the next natural cycle may retry the operation
func (e *TradeError) IsRetryable() bool {
	return e.Retryable
}

// WithContext adds context information to the error
func (e *TradeError) WithContext(key string, value interface{}) *TradeError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable sets the retryable flag
func (e *TradeError) WithRetryable(retryable bool) *TradeError {
	e.Retryable = retryable
	return e
}

// New creates a new categorized error
func New(kind Kind, component, operation, message string) *TradeError {
	return &TradeError{
		Kind:      kind,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: isRetryableKind(kind),
	}
}

// Wrap wraps an existing error with categorized context
func Wrap(err error, kind Kind, component, operation string) *TradeError {
	if err == nil {
		return nil
	}
	return &TradeError{
		Kind:       kind,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Retryable:  isRetryableKind(kind),
	}
}

func isRetryableKind(kind Kind) bool {
	switch kind {
	case KindTrading, KindTimeout, KindServiceUnavailable:
		return true
	default:
		return false
	}
}

func NewValidationError(component, operation, message string) *TradeError {
	return New(KindValidation, component, operation, message)
}

func NewTradingError(component, operation, message string) *TradeError {
	return New(KindTrading, component, operation, message)
}

func NewServiceUnavailableError(component, operation, message string) *TradeError {
	return New(KindServiceUnavailable, component, operation, message)
}

func NewTimeoutError(component, operation string, err error) *TradeError {
	e := Wrap(err, KindTimeout, component, operation)
	if e == nil {
		e = New(KindTimeout, component, operation, "operation timed out")
	}
	e.Message = "operation timed out"
	return e
}

func NewNotFoundError(component, operation, message string) *TradeError {
	return New(KindNotFound, component, operation, message)
}

func NewConfigError(component, operation, message string) *TradeError {
	return New(KindConfig, component, operation, message)
}

// FromContext converts context expiry into a Timeout error and leaves other errors untouched
func FromContext(err error, component, operation string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(component, operation, err)
	}
	return err
}

// KindOf returns the kind of the first TradeError in the chain.
// Context deadlines count as timeouts; anything else uncategorized is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *TradeError
	if stderrors.As(err, &te) {
		return te.Kind
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Categorize attempts to categorize a generic error from an external dependency
func Categorize(err error, component, operation string) *TradeError {
	if err == nil {
		return nil
	}

	var te *TradeError
	if stderrors.As(err, &te) {
		return te
	}

	msg := strings.ToLower(err.Error())
	switch {
	case stderrors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout"):
		return NewTimeoutError(component, operation, err)
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "minimum") || strings.Contains(msg, "maximum"):
		return Wrap(err, KindValidation, component, operation)
	default:
		return Wrap(err, KindTrading, component, operation)
	}
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool { return stderrors.As(err, target) }

