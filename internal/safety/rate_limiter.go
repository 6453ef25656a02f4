package safety

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/ducminhle1904/trade-automation/internal/errors"
)

// RateLimiter throttles requests to one external API
type RateLimiter struct {
	limiter  *rate.Limiter
	name     string
	allowed  atomic.Uint64
	rejected atomic.Uint64
}

// NewRateLimiter creates a limiter allowing ratePerSecond requests with the given burst
func NewRateLimiter(name string, ratePerSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(ratePerSecond)
	if ratePerSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(limit, burst),
		name:    name,
	}
}

// Allow reports whether a request may proceed now without waiting
func (rl *RateLimiter) Allow() bool {
	if rl.limiter.Allow() {
		rl.allowed.Add(1)
		return true
	}
	rl.rejected.Add(1)
	return false
}

// Wait blocks until a request may proceed or ctx is done
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		rl.rejected.Add(1)
		return errors.FromContext(err, rl.name, "rate_limit")
	}
	rl.allowed.Add(1)
	return nil
}

// RateLimiterStats holds counters for a rate limiter
type RateLimiterStats struct {
	Name     string
	Limit    float64
	Burst    int
	Allowed  uint64
	Rejected uint64
}

// GetStats returns current counters
func (rl *RateLimiter) GetStats() RateLimiterStats {
	return RateLimiterStats{
		Name:     rl.name,
		Limit:    float64(rl.limiter.Limit()),
		Burst:    rl.limiter.Burst(),
		Allowed:  rl.allowed.Load(),
		Rejected: rl.rejected.Load(),
	}
}
