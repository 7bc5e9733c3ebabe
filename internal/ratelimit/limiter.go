// Package ratelimit throttles updates per user, per command and per bot.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrLimitExceeded indicates the rate limit has been reached for the key.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Limiter counts requests for key in a sliding window and decides whether
// one more fits under limit.
type Limiter interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}

// Result is the outcome of one Check. ResetAt is when the oldest counted
// request leaves the window.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds to wait before the next attempt
// fits, never less than one second for a rejected result.
func (r *Result) RetryAfter(now time.Time) time.Duration {
	if r == nil || r.Allowed {
		return 0
	}
	wait := r.ResetAt.Sub(now)
	if wait <= 0 {
		return 0
	}
	return wait.Truncate(time.Second) + time.Second
}
