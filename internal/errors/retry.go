package errors

import (
	"context"
	"errors"
	"time"
)

const (
	MaxRetries     = 3
	InitialBackoff = 100 * time.Millisecond
	MaxBackoff     = 5 * time.Second
)

// RetryPolicy bounds WithRetryPolicy. A nil Retryable retries AppErrors
// marked Retryable; OnRetry, when set, sees every failed attempt that will
// be retried together with the wait before the next one.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Retryable      func(error) bool
	OnRetry        func(attempt int, wait time.Duration, err error)
}

// DefaultRetryPolicy is used by WithRetry.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries:     MaxRetries,
	InitialBackoff: InitialBackoff,
	MaxBackoff:     MaxBackoff,
}

func WithRetry(ctx context.Context, fn func() error) error {
	return WithRetryPolicy(ctx, DefaultRetryPolicy, fn)
}

// WithRetryPolicy calls fn until it succeeds, returns a non-retryable error or
// runs out of attempts. A cancelled ctx ends the wait early and the last
// error from fn is returned.
func WithRetryPolicy(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if fn == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil || !retryable(err) || attempt > policy.MaxRetries {
			return err
		}

		wait := ExponentialBackoff(attempt, policy.InitialBackoff, policy.MaxBackoff)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, wait, err)
		}
		if Sleep(ctx, wait) != nil {
			return err
		}
	}
}

// IsRetryable reports whether err carries an AppError marked Retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr != nil && appErr.Retryable
}

// ExponentialBackoff returns initial doubled for every attempt after the
// first, capped at limit. Attempts below 1 count as 1.
func ExponentialBackoff(attempt int, initial, limit time.Duration) time.Duration {
	delay := initial
	for i := 1; i < attempt; i++ {
		if delay >= limit/2 {
			return limit
		}
		delay *= 2
	}
	return min(delay, limit)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
