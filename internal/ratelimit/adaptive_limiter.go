package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
)

var (
	checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gcb_ratelimit_checks_total",
		Help: "Rate limit checks by backend and result.",
	}, []string{"backend", "result"})

	backendErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gcb_ratelimit_redis_errors_total",
		Help: "Redis errors seen by the limiter.",
	})
)

// AdaptiveLimiter checks against the shared Redis limiter and falls back to a
// process-local limiter at half the limit while Redis fails. A circuit
// breaker stops hitting Redis on every update once it keeps failing.
type AdaptiveLimiter struct {
	primary  Limiter
	fallback Limiter
	breaker  *apperrors.CircuitBreaker
	log      *slog.Logger
}

var _ Limiter = (*AdaptiveLimiter)(nil)

func NewAdaptiveLimiter(primary, fallback Limiter, log *slog.Logger) *AdaptiveLimiter {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "ratelimit"))

	return &AdaptiveLimiter{
		primary:  primary,
		fallback: fallback,
		log:      log,
		breaker: apperrors.NewCircuitBreaker(
			apperrors.WithOpenTimeout(15*time.Second),
			apperrors.WithFailureFilter(func(err error) bool {
				return !errors.Is(err, context.Canceled)
			}),
			apperrors.WithStateChange(func(from, to apperrors.State) {
				log.Warn("redis limiter breaker changed state",
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			}),
		),
	}
}

func (a *AdaptiveLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	var result *Result
	err := a.breaker.Call(func() error {
		var err error
		result, err = a.primary.Check(ctx, key, limit, window)
		return err
	})
	if err == nil {
		checksTotal.WithLabelValues("redis", resultLabel(result.Allowed)).Inc()
		return result, nil
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}

	if !errors.Is(err, apperrors.ErrCircuitOpen) {
		backendErrorsTotal.Inc()
		a.log.Warn("redis limiter failed, using local fallback", slog.String("key", key), slog.Any("error", err))
	}

	result, err = a.fallback.Check(ctx, key, max(limit/2, 1), window)
	if err != nil {
		return nil, err
	}
	checksTotal.WithLabelValues("fallback", resultLabel(result.Allowed)).Inc()
	return result, nil
}

func resultLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "rejected"
}
