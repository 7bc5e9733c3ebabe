package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type scopedRule struct {
	key  string
	rule func() (int, time.Duration, error)
}

// Guard applies the per-bot, per-user and per-command rules to one update.
type Guard struct {
	limiter Limiter
	rules   *Rules
	log     *slog.Logger
}

// NewGuard combines a limiter with rules.
func NewGuard(limiter Limiter, rules *Rules, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{limiter: limiter, rules: rules, log: log}
}

// Rules exposes the rules for hot reload.
func (g *Guard) Rules() *Rules {
	return g.rules
}

// Allow checks every applicable rule. A rejected check returns the result
// and ErrLimitExceeded. Limiter failures let the update through.
func (g *Guard) Allow(ctx context.Context, botID, userID int64, command string) (*Result, error) {
	if g == nil || g.rules.IsWhitelisted(userID) {
		return &Result{Allowed: true}, nil
	}

	checks := []scopedRule{
		{fmt.Sprintf("bot:%d", botID), g.rules.GlobalLimit},
		{fmt.Sprintf("user:%d:%d", botID, userID), g.rules.PerUserLimit},
	}
	if command != "" {
		checks = append(checks, scopedRule{
			fmt.Sprintf("cmd:%d:%d:%s", botID, userID, command),
			func() (int, time.Duration, error) { return g.rules.CommandLimit(command) },
		})
	}

	last := &Result{Allowed: true}
	for _, check := range checks {
		limit, window, err := check.rule()
		if errors.Is(err, ErrNoRule) {
			continue
		}
		if err != nil {
			g.log.Warn("invalid rate limit rule", slog.String("key", check.key), slog.Any("error", err))
			continue
		}

		result, err := g.limiter.Check(ctx, check.key, limit, window)
		if err != nil {
			g.log.Warn("rate limiter error", slog.String("key", check.key), slog.Any("error", err))
			continue
		}
		if !result.Allowed {
			return result, ErrLimitExceeded
		}
		last = result
	}

	return last, nil
}
