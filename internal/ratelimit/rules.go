package ratelimit

import (
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Proton-105/gemini-clone-bot/pkg/config"
)

// ErrNoRule is returned when no limit is configured for a scope.
var ErrNoRule = errors.New("no rate limit rule configured")

// Rules holds the configured limits. Update swaps them atomically on config reload.
type Rules struct {
	config atomic.Pointer[config.RateLimitConfig]
}

// NewRules constructs rate limiting rules from configuration settings.
func NewRules(cfg config.RateLimitConfig) *Rules {
	r := &Rules{}
	r.Update(cfg)
	return r
}

// Update replaces the rules.
func (r *Rules) Update(cfg config.RateLimitConfig) {
	cfg.Whitelist = slices.Clone(cfg.Whitelist)
	r.config.Store(&cfg)
}

// IsWhitelisted returns true if the userID bypasses rate limits.
func (r *Rules) IsWhitelisted(userID int64) bool {
	return slices.Contains(r.config.Load().Whitelist, userID)
}

// CommandLimit returns the limit for a command such as "/image" or "image".
func (r *Rules) CommandLimit(command string) (int, time.Duration, error) {
	name := strings.TrimPrefix(strings.ToLower(command), "/")
	rule, ok := r.config.Load().Commands[name]
	if !ok {
		return 0, 0, ErrNoRule
	}
	return parseRule(rule)
}

// GlobalLimit returns the per-bot rule.
func (r *Rules) GlobalLimit() (int, time.Duration, error) {
	return parseRule(r.config.Load().Global)
}

// PerUserLimit returns the per-user rule.
func (r *Rules) PerUserLimit() (int, time.Duration, error) {
	return parseRule(r.config.Load().PerUser)
}

func parseRule(rule config.RateLimitRule) (int, time.Duration, error) {
	if rule.Limit <= 0 || rule.Window == "" {
		return 0, 0, ErrNoRule
	}
	window, err := time.ParseDuration(rule.Window)
	if err != nil {
		return 0, 0, err
	}
	return rule.Limit, window, nil
}

// MaxWindow is the longest window of any valid rule, at least one minute.
func (r *Rules) MaxWindow() time.Duration {
	cfg := r.config.Load()
	longest := time.Minute

	candidates := []config.RateLimitRule{cfg.Global, cfg.PerUser}
	for _, rule := range cfg.Commands {
		candidates = append(candidates, rule)
	}
	for _, rule := range candidates {
		if _, window, err := parseRule(rule); err == nil && window > longest {
			longest = window
		}
	}
	return longest
}
