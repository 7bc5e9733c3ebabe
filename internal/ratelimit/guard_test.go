package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/gemini-clone-bot/pkg/config"
)

func testRules() config.RateLimitConfig {
	return config.RateLimitConfig{
		Global:  config.RateLimitRule{Limit: 100, Window: "1s"},
		PerUser: config.RateLimitRule{Limit: 5, Window: "1m"},
		Commands: map[string]config.RateLimitRule{
			"image": {Limit: 1, Window: "1m"},
		},
		Whitelist: []int64{42},
	}
}

func TestGuard_CommandRule(t *testing.T) {
	guard := NewGuard(NewMemoryLimiter(), NewRules(testRules()), testLogger())
	ctx := context.Background()

	_, err := guard.Allow(ctx, 1, 7, "/image")
	require.NoError(t, err)

	res, err := guard.Allow(ctx, 1, 7, "/image")
	require.ErrorIs(t, err, ErrLimitExceeded)
	assert.False(t, res.Allowed)

	// other commands and other bots are unaffected
	_, err = guard.Allow(ctx, 1, 7, "/help")
	require.NoError(t, err)
	_, err = guard.Allow(ctx, 2, 7, "/image")
	require.NoError(t, err)
}

func TestGuard_Whitelist(t *testing.T) {
	guard := NewGuard(NewMemoryLimiter(), NewRules(testRules()), testLogger())
	for i := 0; i < 10; i++ {
		_, err := guard.Allow(context.Background(), 1, 42, "/image")
		require.NoError(t, err)
	}
}

func TestRules_Update(t *testing.T) {
	rules := NewRules(testRules())

	limit, window, err := rules.CommandLimit("IMAGE")
	require.NoError(t, err)
	assert.Equal(t, 1, limit)
	assert.Equal(t, time.Minute, window)

	_, _, err = rules.CommandLimit("chat")
	assert.ErrorIs(t, err, ErrNoRule)

	updated := testRules()
	updated.Commands = map[string]config.RateLimitRule{"chat": {Limit: 3, Window: "10s"}}
	updated.Whitelist = nil
	rules.Update(updated)

	limit, window, err = rules.CommandLimit("/chat")
	require.NoError(t, err)
	assert.Equal(t, 3, limit)
	assert.Equal(t, 10*time.Second, window)
	assert.False(t, rules.IsWhitelisted(42))
}

func TestRules_InvalidWindow(t *testing.T) {
	cfg := testRules()
	cfg.PerUser.Window = "soon"
	guard := NewGuard(NewMemoryLimiter(), NewRules(cfg), testLogger())

	_, _, err := guard.Rules().PerUserLimit()
	require.Error(t, err)

	// a broken rule is skipped rather than blocking everyone
	_, err = guard.Allow(context.Background(), 1, 7, "")
	require.NoError(t, err)
}

func TestRules_MaxWindow(t *testing.T) {
	cfg := testRules()
	assert.Equal(t, time.Minute, NewRules(cfg).MaxWindow())

	cfg.Commands["createbot"] = config.RateLimitRule{Limit: 3, Window: "10m"}
	cfg.Commands["broken"] = config.RateLimitRule{Limit: 3, Window: "forever"}
	assert.Equal(t, 10*time.Minute, NewRules(cfg).MaxWindow())
}
