package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestRedisLimiter_AllowsWithinLimit(t *testing.T) {
	client, _ := setupTestRedis(t)

	limiter := NewRedisLimiter(client, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "test:allows", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 5-(i+1), result.Remaining)
	}
}

func TestRedisLimiter_BlocksWhenExceeded(t *testing.T) {
	client, _ := setupTestRedis(t)

	limiter := NewRedisLimiter(client, testLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "test:blocks", 2, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i < 2, result.Allowed)
	}

	// rejected attempts are not recorded
	card, err := client.ZCard(ctx, keyPrefix+"test:blocks").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), card)
}

func TestRedisLimiter_SlidingWindow(t *testing.T) {
	client, _ := setupTestRedis(t)

	limiter := NewRedisLimiter(client, testLogger())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		result, err := limiter.Check(ctx, "test:window", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
	}

	result, err := limiter.Check(ctx, "test:window", 2, time.Second)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, now.Add(time.Second), result.ResetAt)

	now = now.Add(1100 * time.Millisecond)

	result, err = limiter.Check(ctx, "test:window", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestAdaptiveLimiter_FallsBackToMemory(t *testing.T) {
	client, mr := setupTestRedis(t)
	mr.Close()

	limiter := NewAdaptiveLimiter(NewRedisLimiter(client, testLogger()), NewMemoryLimiter(), testLogger())
	ctx := context.Background()

	// fallback halves the limit: 4 -> 2
	for i := 0; i < 3; i++ {
		result, err := limiter.Check(ctx, "test:fallback", 4, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i < 2, result.Allowed)
	}
}

type failingLimiter struct{ calls int }

func (f *failingLimiter) Check(context.Context, string, int, time.Duration) (*Result, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func TestAdaptiveLimiter_StopsCallingFailingBackend(t *testing.T) {
	primary := &failingLimiter{}
	limiter := NewAdaptiveLimiter(primary, NewMemoryLimiter(), testLogger())

	for i := 0; i < 30; i++ {
		_, err := limiter.Check(context.Background(), fmt.Sprintf("user:%d", i), 10, time.Minute)
		require.NoError(t, err)
	}
	assert.Less(t, primary.calls, 30)
}

func TestCleaner_RemovesIdleKeys(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	old := float64(time.Now().Add(-time.Hour).UnixMilli())
	require.NoError(t, client.ZAdd(ctx, keyPrefix+"idle", redis.Z{Score: old, Member: "a"}).Err())
	require.NoError(t, client.ZAdd(ctx, keyPrefix+"busy", redis.Z{Score: float64(time.Now().UnixMilli()), Member: "b"}).Err())

	memory := NewMemoryLimiter()
	_, err := memory.Check(ctx, "k", 1, time.Second)
	require.NoError(t, err)
	memory.now = func() time.Time { return time.Now().Add(time.Hour) }

	cleaner := NewCleaner(client, memory, testLogger(), time.Minute, 10*time.Minute)
	assert.Equal(t, 1, cleaner.Cleanup(ctx))
	assert.False(t, mr.Exists(keyPrefix+"idle"))
	assert.True(t, mr.Exists(keyPrefix+"busy"))
	assert.Zero(t, memory.Cleanup(time.Nanosecond))
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	memory := NewMemoryLimiter()
	memory.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		result, err := memory.Check(ctx, "user:1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 2-i, result.Remaining)
		now = now.Add(10 * time.Second)
	}

	rejected, err := memory.Check(ctx, "user:1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, rejected.Allowed)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC), rejected.ResetAt)

	other, err := memory.Check(ctx, "user:2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	now = now.Add(31 * time.Second)
	again, err := memory.Check(ctx, "user:1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, again.Allowed)
	assert.Equal(t, 0, again.Remaining)
}

func TestResult_RetryAfter(t *testing.T) {
	now := time.Now()
	assert.Zero(t, (&Result{Allowed: true}).RetryAfter(now))
	assert.Equal(t, 4*time.Second, (&Result{ResetAt: now.Add(3 * time.Second)}).RetryAfter(now))
	assert.Equal(t, time.Second, (&Result{ResetAt: now.Add(200 * time.Millisecond)}).RetryAfter(now))
	assert.Zero(t, (&Result{ResetAt: now.Add(-time.Second)}).RetryAfter(now))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
