package idempotency

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (Manager, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(NewRedisStore(client), log), client, mr
}

func TestManager_RunsOnce(t *testing.T) {
	ctx := context.Background()
	mgr, _, mr := newTestManager(t)
	key := UpdateKey(100, 7)

	calls := 0
	op := func(context.Context) error {
		calls++
		return nil
	}

	res, err := mgr.Execute(ctx, key, time.Hour, op)
	require.NoError(t, err)
	assert.False(t, res.FromCache)

	res, err = mgr.Execute(ctx, key, time.Hour, op)
	require.NoError(t, err)
	assert.True(t, res.FromCache)
	assert.Equal(t, 1, calls)

	assert.Equal(t, time.Hour, mr.TTL(keyPrefix+key))
	got, err := mr.Get(keyPrefix + key)
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), got)
}

func TestManager_FailureAllowsRetry(t *testing.T) {
	ctx := context.Background()
	mgr, _, mr := newTestManager(t)
	key := UpdateKey(100, 8)

	errBoom := errors.New("boom")
	_, err := mgr.Execute(ctx, key, time.Hour, func(context.Context) error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	assert.False(t, mr.Exists(keyPrefix+key))

	calls := 0
	_, err = mgr.Execute(ctx, key, time.Hour, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestManager_InProgress(t *testing.T) {
	ctx := context.Background()
	mgr, client, _ := newTestManager(t)
	key := UpdateKey(100, 9)

	require.NoError(t, client.Set(ctx, keyPrefix+key, string(StatusProcessing), time.Minute).Err())

	_, err := mgr.Execute(ctx, key, time.Hour, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrRequestInProgress)
}

func TestRedisStore_ReleaseKeepsCompleted(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client)

	claimed, status, err := store.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, StatusProcessing, status)

	require.NoError(t, store.Complete(ctx, "k", time.Hour))
	require.NoError(t, store.Release(ctx, "k"))

	claimed, status, err = store.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, StatusCompleted, status)
}

func TestUpdateKey_ScopedByBot(t *testing.T) {
	assert.NotEqual(t, UpdateKey(1, 5), UpdateKey(2, 5))
	assert.Equal(t, GenerateKey("a", 1), GenerateKey("a", 1))
	assert.NotEqual(t, GenerateKey("a", 1), GenerateKey("a", 2))
	assert.NotEqual(t, GenerateKey("ab", "c"), GenerateKey("a", "bc"))
	assert.Len(t, GenerateKey("x"), 64)
}

func TestCleaner_RemovesKeysWithoutTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(ctx, keyPrefix+"orphan", "x", 0).Err())
	require.NoError(t, client.Set(ctx, keyPrefix+"fresh", "x", time.Hour).Err())
	require.NoError(t, client.Set(ctx, "other:key", "x", 0).Err())

	cleaner := NewCleaner(client, nil, time.Minute, 25*time.Hour)
	assert.Equal(t, 1, cleaner.Cleanup(ctx))
	assert.False(t, mr.Exists(keyPrefix+"orphan"))
	assert.True(t, mr.Exists(keyPrefix+"fresh"))
	assert.True(t, mr.Exists("other:key"))
}
