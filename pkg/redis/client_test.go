package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_OptionsFromURL(t *testing.T) {
	cfg := Config{URL: "redis://:secret@cache.internal:6380/3", Addr: "ignored:6379", PoolSize: 20}

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 20, opts.PoolSize)

	asynqOpt, err := cfg.AsynqOpt()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", asynqOpt.Addr)
	assert.Equal(t, 3, asynqOpt.DB)
}

func TestConfig_OptionsBadURL(t *testing.T) {
	_, err := Config{URL: "http://nope"}.Options()
	require.Error(t, err)
}

func TestNew_Connects(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	assert.True(t, mr.Exists("k"))
}

func TestNew_GivesUpAfterAttempts(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	start := time.Now()
	_, err := New(context.Background(), Config{Addr: addr, ConnectAttempts: 2, MaxRetries: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 attempt(s)")
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}
