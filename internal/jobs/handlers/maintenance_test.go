package handlers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/gemini-clone-bot/internal/jobs"
)

type pointsFunc func(ctx context.Context) (int64, error)

func (f pointsFunc) ResetAllDaily(ctx context.Context) (int64, error) { return f(ctx) }

type prunerFunc func(ctx context.Context, retention time.Duration) (int64, error)

func (f prunerFunc) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return f(ctx, retention)
}

type expirerFunc func(ctx context.Context, ttl time.Duration) (int64, error)

func (f expirerFunc) ExpirePending(ctx context.Context, ttl time.Duration) (int64, error) {
	return f(ctx, ttl)
}

func TestPointsResetHandler(t *testing.T) {
	calls := 0
	h := NewPointsResetHandler(pointsFunc(func(context.Context) (int64, error) {
		calls++
		return 12, nil
	}), nil)

	require.NoError(t, h.ProcessTask(context.Background(), jobs.NewPointsResetTask()))
	assert.Equal(t, 1, calls)

	failing := NewPointsResetHandler(pointsFunc(func(context.Context) (int64, error) {
		return 0, errors.New("db down")
	}), nil)
	assert.Error(t, failing.ProcessTask(context.Background(), jobs.NewPointsResetTask()))
}

func TestCleanupHandler(t *testing.T) {
	var got time.Duration
	h := NewCleanupHandler(prunerFunc(func(_ context.Context, retention time.Duration) (int64, error) {
		got = retention
		return 3, nil
	}), nil)

	task, err := jobs.NewCleanupDataTask(30 * 24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))
	assert.Equal(t, 30*24*time.Hour, got)

	got = 0
	disabled, err := jobs.NewCleanupDataTask(0)
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), disabled))
	assert.Zero(t, got)

	err = h.ProcessTask(context.Background(), asynq.NewTask(jobs.TaskTypeCleanupData, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestExpirePendingHandler(t *testing.T) {
	var got time.Duration
	h := NewExpirePendingHandler(expirerFunc(func(_ context.Context, ttl time.Duration) (int64, error) {
		got = ttl
		return 1, nil
	}), nil)

	task, err := jobs.NewExpirePendingTask(10 * time.Minute)
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))
	assert.Equal(t, 10*time.Minute, got)

	err = h.ProcessTask(context.Background(), asynq.NewTask(jobs.TaskTypeExpirePending, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
