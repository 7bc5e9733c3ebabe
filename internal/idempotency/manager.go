// Package idempotency makes sure a Telegram update is handled at most once,
// even when polling restarts and the platform redelivers it.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

var ErrRequestInProgress = errors.New("request with this key is already in progress")

// defaultLease bounds how long a crashed handler keeps its key claimed.
const defaultLease = 5 * time.Minute

type Operation func(ctx context.Context) error

type Result struct {
	FromCache bool
}

type Manager interface {
	// Execute runs fn unless key already completed. A failed fn releases the
	// key so a redelivery can retry it.
	Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error)
}

type manager struct {
	store Store
	lease time.Duration
	log   *slog.Logger
}

func NewManager(store Store, log *slog.Logger) Manager {
	if log == nil {
		log = slog.Default()
	}

	return &manager{
		store: store,
		lease: defaultLease,
		log:   log.With(slog.String("component", "idempotency")),
	}
}

func (m *manager) Execute(ctx context.Context, key string, ttl time.Duration, fn Operation) (*Result, error) {
	if fn == nil {
		return nil, errors.New("operation fn cannot be nil")
	}

	claimed, status, err := m.store.Claim(ctx, key, m.lease)
	if err != nil {
		return nil, err
	}
	if !claimed {
		if status == StatusCompleted {
			return &Result{FromCache: true}, nil
		}
		return nil, ErrRequestInProgress
	}

	// The outcome is recorded even if the caller's context was cancelled meanwhile.
	recordCtx := context.WithoutCancel(ctx)

	if err := fn(ctx); err != nil {
		if releaseErr := m.store.Release(recordCtx, key); releaseErr != nil {
			m.log.Warn("failed to release key", slog.String("key", key), slog.Any("error", releaseErr))
		}
		return nil, err
	}

	if err := m.store.Complete(recordCtx, key, ttl); err != nil {
		m.log.Warn("failed to complete key", slog.String("key", key), slog.Any("error", err))
	}
	return &Result{}, nil
}
