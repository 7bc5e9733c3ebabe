package state

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cleaner sweeps dialogs of every bot namespace that were not touched for ttl.
// Redis expiry covers the normal case; the sweep catches keys written without one.
type Cleaner struct {
	client   *redis.Client
	log      *slog.Logger
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewCleaner(client *redis.Client, log *slog.Logger, ttl, interval time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}

	return &Cleaner{
		client:   client,
		log:      log.With(slog.String("component", "state_cleaner")),
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps every interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup(ctx)
		}
	}
}

// Cleanup performs one sweep and returns the number of removed dialogs.
func (c *Cleaner) Cleanup(ctx context.Context) int {
	removed := 0

	iter := c.client.Scan(ctx, 0, anyStateScanFilter, scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !c.stale(ctx, key) {
			continue
		}
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.log.Error("failed to remove stale dialog", slog.String("key", key), slog.Any("error", err))
			continue
		}
		removed++
	}
	if err := iter.Err(); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Error("state sweep failed", slog.Any("error", err))
	}

	if removed > 0 {
		c.log.Info("stale dialogs removed", slog.Int("count", removed))
	}
	return removed
}

func (c *Cleaner) stale(ctx context.Context, key string) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("failed to read dialog", slog.String("key", key), slog.Any("error", err))
		}
		return false
	}

	d, err := decodeDialog(raw)
	if err != nil {
		return true
	}
	return c.now().Sub(d.UpdatedAt) > c.ttl
}
