package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cleaner removes keys that lost their TTL, e.g. ones written by an older
// release or edited by hand.
type Cleaner struct {
	client   redis.UniversalClient
	log      *slog.Logger
	interval time.Duration
	maxTTL   time.Duration
}

func NewCleaner(client redis.UniversalClient, log *slog.Logger, interval, maxTTL time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}

	return &Cleaner{
		client:   client,
		log:      log.With(slog.String("component", "idempotency_cleaner")),
		interval: interval,
		maxTTL:   maxTTL,
	}
}

func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.client == nil || c.interval <= 0 {
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

// Cleanup deletes keys without a TTL or with one longer than maxTTL.
func (c *Cleaner) Cleanup(ctx context.Context) int {
	removed := 0

	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := c.client.TTL(ctx, key).Result()
		if err != nil {
			c.log.Warn("failed to read ttl", slog.String("key", key), slog.Any("error", err))
			continue
		}
		// -1 means no expiry; -2 means the key vanished meanwhile.
		if ttl != -1 && ttl <= c.maxTTL {
			continue
		}
		if err := c.client.Del(ctx, key).Err(); err != nil {
			c.log.Warn("failed to delete key", slog.String("key", key), slog.Any("error", err))
			continue
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		c.log.Error("scan failed", slog.Any("error", err))
	}

	if removed > 0 {
		c.log.Info("orphaned keys removed", slog.Int("count", removed))
	}
	return removed
}
