package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const cleanupBatch = 100

// trimScript drops entries older than ARGV[1] from one window and deletes
// the key when nothing is left. It returns 1 when the key was deleted.
var trimScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
if redis.call('ZCARD', KEYS[1]) == 0 then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

// Cleaner periodically trims sliding windows of idle keys and deletes empty ones.
type Cleaner struct {
	client   redis.UniversalClient
	memory   *MemoryLimiter
	log      *slog.Logger
	interval time.Duration
	maxAge   time.Duration
}

// NewCleaner constructs a Cleaner. Entries older than maxAge are dropped; maxAge
// must be at least the longest configured window. client and memory may be nil.
func NewCleaner(client redis.UniversalClient, memory *MemoryLimiter, log *slog.Logger, interval, maxAge time.Duration) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{client: client, memory: memory, log: log, interval: interval, maxAge: maxAge}
}

// Run cleans every interval until ctx is cancelled. A non-positive interval disables it.
func (c *Cleaner) Run(ctx context.Context) {
	if c.interval <= 0 {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Cleanup(ctx); n > 0 {
				c.log.Info("rate limit keys cleaned", slog.Int("keys_removed", n))
			}
		}
	}
}

// Cleanup runs one pass and returns the number of Redis keys removed.
func (c *Cleaner) Cleanup(ctx context.Context) int {
	if c.memory != nil {
		c.memory.Cleanup(c.maxAge)
	}
	if c.client == nil || ctx.Err() != nil {
		return 0
	}

	cutoff := "(" + strconv.FormatInt(time.Now().Add(-c.maxAge).UnixMilli(), 10)
	removed := 0

	batch := make([]string, 0, cleanupBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		cmds := make([]*redis.Cmd, len(batch))
		_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, key := range batch {
				cmds[i] = trimScript.Eval(ctx, pipe, []string{key}, cutoff)
			}
			return nil
		})
		if err != nil {
			c.log.Warn("rate limit cleanup batch failed", slog.Any("error", err))
		}
		for _, cmd := range cmds {
			if n, err := cmd.Int(); err == nil {
				removed += n
			}
		}
		batch = batch[:0]
	}

	iter := c.client.Scan(ctx, 0, keyPrefix+"*", cleanupBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cleanupBatch {
			flush()
		}
	}
	flush()

	if err := iter.Err(); err != nil {
		c.log.Error("rate limit scan failed", slog.Any("error", err))
	}
	return removed
}
