package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "gcb:ratelimit:"

// slidingWindow trims the window, admits the request only while under the
// limit and reports {allowed, count, oldest score}. Scores are unix milliseconds.
//
// KEYS[1] window set
// ARGV: now, exclusive cutoff, limit, ttl ms, member
var slidingWindow = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local count = redis.call("ZCARD", KEYS[1])
local allowed = 0
if count < tonumber(ARGV[3]) then
	redis.call("ZADD", KEYS[1], ARGV[1], ARGV[5])
	count = count + 1
	allowed = 1
end
redis.call("PEXPIRE", KEYS[1], ARGV[4])
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local score = tonumber(ARGV[1])
if oldest[2] then
	score = tonumber(oldest[2])
end
return {allowed, count, score}
`)

// RedisLimiter is a sliding window limiter shared by every process.
// Rejected requests are not recorded, so a user who keeps retrying is not locked out longer.
type RedisLimiter struct {
	client redis.UniversalClient
	log    *slog.Logger
	now    func() time.Time
}

var _ Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(client redis.UniversalClient, log *slog.Logger) *RedisLimiter {
	if log == nil {
		log = slog.Default()
	}

	return &RedisLimiter{
		client: client,
		log:    log,
		now:    time.Now,
	}
}

func (l *RedisLimiter) Check(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	if l.client == nil {
		return nil, errors.New("redis client is not configured for rate limiting")
	}

	now := l.now()
	if limit <= 0 {
		return &Result{ResetAt: now.Add(window)}, nil
	}

	nowMs := now.UnixMilli()
	reply, err := slidingWindow.Run(ctx, l.client, []string{keyPrefix + key},
		nowMs,
		"("+strconv.FormatInt(now.Add(-window).UnixMilli(), 10),
		limit,
		(2 * window).Milliseconds(),
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(reply) != 3 {
		return nil, fmt.Errorf("rate limit %s: unexpected reply %v", key, reply)
	}

	return &Result{
		Allowed:   reply[0] == 1,
		Remaining: max(limit-int(reply[1]), 0),
		ResetAt:   time.UnixMilli(reply[2]).Add(window),
	}, nil
}
