package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "gcb:idempotency:"

// Status of a key. A missing key has no status.
type Status string

const (
	StatusNone       Status = ""
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Store keeps one status per key.
type Store interface {
	// Claim marks key as processing for lease. When the key is already taken it
	// reports false and the current status.
	Claim(ctx context.Context, key string, lease time.Duration) (bool, Status, error)
	// Complete marks key as done and keeps it for ttl.
	Complete(ctx context.Context, key string, ttl time.Duration) error
	// Release drops a processing claim. Completed keys are kept.
	Release(ctx context.Context, key string) error
}

// releaseScript deletes the key only while it is still a processing claim.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Claim(ctx context.Context, key string, lease time.Duration) (bool, Status, error) {
	claimed, err := s.client.SetNX(ctx, redisKey(key), string(StatusProcessing), lease).Result()
	if err != nil {
		return false, StatusNone, fmt.Errorf("claim %s: %w", key, err)
	}
	if claimed {
		return true, StatusProcessing, nil
	}

	current, err := s.client.Get(ctx, redisKey(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Expired between the two calls; the next delivery will claim it.
		return false, StatusNone, nil
	case err != nil:
		return false, StatusNone, fmt.Errorf("read %s: %w", key, err)
	}
	return false, Status(current), nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, redisKey(key), string(StatusCompleted), ttl).Err(); err != nil {
		return fmt.Errorf("complete %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, s.client, []string{redisKey(key)}, string(StatusProcessing)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func redisKey(key string) string {
	return keyPrefix + key
}
