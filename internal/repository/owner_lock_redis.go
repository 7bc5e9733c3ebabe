package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
	appredis "github.com/Proton-105/gemini-clone-bot/pkg/redis"
)

const ownerLockKeyPattern = "clone:lock:owner:%d"

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// OwnerLock serializes clone management commands of one owner across processes.
// The database indexes remain the source of truth; the lock only avoids
// probing Telegram twice for racing requests.
type OwnerLock struct {
	client *appredis.Client
	ttl    time.Duration
}

// NewOwnerLock creates a Redis-backed per-owner lock.
func NewOwnerLock(client *appredis.Client, ttl time.Duration) *OwnerLock {
	return &OwnerLock{client: client, ttl: ttl}
}

// Acquire takes the lock for ownerID. The returned func releases it if still owned.
// A lock held elsewhere yields a Busy app error.
func (l *OwnerLock) Acquire(ctx context.Context, ownerID int64) (func(), error) {
	key := fmt.Sprintf(ownerLockKeyPattern, ownerID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire owner lock: %w", err)
	}
	if !ok {
		return nil, apperrors.NewBusyError()
	}

	return func() {
		// Release with a fresh context so a cancelled request still frees the lock.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client.Client, []string{key}, token).Err()
	}, nil
}
