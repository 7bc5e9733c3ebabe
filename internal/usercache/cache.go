// Package usercache keeps hot user profiles in Redis so every update does not hit Postgres.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	redis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
)

const keyPrefix = "gcb:user:"

var lookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "user_cache_lookups_total",
	Help: "User cache lookups by result (hit, miss, error).",
}, []string{"result"})

// Cache stores user profiles as JSON under gcb:user:<telegram id>.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache constructs a user cache. A nil client disables caching.
func NewCache(client redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached profile, or nil on a miss. An entry that no longer
// decodes is dropped and reported as a miss.
func (c *Cache) Get(ctx context.Context, telegramID int64) (*domain.User, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}

	key := cacheKey(telegramID)
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		lookups.WithLabelValues("miss").Inc()
		return nil, nil
	case err != nil:
		lookups.WithLabelValues("error").Inc()
		return nil, &Error{Op: "get", TelegramID: telegramID, Err: err}
	}

	user := new(domain.User)
	if err := json.Unmarshal(data, user); err != nil {
		lookups.WithLabelValues("miss").Inc()
		c.client.Del(ctx, key)
		return nil, nil
	}

	lookups.WithLabelValues("hit").Inc()
	return user, nil
}

// Load serves the profile from cache, calling fetch on a miss. Concurrent
// misses for the same user share one fetch. Cache failures never fail the
// load; they are returned through report when it is non-nil.
func (c *Cache) Load(ctx context.Context, telegramID int64, fetch func(context.Context) (*domain.User, error), report func(error)) (*domain.User, error) {
	if report == nil {
		report = func(error) {}
	}

	cached, err := c.Get(ctx, telegramID)
	if err != nil {
		report(err)
	} else if cached != nil {
		return cached, nil
	}

	if c == nil {
		return fetch(ctx)
	}

	v, err, _ := c.group.Do(strconv.FormatInt(telegramID, 10), func() (any, error) {
		user, err := fetch(ctx)
		if err != nil || user == nil {
			return nil, err
		}
		if err := c.Set(ctx, user); err != nil {
			report(err)
		}
		return user, nil
	})
	if err != nil || v == nil {
		return nil, err
	}

	// Callers may mutate the profile; hand each one its own copy.
	user := *v.(*domain.User)
	return &user, nil
}

// Set stores the profile for the cache TTL.
func (c *Cache) Set(ctx context.Context, user *domain.User) error {
	if c == nil || c.client == nil || user == nil {
		return nil
	}

	payload, err := json.Marshal(user)
	if err != nil {
		return &Error{Op: "encode", TelegramID: user.TelegramID, Err: err}
	}

	if err := c.client.Set(ctx, cacheKey(user.TelegramID), payload, c.ttl).Err(); err != nil {
		return &Error{Op: "set", TelegramID: user.TelegramID, Err: err}
	}
	return nil
}

// Invalidate drops the cached profile.
func (c *Cache) Invalidate(ctx context.Context, telegramIDs ...int64) error {
	if c == nil || c.client == nil || len(telegramIDs) == 0 {
		return nil
	}

	keys := make([]string, len(telegramIDs))
	for i, id := range telegramIDs {
		keys[i] = cacheKey(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return &Error{Op: "invalidate", TelegramID: telegramIDs[0], Err: err}
	}
	return nil
}

// Error describes a failed cache operation.
type Error struct {
	Op         string
	TelegramID int64
	Err        error
}

func (e *Error) Error() string {
	return "user cache " + e.Op + " " + strconv.FormatInt(e.TelegramID, 10) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func cacheKey(telegramID int64) string {
	return keyPrefix + strconv.FormatInt(telegramID, 10)
}
