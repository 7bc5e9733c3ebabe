package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStateTTL bounds how long an unfinished dialog survives in Redis.
const DefaultStateTTL = time.Hour

const scanBatch = 100

// RedisStore keeps the dialogs of one bot namespace as JSON strings.
type RedisStore struct {
	client    *redis.Client
	log       *slog.Logger
	namespace string
	ttl       time.Duration
	now       func() time.Time
}

// NewRedisStore returns a Store scoped to namespace.
func NewRedisStore(client *redis.Client, namespace string, log *slog.Logger) *RedisStore {
	if log == nil {
		log = slog.Default()
	}

	return &RedisStore{
		client:    client,
		log:       log.With(slog.String("fsm_namespace", namespace)),
		namespace: namespace,
		ttl:       DefaultStateTTL,
		now:       time.Now,
	}
}

func (s *RedisStore) Load(ctx context.Context, userID int64) (*Dialog, error) {
	raw, err := s.client.Get(ctx, stateKey(s.namespace, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load dialog of %d: %w", userID, err)
	}

	d, err := decodeDialog(raw)
	if err != nil {
		s.log.Warn("dropping undecodable dialog", slog.Int64("user_id", userID), slog.Any("error", err))
		return nil, ErrStateNotFound
	}
	return d, nil
}

func (s *RedisStore) Save(ctx context.Context, d *Dialog) error {
	d.UpdatedAt = s.now().UTC()

	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode dialog of %d: %w", d.UserID, err)
	}
	if err := s.client.Set(ctx, stateKey(s.namespace, d.UserID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save dialog of %d: %w", d.UserID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, stateKey(s.namespace, userID)).Err(); err != nil {
		return fmt.Errorf("delete dialog of %d: %w", userID, err)
	}
	return nil
}

// List scans the namespace. Dialogs that expire mid-scan are skipped.
func (s *RedisStore) List(ctx context.Context) ([]*Dialog, error) {
	var dialogs []*Dialog

	iter := s.client.Scan(ctx, 0, fmt.Sprintf(stateScanPattern, s.namespace), scanBatch).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == scanBatch {
			batch, err := s.fetch(ctx, keys)
			if err != nil {
				return nil, err
			}
			dialogs = append(dialogs, batch...)
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan dialogs: %w", err)
	}

	batch, err := s.fetch(ctx, keys)
	if err != nil {
		return nil, err
	}
	return append(dialogs, batch...), nil
}

func (s *RedisStore) fetch(ctx context.Context, keys []string) ([]*Dialog, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch dialogs: %w", err)
	}

	dialogs := make([]*Dialog, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		if d, err := decodeDialog([]byte(raw)); err == nil {
			dialogs = append(dialogs, d)
		}
	}
	return dialogs, nil
}

func decodeDialog(raw []byte) (*Dialog, error) {
	var d Dialog
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
