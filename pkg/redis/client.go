// Package redis builds the instrumented Redis client shared by the bot, the
// job queue and the health checks.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"
)

// Config defines connection parameters for initializing the Redis client.
// URL, when set, takes precedence over Addr, Password and DB.
type Config struct {
	URL             string        `mapstructure:"url"`
	Addr            string        `mapstructure:"addr" validate:"required_without=URL"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
}

// Options converts the config into go-redis options.
func (cfg Config) Options() (*redis.Options, error) {
	opts := &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.PoolTimeout = cfg.PoolTimeout
	opts.ConnMaxIdleTime = cfg.IdleTimeout
	opts.MaxRetries = cfg.MaxRetries
	opts.MinRetryBackoff = cfg.MinRetryBackoff
	opts.MaxRetryBackoff = cfg.MaxRetryBackoff
	return opts, nil
}

// AsynqOpt describes the same server for the job queue, which keeps its own pool.
func (cfg Config) AsynqOpt() (asynq.RedisClientOpt, error) {
	opts, err := cfg.Options()
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Network:   opts.Network,
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		PoolSize:  opts.PoolSize,
		TLSConfig: opts.TLSConfig,
	}, nil
}

// Client is the application's go-redis client with metrics installed.
type Client struct {
	*redis.Client
}

// New creates an instrumented client and waits until the server answers a
// PING, retrying up to ConnectAttempts times with a doubling delay.
func New(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	rdb := Instrument(redis.NewClient(opts))

	attempts := max(cfg.ConnectAttempts, 1)
	delay := 250 * time.Millisecond
	for attempt := 1; ; attempt++ {
		err = rdb.Ping(ctx).Err()
		if err == nil {
			return &Client{rdb}, nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(delay):
			delay = min(delay*2, 5*time.Second)
			continue
		}
		break
	}

	_ = rdb.Close()
	return nil, fmt.Errorf("connect to redis after %d attempt(s): %w", attempts, err)
}

// Wrap adapts an existing go-redis client.
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb}
}
