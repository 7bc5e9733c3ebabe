package config

import (
	"fmt"
	"time"

	"github.com/Proton-105/gemini-clone-bot/pkg/redis"
)

// Config holds runtime configuration for the assistant bot and its clones.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Bot       BotConfig       `mapstructure:"bot"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     redis.Config    `mapstructure:"redis"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Points    PointsConfig    `mapstructure:"points"`
	Clone     CloneConfig     `mapstructure:"clone"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
}

// BotConfig configures the primary Telegram bot.
type BotConfig struct {
	Token         string        `mapstructure:"token" validate:"required"`
	Name          string        `mapstructure:"name"`
	OwnerID       int64         `mapstructure:"owner_id" validate:"required,gt=0"`
	Mode          string        `mapstructure:"mode" validate:"oneof=polling webhook"`
	Timeout       time.Duration `mapstructure:"timeout"`
	WebhookListen string        `mapstructure:"webhook_listen"`
	WebhookURL    string        `mapstructure:"webhook_url" validate:"required_if=Mode webhook"`
	// PollErrorThreshold is the number of consecutive polling errors after
	// which the primary bot gives up. Zero keeps it polling forever.
	PollErrorThreshold int           `mapstructure:"poll_error_threshold" validate:"gte=0"`
	DrainTimeout       time.Duration `mapstructure:"drain_timeout"`
	DefaultLanguage    string        `mapstructure:"default_language" validate:"oneof=en id"`
}

// GeminiConfig configures the generative AI client.
type GeminiConfig struct {
	APIKey          string        `mapstructure:"api_key" validate:"required"`
	Model           string        `mapstructure:"model" validate:"required"`
	ImageModel      string        `mapstructure:"image_model" validate:"required"`
	Temperature     float32       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	TopP            float32       `mapstructure:"top_p" validate:"gte=0,lte=1"`
	TopK            float32       `mapstructure:"top_k" validate:"gte=0"`
	MaxOutputTokens int32         `mapstructure:"max_output_tokens" validate:"gt=0"`
	HistoryLimit    int           `mapstructure:"history_limit" validate:"gte=0"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	SystemPrompt    string        `mapstructure:"system_prompt"`
}

// DatabaseConfig describes the PostgreSQL connection.
type DatabaseConfig struct {
	Host          string        `mapstructure:"host" validate:"required"`
	Port          int           `mapstructure:"port" validate:"gt=0"`
	User          string        `mapstructure:"user" validate:"required"`
	Password      string        `mapstructure:"password"`
	Name          string        `mapstructure:"name" validate:"required"`
	SSLMode       string        `mapstructure:"sslmode"`
	MaxOpenConns  int           `mapstructure:"max_open_conns"`
	MaxIdleConns  int           `mapstructure:"max_idle_conns"`
	ConnMaxLife   time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir string        `mapstructure:"migrations_dir"`
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// LoggerConfig controls slog output.
type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json text"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SentryConfig controls error reporting.
type SentryConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	DSN              string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment      string  `mapstructure:"environment"`
	TracesSampleRate float64 `mapstructure:"traces_sample_rate" validate:"gte=0,lte=1"`
}

// ServerConfig configures the health and metrics HTTP server.
type ServerConfig struct {
	Port            string        `mapstructure:"port" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// RateLimitRule is a limit per window, e.g. 20 per "1m".
type RateLimitRule struct {
	Limit  int    `mapstructure:"limit"`
	Window string `mapstructure:"window"`
}

// RateLimitConfig holds rate limiting rules. It is hot-reloaded on config changes.
type RateLimitConfig struct {
	Global          RateLimitRule            `mapstructure:"global"`
	PerUser         RateLimitRule            `mapstructure:"per_user"`
	Commands        map[string]RateLimitRule `mapstructure:"commands"`
	Whitelist       []int64                  `mapstructure:"whitelist"`
	CleanupInterval time.Duration            `mapstructure:"cleanup_interval"`
}

// PointsConfig configures the image credit ledger.
type PointsConfig struct {
	Daily    int    `mapstructure:"daily" validate:"gte=0"`
	Referral int    `mapstructure:"referral" validate:"gte=0"`
	Timezone string `mapstructure:"timezone" validate:"required"`
}

// Location resolves the configured timezone, falling back to UTC.
func (c PointsConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CloneConfig configures the clone supervisor.
type CloneConfig struct {
	InitialBackoff     time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff"`
	MaxFailures        int           `mapstructure:"max_failures" validate:"gt=0"`
	HealthyAfter       time.Duration `mapstructure:"healthy_after"`
	StopTimeout        time.Duration `mapstructure:"stop_timeout"`
	PollTimeout        time.Duration `mapstructure:"poll_timeout"`
	PollErrorThreshold int           `mapstructure:"poll_error_threshold" validate:"gt=0"`
	PollErrorWindow    time.Duration `mapstructure:"poll_error_window"`
	ProbeTimeout       time.Duration `mapstructure:"probe_timeout"`
	RestoreConcurrency int           `mapstructure:"restore_concurrency" validate:"gt=0"`
	PendingTTL         time.Duration `mapstructure:"pending_ttl"`
}

// JobsConfig configures asynq background jobs.
type JobsConfig struct {
	Concurrency           int           `mapstructure:"concurrency" validate:"gt=0"`
	PointsResetCron       string        `mapstructure:"points_reset_cron"`
	CleanupCron           string        `mapstructure:"cleanup_cron"`
	ConversationRetention time.Duration `mapstructure:"conversation_retention"`
	BroadcastRate         float64       `mapstructure:"broadcast_rate" validate:"gt=0"`
	BroadcastBatch        int           `mapstructure:"broadcast_batch" validate:"gt=0"`
}
