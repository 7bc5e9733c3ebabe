// Package config provides configuration loading and validation utilities.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const defaultConfigDir = "./configs"

// Load reads configuration from YAML files and environment variables, validates it, and returns the resulting Config.
func Load() (*Config, *viper.Viper, error) {
	return LoadFrom(defaultConfigDir)
}

// LoadFrom behaves like Load but looks for <APP_ENV>.yaml in dir.
// A missing file is not an error: defaults and environment variables still apply.
func LoadFrom(dir string) (*Config, *viper.Viper, error) {
	// .env files are optional
	_ = godotenv.Load(".env.local", ".env")

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	v := viper.New()
	v.SetConfigName(env)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	_ = v.BindEnv("bot.owner_id", "BOT_OWNER_ID", "OWNER_ID")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	cfg.AppEnv = env

	return cfg, v, nil
}

// Watch re-reads the config file on change and hands valid configurations to onChange.
func Watch(v *viper.Viper, log *slog.Logger, onChange func(*Config)) {
	if v == nil || onChange == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			log.Error("config reload rejected", slog.String("file", e.Name), slog.Any("error", err))
			return
		}

		log.Info("config reloaded", slog.String("file", e.Name), slog.String("op", e.Op.String()))
		onChange(cfg)
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.name", "Gemini Assistant")
	v.SetDefault("bot.owner_id", 0)
	v.SetDefault("bot.mode", "polling")
	v.SetDefault("bot.timeout", 10*time.Second)
	v.SetDefault("bot.webhook_listen", ":8443")
	v.SetDefault("bot.webhook_url", "")
	v.SetDefault("bot.poll_error_threshold", 0)
	v.SetDefault("bot.drain_timeout", 5*time.Second)
	v.SetDefault("bot.default_language", "id")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.image_model", "imagen-3.0-generate-002")
	v.SetDefault("gemini.temperature", 0.7)
	v.SetDefault("gemini.top_p", 0.8)
	v.SetDefault("gemini.top_k", 40)
	v.SetDefault("gemini.max_output_tokens", 2048)
	v.SetDefault("gemini.history_limit", 10)
	v.SetDefault("gemini.request_timeout", 60*time.Second)
	v.SetDefault("gemini.system_prompt", "")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "gemini_bot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.migrations_dir", "migrations")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.pool_timeout", 4*time.Second)
	v.SetDefault("redis.idle_timeout", 5*time.Minute)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.min_retry_backoff", 8*time.Millisecond)
	v.SetDefault("redis.max_retry_backoff", 512*time.Millisecond)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.connect_attempts", 5)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")
	v.SetDefault("sentry.traces_sample_rate", 0.0)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("ratelimit.global.limit", 300)
	v.SetDefault("ratelimit.global.window", "1s")
	v.SetDefault("ratelimit.per_user.limit", 20)
	v.SetDefault("ratelimit.per_user.window", "1m")
	v.SetDefault("ratelimit.commands", map[string]any{
		"chat":      map[string]any{"limit": 10, "window": "1m"},
		"image":     map[string]any{"limit": 3, "window": "1m"},
		"createbot": map[string]any{"limit": 3, "window": "10m"},
		"broadcast": map[string]any{"limit": 2, "window": "10m"},
	})
	v.SetDefault("ratelimit.whitelist", []int64{})
	v.SetDefault("ratelimit.cleanup_interval", 5*time.Minute)

	v.SetDefault("points.daily", 3)
	v.SetDefault("points.referral", 3)
	v.SetDefault("points.timezone", "Asia/Jakarta")

	v.SetDefault("clone.initial_backoff", 2*time.Second)
	v.SetDefault("clone.max_backoff", 2*time.Minute)
	v.SetDefault("clone.max_failures", 5)
	v.SetDefault("clone.healthy_after", 5*time.Minute)
	v.SetDefault("clone.stop_timeout", 15*time.Second)
	v.SetDefault("clone.poll_timeout", 10*time.Second)
	v.SetDefault("clone.poll_error_threshold", 5)
	v.SetDefault("clone.poll_error_window", 2*time.Minute)
	v.SetDefault("clone.probe_timeout", 10*time.Second)
	v.SetDefault("clone.restore_concurrency", 8)
	v.SetDefault("clone.pending_ttl", 10*time.Minute)

	v.SetDefault("jobs.concurrency", 10)
	v.SetDefault("jobs.points_reset_cron", "0 0 * * *")
	v.SetDefault("jobs.cleanup_cron", "30 3 * * *")
	v.SetDefault("jobs.conversation_retention", 30*24*time.Hour)
	v.SetDefault("jobs.broadcast_rate", 25.0)
	v.SetDefault("jobs.broadcast_batch", 30)
}
