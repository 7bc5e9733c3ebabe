// Package logger builds the application slog.Logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	slogsentry "github.com/samber/slog-sentry/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Proton-105/gemini-clone-bot/pkg/config"
)

// New creates the application logger: stdout plus an optional rotated file,
// sensitive attributes masked, and error records forwarded to Sentry when enabled.
func New(cfg config.Config) *slog.Logger {
	return slog.New(newHandler(cfg, os.Stdout))
}

func newHandler(cfg config.Config, stdout io.Writer) slog.Handler {
	var out io.Writer = stdout
	if cfg.Logger.File != "" {
		out = io.MultiWriter(stdout, &lumberjack.Logger{
			Filename:   cfg.Logger.File,
			MaxSize:    cfg.Logger.MaxSizeMB,
			MaxBackups: cfg.Logger.MaxBackups,
			MaxAge:     cfg.Logger.MaxAgeDays,
			Compress:   true,
		})
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Logger.Level)}

	var base slog.Handler
	if strings.EqualFold(cfg.Logger.Format, "text") {
		base = slog.NewTextHandler(out, opts)
	} else {
		base = slog.NewJSONHandler(out, opts)
	}

	handlers := []slog.Handler{base}
	if cfg.Sentry.Enabled {
		handlers = append(handlers, slogsentry.Option{Level: slog.LevelError}.NewSentryHandler())
	}

	handler := NewMaskingHandler(newFanout(handlers...))
	return handler.WithAttrs([]slog.Attr{
		slog.String("env", cfg.AppEnv),
	})
}

// InitSentry configures the global Sentry hub. The returned func flushes buffered events.
func InitSentry(cfg config.SentryConfig, env string) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	environment := cfg.Environment
	if environment == "" {
		environment = env
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      environment,
		TracesSampleRate: cfg.TracesSampleRate,
	}); err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}

	return func() { sentry.Flush(2 * time.Second) }, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
