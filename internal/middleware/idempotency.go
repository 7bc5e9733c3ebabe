package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/bot/handlers"
	"github.com/Proton-105/gemini-clone-bot/internal/idempotency"
	"github.com/Proton-105/gemini-clone-bot/pkg/logger"
	"github.com/Proton-105/gemini-clone-bot/pkg/metrics"
)

// UpdateTTL is how long a handled update id is remembered per bot.
const UpdateTTL = 24 * time.Hour

// Idempotency runs each Telegram update at most once per bot, even when a
// restarted listener receives it again. A failed handler releases the key so
// a redelivery retries it. When the key store is unreachable the update is
// handled without deduplication.
func Idempotency(manager idempotency.Manager, log *slog.Logger) handlers.Middleware {
	if manager == nil {
		return func(next handlers.Handler) handlers.Handler { return next }
	}
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			key, ok := updateKey(c)
			if !ok {
				return next(c)
			}
			ctx := handlers.ContextFrom(c)

			var ran bool
			result, err := manager.Execute(ctx, key, UpdateTTL, func(context.Context) error {
				ran = true
				return next(c)
			})

			switch {
			case ran:
				metrics.RecordUpdateDedup("handled")
				return err
			case errors.Is(err, idempotency.ErrRequestInProgress):
				metrics.RecordUpdateDedup("in_progress")
				return nil
			case err != nil:
				metrics.RecordUpdateDedup("bypassed")
				logger.FromContext(ctx, log).Warn("idempotency store unavailable, handling update anyway",
					slog.String("key", key), slog.Any("error", err))
				return next(c)
			case result != nil && result.FromCache:
				metrics.RecordUpdateDedup("duplicate")
				logger.FromContext(ctx, log).Debug("duplicate update skipped", slog.String("key", key))
			}
			return nil
		}
	}
}

func updateKey(c telebot.Context) (string, bool) {
	me := c.Bot().Me
	if me == nil || c.Update().ID == 0 {
		return "", false
	}
	return idempotency.UpdateKey(me.ID, c.Update().ID), true
}
