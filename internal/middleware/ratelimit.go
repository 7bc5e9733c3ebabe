package middleware

import (
	"errors"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/bot/handlers"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
	"github.com/Proton-105/gemini-clone-bot/internal/ratelimit"
	"github.com/Proton-105/gemini-clone-bot/pkg/logger"
)

// RateLimit enforces the bot-wide, per-user and per-command limits of guard.
// Limiter failures let the update through.
func RateLimit(guard *ratelimit.Guard, log *slog.Logger) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		if guard == nil {
			return next
		}

		return func(c telebot.Context) error {
			sender := c.Sender()
			me := c.Bot().Me
			if sender == nil || me == nil {
				return next(c)
			}

			ctx := handlers.ContextFrom(c)
			result, err := guard.Allow(ctx, me.ID, sender.ID, CommandName(c))
			switch {
			case errors.Is(err, ratelimit.ErrLimitExceeded):
				retryAfter := 1
				if result != nil {
					retryAfter = max(int(result.RetryAfter(time.Now()).Seconds()), 1)
				}
				logger.FromContext(ctx, log).Info("rate limit exceeded",
					slog.Int64("bot_id", me.ID),
					slog.Int64("user_id", sender.ID),
					slog.Int("retry_after", retryAfter),
				)
				return apperrors.NewRateLimitError(retryAfter)
			case err != nil:
				logger.FromContext(ctx, log).Warn("rate limiter error", slog.Int64("user_id", sender.ID), slog.Any("error", err))
			}

			return next(c)
		}
	}
}
