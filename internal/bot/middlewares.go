package bot

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/access"
	"github.com/Proton-105/gemini-clone-bot/internal/bot/handlers"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
	"github.com/Proton-105/gemini-clone-bot/internal/i18n"
	"github.com/Proton-105/gemini-clone-bot/internal/state"
	"github.com/Proton-105/gemini-clone-bot/internal/user"
	"github.com/Proton-105/gemini-clone-bot/pkg/logger"
)

const lastActiveTimeout = 3 * time.Second

// MemberRecorder remembers which users talked to which bot.
type MemberRecorder interface {
	AddMember(ctx context.Context, botID, userID int64) (bool, error)
}

// RecoveryMiddleware catches panics, reports them via the centralized handler, and notifies the user.
func RecoveryMiddleware(log *slog.Logger, errHandler *apperrors.Handler, messages *i18n.Manager) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}

				ctx := handlers.ContextFrom(c)
				logger.FromContext(ctx, log).Error("panic recovered in handler",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)

				msg := errHandler.HandlePanic(ctx, r)
				if sendErr := reply(c, translatorFor(c, messages).Tf(msg.Key, msg.Params)); sendErr != nil {
					log.Error("failed to notify user about panic", slog.Any("error", sendErr))
				}
				err = nil
			}()

			return next(c)
		}
	}
}

// ErrorHandlingMiddleware turns handler errors into a localized reply.
func ErrorHandlingMiddleware(errHandler *apperrors.Handler, messages *i18n.Manager) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			msg := errHandler.Handle(handlers.ContextFrom(c), err)
			if msg.Key == "" {
				return nil
			}
			_ = reply(c, translatorFor(c, messages).Tf(msg.Key, msg.Params))
			return nil
		}
	}
}

// LoggingMiddleware attaches a correlation id to the update context and logs the outcome.
func LoggingMiddleware(log *slog.Logger, base func() context.Context) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			start := time.Now()
			ctx := base()

			botID := int64(0)
			if me := c.Bot().Me; me != nil {
				botID = me.ID
			}
			ctx = logger.WithCorrelationID(ctx, strconv.FormatInt(botID, 10)+"-"+strconv.Itoa(c.Update().ID))
			handlers.WithContext(c, ctx)

			userID := int64(0)
			if c.Sender() != nil {
				userID = c.Sender().ID
			}

			err := next(c)

			level := slog.LevelInfo
			if err != nil {
				level = slog.LevelWarn
			}
			logger.FromContext(ctx, log).LogAttrs(ctx, level, "handled update",
				slog.Int64("bot_id", botID),
				slog.Int64("user_id", userID),
				slog.String("action", actionOf(c)),
				slog.Duration("duration", time.Since(start)),
				slog.Any("error", err),
			)
			return err
		}
	}
}

// SessionMiddleware loads the sender's account, resolves their role on inst and
// attaches the Session every handler reads. Banned users stop here.
func SessionMiddleware(
	inst access.Instance,
	users *user.Service,
	members MemberRecorder,
	policy *access.Policy,
	fsm state.StateMachine,
	messages *i18n.Manager,
	log *slog.Logger,
) handlers.Middleware {
	if log == nil {
		log = slog.Default()
	}

	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			sender := c.Sender()
			if sender == nil || sender.IsBot {
				return nil
			}

			ctx := handlers.ContextFrom(c)
			account, created, err := users.GetOrCreate(ctx, sender)
			if err != nil {
				return err
			}

			if members != nil {
				if _, err := members.AddMember(ctx, inst.BotID, sender.ID); err != nil {
					logger.FromContext(ctx, log).Warn("failed to record bot member",
						slog.Int64("bot_id", inst.BotID),
						slog.Int64("user_id", sender.ID),
						slog.Any("error", err),
					)
				}
			}

			role := policy.Role(ctx, inst, sender.ID)
			session := &handlers.Session{
				Ctx:      ctx,
				Instance: inst,
				Me:       c.Bot().Me,
				User:     account,
				NewUser:  created,
				Role:     role,
				T:        messages.Translator(account.Language),
				FSM:      fsm,
			}
			handlers.SetSession(c, session)

			if account.IsBanned && !role.AtLeast(access.RoleAdmin) {
				return apperrors.NewBannedError()
			}
			return next(c)
		}
	}
}

// LastActiveMiddleware records user activity timestamps without blocking request flow.
func LastActiveMiddleware(users *user.Service, log *slog.Logger) handlers.Middleware {
	return func(next handlers.Handler) handlers.Handler {
		return func(c telebot.Context) error {
			if s := handlers.SessionFrom(c); s != nil && s.User != nil && !s.NewUser {
				ctx, cancel := context.WithTimeout(context.WithoutCancel(s.Ctx), lastActiveTimeout)
				go func(id int64) {
					defer cancel()
					if err := users.UpdateLastActive(ctx, id); err != nil {
						log.Debug("failed to update last activity", slog.Int64("telegram_id", id), slog.Any("error", err))
					}
				}(s.User.TelegramID)
			}

			return next(c)
		}
	}
}

func translatorFor(c telebot.Context, messages *i18n.Manager) i18n.Translator {
	if s := handlers.SessionFrom(c); s != nil && s.T != nil {
		return s.T
	}
	lang := ""
	if sender := c.Sender(); sender != nil {
		lang = sender.LanguageCode
	}
	return messages.Translator(lang)
}

// reply answers a callback with an alert and anything else with a message.
func reply(c telebot.Context, text string) error {
	if c.Callback() != nil {
		return c.Respond(&telebot.CallbackResponse{Text: text, ShowAlert: true})
	}
	return c.Send(text)
}

func actionOf(c telebot.Context) string {
	if cb := c.Callback(); cb != nil {
		return "callback:" + cb.Data
	}
	if cmd := commandName(c.Text()); cmd != "" {
		return cmd
	}
	if msg := c.Message(); msg != nil && msg.Photo != nil {
		return "photo"
	}
	return "text"
}
