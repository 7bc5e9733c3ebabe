// Package bot runs Telegram bot instances. The primary bot and every clone are
// built by the same Engine and share one handler set.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/access"
	"github.com/Proton-105/gemini-clone-bot/internal/bot/handlers"
	"github.com/Proton-105/gemini-clone-bot/internal/clone"
	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
	"github.com/Proton-105/gemini-clone-bot/internal/i18n"
	"github.com/Proton-105/gemini-clone-bot/internal/idempotency"
	"github.com/Proton-105/gemini-clone-bot/internal/middleware"
	"github.com/Proton-105/gemini-clone-bot/internal/ratelimit"
	"github.com/Proton-105/gemini-clone-bot/internal/state"
	"github.com/Proton-105/gemini-clone-bot/internal/user"
	"github.com/Proton-105/gemini-clone-bot/pkg/config"
	"github.com/Proton-105/gemini-clone-bot/pkg/metrics"
)

// EngineDeps are the shared services every instance is wired with.
type EngineDeps struct {
	Config      config.Config
	Log         *slog.Logger
	Redis       *redis.Client
	Users       *user.Service
	Members     MemberRecorder
	Policy      *access.Policy
	Idempotency idempotency.Manager
	RateLimit   *ratelimit.Guard
	Errors      *apperrors.Handler
	Messages    *i18n.Manager
}

// Engine builds bot instances. It implements clone.ListenerFactory.
type Engine struct {
	deps     EngineDeps
	handlers *handlers.Handlers
	log      *slog.Logger
}

var _ clone.ListenerFactory = (*Engine)(nil)

// NewEngine creates an Engine. Mount must be called before instances are built.
func NewEngine(deps EngineDeps) *Engine {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Errors == nil {
		deps.Errors = apperrors.NewHandler(deps.Log, deps.Config.Sentry.Enabled)
	}
	return &Engine{deps: deps, log: deps.Log.With(slog.String("component", "bot_engine"))}
}

// Mount sets the handler set served by every instance.
func (e *Engine) Mount(h *handlers.Handlers) {
	e.handlers = h
}

// NewPrimary builds the primary bot from the bot configuration.
func (e *Engine) NewPrimary(ctx context.Context) (*Instance, error) {
	cfg := e.deps.Config
	opts := InstanceOptions{
		PollTimeout:    cfg.Bot.Timeout,
		ErrorThreshold: cfg.Bot.PollErrorThreshold,
		ErrorWindow:    cfg.Clone.PollErrorWindow,
		DrainTimeout:   cfg.Bot.DrainTimeout,
	}
	if cfg.Bot.Mode == "webhook" {
		opts.Webhook = &telebot.Webhook{
			Listen:         cfg.Bot.WebhookListen,
			AllowedUpdates: []string{"message", "callback_query"},
			Endpoint:       &telebot.WebhookEndpoint{PublicURL: cfg.Bot.WebhookURL},
		}
	}
	return e.NewInstance(ctx, cfg.Bot.Token, nil, opts)
}

// NewListener builds a clone instance for reg.
func (e *Engine) NewListener(ctx context.Context, reg *domain.CloneRegistration) (clone.Listener, error) {
	cfg := e.deps.Config.Clone
	return e.NewInstance(ctx, reg.BotToken, reg, InstanceOptions{
		PollTimeout:    cfg.PollTimeout,
		ErrorThreshold: cfg.PollErrorThreshold,
		ErrorWindow:    cfg.PollErrorWindow,
		DrainTimeout:   cfg.StopTimeout,
	})
}

// NewInstance authenticates token and wires the handler chain. reg is nil for the primary bot.
func (e *Engine) NewInstance(ctx context.Context, token string, reg *domain.CloneRegistration, opts InstanceOptions) (*Instance, error) {
	if e.handlers == nil {
		return nil, fmt.Errorf("bot engine: no handlers mounted")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	log := e.log
	if reg != nil {
		log = log.With(slog.Int64("owner_id", reg.OwnerID), slog.String("bot_username", reg.BotUsername))
	}

	client, transport := newHTTPClient(opts.PollTimeout + time.Minute)
	inst := &Instance{
		log:          log,
		transport:    transport,
		drainTimeout: opts.DrainTimeout,
		gate:         &drainGate{},
		base:         context.Background(),
	}

	var poller telebot.Poller
	if opts.Webhook != nil {
		poller = opts.Webhook
	} else {
		inst.poller = newUpdatePoller(opts.PollTimeout, opts.ErrorThreshold, opts.ErrorWindow, log)
		poller = telebot.NewMiddlewarePoller(inst.poller, acceptUpdate)
	}

	tb, err := telebot.NewBot(telebot.Settings{
		Token:   token,
		Poller:  poller,
		Client:  client,
		OnError: inst.onError,
	})
	if err != nil {
		transport.CloseIdleConnections()
		return nil, ClassifyError(err)
	}

	inst.bot = tb
	inst.info = access.Instance{BotID: tb.Me.ID, Clone: reg}
	inst.log = inst.log.With(slog.Int64("bot_id", tb.Me.ID))

	namespace := state.Namespace(tb.Me.ID)
	fsm := state.NewStateMachine(
		state.NewRedisStore(e.deps.Redis, namespace, log),
		log,
		e.deps.Redis,
		state.WithNamespace(namespace),
		state.WithObserver(metrics.RecordStateTransition),
	)
	inst.fsm = fsm

	router := NewRouter(NewDispatcher(log), log)
	router.Use(RecoveryMiddleware(log, e.deps.Errors, e.deps.Messages))
	router.Use(LoggingMiddleware(log, inst.baseContext))
	router.Use(ErrorHandlingMiddleware(e.deps.Errors, e.deps.Messages))
	router.Use(middleware.Idempotency(e.deps.Idempotency, log))
	router.Use(middleware.RateLimit(e.deps.RateLimit, log))
	router.Use(SessionMiddleware(inst.info, e.deps.Users, e.deps.Members, e.deps.Policy, fsm, e.deps.Messages, log))
	router.Use(LastActiveMiddleware(e.deps.Users, log))
	router.Use(middleware.Metrics)
	e.handlers.Register(router, inst.info)

	tb.Use(inst.gate.middleware)
	tb.Handle(telebot.OnText, router.Route)
	tb.Handle(telebot.OnCallback, router.Route)
	tb.Handle(telebot.OnPhoto, router.Route)

	inst.publish = func() { e.publishCommands(tb, inst.info, log) }
	return inst, nil
}

// publishCommands sets the client command menu for every loaded language.
func (e *Engine) publishCommands(tb *telebot.Bot, inst access.Instance, log *slog.Logger) {
	for _, lang := range e.deps.Messages.Languages() {
		commands := handlers.MenuCommands(e.deps.Messages.Translator(lang), inst)
		if err := tb.SetCommands(commands, lang); err != nil {
			log.Warn("failed to publish commands", slog.String("language", lang), slog.Any("error", err))
			return
		}
	}
	if err := tb.SetCommands(handlers.MenuCommands(e.deps.Messages.Translator(""), inst)); err != nil {
		log.Warn("failed to publish default commands", slog.Any("error", err))
	}
}
