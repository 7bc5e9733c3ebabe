package handlers

import (
	"context"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/access"
	"github.com/Proton-105/gemini-clone-bot/internal/ai"
	"github.com/Proton-105/gemini-clone-bot/internal/bot/keyboard"
	"github.com/Proton-105/gemini-clone-bot/internal/clone"
	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	"github.com/Proton-105/gemini-clone-bot/internal/i18n"
	"github.com/Proton-105/gemini-clone-bot/internal/jobs"
	"github.com/Proton-105/gemini-clone-bot/internal/memory"
	"github.com/Proton-105/gemini-clone-bot/internal/points"
	"github.com/Proton-105/gemini-clone-bot/internal/referral"
	"github.com/Proton-105/gemini-clone-bot/internal/state"
	"github.com/Proton-105/gemini-clone-bot/internal/user"
)

// Handler processes bot commands.
type Handler func(c telebot.Context) error

// Middleware wraps handlers with additional behavior.
type Middleware func(Handler) Handler

const (
	sessionKey = "session"
	contextKey = "context"
)

// WithContext stores the request context of an update.
func WithContext(c telebot.Context, ctx context.Context) {
	c.Set(contextKey, ctx)
}

// ContextFrom returns the request context of an update, or context.Background.
func ContextFrom(c telebot.Context) context.Context {
	if c != nil {
		if ctx, ok := c.Get(contextKey).(context.Context); ok && ctx != nil {
			return ctx
		}
	}
	return context.Background()
}

// Session is the per-update view of who is talking to which bot.
type Session struct {
	Ctx      context.Context
	Instance access.Instance
	Me       *telebot.User
	User     *domain.User
	NewUser  bool
	Role     access.Role
	T        i18n.Translator
	FSM      state.StateMachine
}

// BotName is the display name used in prompts and greetings.
func (s *Session) BotName() string {
	if s.Instance.Clone != nil && s.Instance.Clone.BotName != "" {
		return s.Instance.Clone.BotName
	}
	if s.Me != nil {
		return s.Me.FirstName
	}
	return ""
}

// BotUsername is the username of the serving bot without "@".
func (s *Session) BotUsername() string {
	if s.Me != nil && s.Me.Username != "" {
		return s.Me.Username
	}
	if s.Instance.Clone != nil {
		return s.Instance.Clone.BotUsername
	}
	return ""
}

// SetSession attaches s to the update context.
func SetSession(c telebot.Context, s *Session) {
	c.Set(sessionKey, s)
}

// SessionFrom returns the session attached by the session middleware, or nil.
func SessionFrom(c telebot.Context) *Session {
	if c == nil {
		return nil
	}
	s, _ := c.Get(sessionKey).(*Session)
	return s
}

// CloneManager is the clone lifecycle surface used by the clone commands.
type CloneManager interface {
	Create(ctx context.Context, ownerID, adminID int64, token string) (*domain.CloneRegistration, error)
	Delete(ctx context.Context, ownerID int64) error
	RevokeByAdmin(ctx context.Context, ownerID int64) error
	Get(ctx context.Context, ownerID int64) (*domain.CloneRegistration, error)
	Latest(ctx context.Context, ownerID int64) (*domain.CloneRegistration, error)
	IsRunning(ownerID int64) bool
	Stats(ctx context.Context) (domain.CloneStats, error)
	Running() []clone.TaskInfo
}

// BotStats records and reports per-bot usage.
type BotStats interface {
	Increment(ctx context.Context, botID int64, messages, images int) error
	Stats(ctx context.Context, botID int64, since time.Time) (*domain.BotStats, error)
}

// BroadcastQueue hands a broadcast over to the background worker.
type BroadcastQueue interface {
	EnqueueBroadcast(ctx context.Context, payload jobs.BroadcastPayload) error
}

// Deps are the services shared by every bot instance.
type Deps struct {
	Users      *user.Service
	Points     *points.Service
	Referral   *referral.Service
	Memory     *memory.Service
	AI         ai.Client
	Clones     CloneManager
	Notifier   clone.Notifier
	Stats      BotStats
	Broadcasts BroadcastQueue
	Policy     *access.Policy
	Keyboard   *keyboard.Builder
	I18n       *i18n.Manager
	Log        *slog.Logger
}

// Handlers implements every command. One value serves the primary bot and all clones;
// the serving instance is read from the update's Session.
type Handlers struct {
	Deps
	log *slog.Logger
}

// New creates the handler set.
func New(deps Deps) *Handlers {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	if deps.Keyboard == nil {
		deps.Keyboard = keyboard.NewBuilder(log)
	}
	return &Handlers{Deps: deps, log: log.With(slog.String("component", "handlers"))}
}

// Registrar is the routing surface handlers register on.
type Registrar interface {
	RegisterCommand(cmd string, h Handler)
	RegisterCallback(unique string, h Handler)
	RegisterState(s state.State, h Handler)
	SetDefault(h Handler)
	SetPhoto(h Handler)
}

// RequireRole rejects users below min with a forbidden error.
func RequireRole(min access.Role, next Handler) Handler {
	return func(c telebot.Context) error {
		s := SessionFrom(c)
		if s == nil || !s.Role.AtLeast(min) {
			return errForbidden(c)
		}
		return next(c)
	}
}

// PrimaryOnly rejects the handler on clone instances.
func PrimaryOnly(next Handler) Handler {
	return func(c telebot.Context) error {
		s := SessionFrom(c)
		if s == nil || !s.Instance.IsPrimary() {
			return c.Send(translator(c).T("clone.primary_only"))
		}
		return next(c)
	}
}

// Register wires every command available on inst.
func (h *Handlers) Register(r Registrar, inst access.Instance) {
	r.RegisterCommand(CommandStart, h.Start)
	r.RegisterCommand(CommandHelp, h.Help)
	r.RegisterCommand(CommandPoints, h.Points)
	r.RegisterCommand(CommandReferral, h.Referral)
	r.RegisterCommand(CommandInvite, h.Referral)
	r.RegisterCommand(CommandProfile, h.Profile)
	r.RegisterCommand(CommandMemory, h.MemoryInfo)
	r.RegisterCommand(CommandClear, h.Clear)
	r.RegisterCommand(CommandImage, h.Image)
	r.RegisterCommand(CommandSettings, h.Settings)
	r.RegisterCommand(CommandCancel, h.Cancel)

	r.RegisterCommand(CommandAdmin, RequireRole(access.RoleAdmin, h.AdminPanel))
	r.RegisterCommand(CommandStats, RequireRole(access.RoleAdmin, h.Stats))
	r.RegisterCommand(CommandBan, RequireRole(access.RoleAdmin, h.Ban))
	r.RegisterCommand(CommandUnban, RequireRole(access.RoleAdmin, h.Unban))
	r.RegisterCommand(CommandUserInfo, RequireRole(access.RoleAdmin, h.UserInfo))
	r.RegisterCommand(CommandGivePoints, RequireRole(access.RoleAdmin, h.GivePoints))
	r.RegisterCommand(CommandResetPoints, RequireRole(access.RoleAdmin, h.ResetPoints))
	r.RegisterCommand(CommandUsers, RequireRole(access.RoleAdmin, h.Users))
	r.RegisterCommand(CommandBroadcast, RequireRole(access.RoleAdmin, h.Broadcast))

	r.RegisterCommand(CommandAddAdmin, RequireRole(access.RoleOwner, h.AddAdmin))
	r.RegisterCommand(CommandRemoveAdmin, RequireRole(access.RoleOwner, h.RemoveAdmin))
	r.RegisterCommand(CommandCloneStats, RequireRole(access.RoleOwner, h.CloneStats))
	r.RegisterCommand(CommandRevokeClone, RequireRole(access.RoleOwner, h.RevokeClone))

	r.RegisterCallback(keyboard.CallbackMenu, h.MenuCallback)
	r.RegisterCallback(keyboard.CallbackLanguage, h.LanguageCallback)
	r.RegisterCallback(keyboard.CallbackUsers, RequireRole(access.RoleAdmin, h.UsersPageCallback))
	r.RegisterCallback(keyboard.CallbackBroadcast, RequireRole(access.RoleAdmin, h.BroadcastCallback))
	r.RegisterCallback(keyboard.CallbackClear, h.ClearCallback)

	r.RegisterState(state.StateAwaitingBroadcastText, RequireRole(access.RoleAdmin, h.BroadcastText))

	if inst.IsPrimary() {
		r.RegisterCommand(CommandCreateBot, PrimaryOnly(h.CreateBot))
		r.RegisterCommand(CommandMyBot, PrimaryOnly(h.MyBot))
		r.RegisterCommand(CommandDeleteBot, PrimaryOnly(h.DeleteBot))
		r.RegisterCommand(CommandBotHelp, PrimaryOnly(h.BotHelp))
		r.RegisterCallback(keyboard.CallbackDeleteBot, PrimaryOnly(h.DeleteBotCallback))
		r.RegisterState(state.StateAwaitingCloneToken, PrimaryOnly(h.CloneToken))
	}

	r.SetDefault(h.Chat)
	r.SetPhoto(h.Photo)
}
