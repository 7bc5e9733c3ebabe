package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/clone"
	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	"github.com/Proton-105/gemini-clone-bot/internal/i18n"
)

// Sender delivers messages through one bot token.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// CloneLookup finds the live registration of an owner.
type CloneLookup interface {
	Get(ctx context.Context, ownerID int64) (*domain.CloneRegistration, error)
}

// LanguageLookup resolves a user's language.
type LanguageLookup interface {
	Get(ctx context.Context, telegramID int64) (*domain.User, error)
}

// Directory hands out send-only bots for the primary token and for clones,
// so code outside a running instance (jobs, the supervisor) can message users.
// It implements clone.Notifier.
type Directory struct {
	primaryToken string
	clones       CloneLookup
	users        LanguageLookup
	messages     *i18n.Manager
	client       *http.Client
	log          *slog.Logger

	mu      sync.Mutex
	primary *telebot.Bot
}

var _ clone.Notifier = (*Directory)(nil)

// NewDirectory creates a Directory. users may be nil, notifications then use the default language.
func NewDirectory(primaryToken string, clones CloneLookup, users LanguageLookup, messages *i18n.Manager, log *slog.Logger) *Directory {
	if log == nil {
		log = slog.Default()
	}
	client, _ := newHTTPClient(time.Minute)
	return &Directory{
		primaryToken: primaryToken,
		clones:       clones,
		users:        users,
		messages:     messages,
		client:       client,
		log:          log.With(slog.String("component", "bot_directory")),
	}
}

// Primary returns a sender for the primary bot.
func (d *Directory) Primary() (Sender, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.primary != nil {
		return d.primary, nil
	}
	b, err := d.offline(d.primaryToken)
	if err != nil {
		return nil, err
	}
	d.primary = b
	return b, nil
}

// Sender returns a sender for botID. ownerID is zero for the primary bot and
// the clone owner otherwise; a clone that is no longer live yields clone.ErrNotFound.
// Clone senders are built per call and not retained.
func (d *Directory) Sender(ctx context.Context, botID, ownerID int64) (Sender, error) {
	if ownerID == 0 {
		return d.Primary()
	}

	reg, err := d.clones.Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if reg.BotID != botID {
		return nil, fmt.Errorf("clone of owner %d is bot %d, not %d: %w", ownerID, reg.BotID, botID, clone.ErrNotFound)
	}
	return d.offline(reg.BotToken)
}

// NotifyRevoked tells the owner through the primary bot that their clone is gone.
func (d *Directory) NotifyRevoked(ctx context.Context, reg *domain.CloneRegistration, reason string) {
	lang := ""
	if d.users != nil {
		if owner, err := d.users.Get(ctx, reg.OwnerID); err == nil {
			lang = owner.Language
		}
	}
	t := d.messages.Translator(lang)

	text := t.Tf("clone.revoked_notice", map[string]any{
		"Username": reg.BotUsername,
		"Reason":   t.T("clone.reasons." + reason),
	})

	sender, err := d.Primary()
	if err == nil {
		_, err = sender.Send(&telebot.User{ID: reg.OwnerID}, text)
	}
	if err != nil {
		d.log.Warn("failed to notify owner about revocation",
			slog.Int64("owner_id", reg.OwnerID),
			slog.String("reason", reason),
			slog.Any("error", err),
		)
	}
}

func (d *Directory) offline(token string) (*telebot.Bot, error) {
	b, err := telebot.NewBot(telebot.Settings{
		Token:   token,
		Client:  d.client,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create sender: %w", err)
	}
	return b, nil
}
