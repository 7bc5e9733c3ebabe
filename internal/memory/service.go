// Package memory keeps per-bot conversation history used as chat context.
package memory

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
)

// maxStoredRunes truncates very long turns before they are stored.
const maxStoredRunes = 4000

// Store is the conversation persistence.
type Store interface {
	Append(ctx context.Context, messages ...*domain.ConversationMessage) error
	Recent(ctx context.Context, userID, botID int64, limit int) ([]*domain.ConversationMessage, error)
	Clear(ctx context.Context, userID, botID int64) (int64, error)
	Stats(ctx context.Context, userID, botID int64) (*domain.MemoryStats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service reads and writes conversation history.
type Service struct {
	store Store
	limit int
	log   *slog.Logger
	now   func() time.Time
}

// NewService creates a memory service returning at most limit records of history.
func NewService(store Store, limit int, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if limit <= 0 {
		limit = 10
	}
	return &Service{store: store, limit: limit, log: log, now: time.Now}
}

// History returns the most recent exchanges of userID on botID, oldest first.
func (s *Service) History(ctx context.Context, userID, botID int64) ([]*domain.ConversationMessage, error) {
	return s.store.Recent(ctx, userID, botID, s.limit)
}

// Limit is the number of records sent to the model as history.
func (s *Service) Limit() int {
	return s.limit
}

// Remember stores a user turn and the model's reply as one exchange.
// A failure is logged and not returned: the reply was already delivered.
func (s *Service) Remember(ctx context.Context, userID, botID int64, kind, prompt, reply string) {
	now := s.now().UTC()
	err := s.store.Append(ctx,
		&domain.ConversationMessage{UserID: userID, BotID: botID, Role: domain.RoleUser, Kind: kind, Text: truncate(prompt), CreatedAt: now},
		&domain.ConversationMessage{UserID: userID, BotID: botID, Role: domain.RoleModel, Kind: kind, Text: truncate(reply), CreatedAt: now},
	)
	if err != nil {
		s.log.Warn("failed to store conversation",
			slog.Int64("user_id", userID),
			slog.Int64("bot_id", botID),
			slog.Any("error", err),
		)
	}
}

// Clear forgets the history of userID on botID.
func (s *Service) Clear(ctx context.Context, userID, botID int64) (int64, error) {
	return s.store.Clear(ctx, userID, botID)
}

// Stats summarizes the stored history.
func (s *Service) Stats(ctx context.Context, userID, botID int64) (*domain.MemoryStats, error) {
	return s.store.Stats(ctx, userID, botID)
}

// Prune deletes history older than retention across all bots.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return s.store.DeleteOlderThan(ctx, s.now().Add(-retention))
}

func truncate(text string) string {
	if utf8.RuneCountInString(text) <= maxStoredRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxStoredRunes])
}
