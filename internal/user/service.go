// Package user provides business operations over user accounts.
package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	"github.com/Proton-105/gemini-clone-bot/internal/repository"
	"github.com/Proton-105/gemini-clone-bot/internal/usercache"
)

// ErrNotFound is returned when no account exists for a Telegram id.
var ErrNotFound = errors.New("user not found")

// Service provides business operations over users.
type Service struct {
	repo            repository.UserRepository
	cache           *usercache.Cache
	defaultLanguage string
	dailyPoints     int
	log             *slog.Logger
	now             func() time.Time
}

// NewService constructs a new Service instance. cache may be nil.
func NewService(repo repository.UserRepository, cache *usercache.Cache, defaultLanguage string, dailyPoints int, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if defaultLanguage == "" {
		defaultLanguage = domain.LanguageIndonesian
	}
	return &Service{
		repo:            repo,
		cache:           cache,
		defaultLanguage: defaultLanguage,
		dailyPoints:     dailyPoints,
		log:             log,
		now:             time.Now,
	}
}

// GetOrCreate upserts the sender's profile and reports whether the account is new.
func (s *Service) GetOrCreate(ctx context.Context, sender *telebot.User) (*domain.User, bool, error) {
	if sender == nil {
		return nil, false, errors.New("telegram user is nil")
	}

	user := &domain.User{
		TelegramID:  sender.ID,
		FirstName:   sender.FirstName,
		LastName:    sender.LastName,
		Username:    sender.Username,
		Language:    s.languageFor(sender.LanguageCode),
		DailyPoints: s.dailyPoints,
	}

	created, err := s.repo.Upsert(ctx, user)
	if err != nil {
		s.logError("get_or_create", sender.ID, err)
		return nil, false, fmt.Errorf("upsert user: %w", err)
	}

	s.cacheSet(ctx, user)
	return user, created, nil
}

// Get returns the account, served from cache when possible.
func (s *Service) Get(ctx context.Context, telegramID int64) (*domain.User, error) {
	user, err := s.cache.Load(ctx, telegramID, func(ctx context.Context) (*domain.User, error) {
		return s.repo.FindByTelegramID(ctx, telegramID)
	}, func(err error) {
		s.log.Warn("user cache failed", slog.Int64("telegram_id", telegramID), slog.Any("error", err))
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		s.logError("get", telegramID, err)
		return nil, err
	}
	return user, nil
}

// Fresh reads the account from the store, bypassing the cache.
func (s *Service) Fresh(ctx context.Context, telegramID int64) (*domain.User, error) {
	s.invalidate(ctx, telegramID)
	return s.Get(ctx, telegramID)
}

// IsAdmin reports whether the account carries the primary bot admin flag.
func (s *Service) IsAdmin(ctx context.Context, telegramID int64) (bool, error) {
	user, err := s.Get(ctx, telegramID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.IsAdmin, nil
}

// IsBanned reports whether the account is banned. Unknown users are not banned.
func (s *Service) IsBanned(ctx context.Context, telegramID int64) (bool, error) {
	user, err := s.Get(ctx, telegramID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return user.IsBanned, nil
}

// SetLanguage stores the preferred interface language.
func (s *Service) SetLanguage(ctx context.Context, telegramID int64, language string) error {
	if language != domain.LanguageEnglish && language != domain.LanguageIndonesian {
		return fmt.Errorf("unsupported language %q", language)
	}
	defer s.invalidate(ctx, telegramID)

	if err := s.repo.UpdateLanguage(ctx, telegramID, language); err != nil {
		s.logError("set_language", telegramID, err)
		return err
	}
	return nil
}

// SetBanned bans or unbans a user. It returns ErrNotFound for unknown ids.
func (s *Service) SetBanned(ctx context.Context, telegramID int64, banned bool) error {
	defer s.invalidate(ctx, telegramID)

	ok, err := s.repo.SetBanned(ctx, telegramID, banned)
	if err != nil {
		s.logError("set_banned", telegramID, err)
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// SetAdmin grants or removes the primary bot admin flag.
func (s *Service) SetAdmin(ctx context.Context, telegramID int64, admin bool) error {
	defer s.invalidate(ctx, telegramID)

	ok, err := s.repo.SetAdmin(ctx, telegramID, admin)
	if err != nil {
		s.logError("set_admin", telegramID, err)
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// UpdateLastActive refreshes last_active for the user.
func (s *Service) UpdateLastActive(ctx context.Context, telegramID int64) error {
	if err := s.repo.TouchLastActive(ctx, telegramID, s.now().UTC()); err != nil {
		s.logError("update_last_active", telegramID, err)
		return err
	}
	return nil
}

// RecordUsage adds to the lifetime message and image counters.
func (s *Service) RecordUsage(ctx context.Context, telegramID int64, messages, images int) error {
	defer s.invalidate(ctx, telegramID)

	if err := s.repo.IncrementUsage(ctx, telegramID, messages, images); err != nil {
		s.logError("record_usage", telegramID, err)
		return err
	}
	return nil
}

// Page is one page of a user listing.
type Page struct {
	Users []*domain.User
	Total int64
	Page  int
	Pages int
}

// List returns page (1-based) of users matching search.
func (s *Service) List(ctx context.Context, search string, page, perPage int) (*Page, error) {
	if perPage <= 0 {
		perPage = 10
	}
	if page < 1 {
		page = 1
	}

	filter := repository.UserFilter{Search: search}
	total, err := s.repo.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	pages := int((total + int64(perPage) - 1) / int64(perPage))
	if pages == 0 {
		pages = 1
	}
	if page > pages {
		page = pages
	}

	filter.Limit = uint64(perPage)
	filter.Offset = uint64((page - 1) * perPage)
	users, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &Page{Users: users, Total: total, Page: page, Pages: pages}, nil
}

// Admins lists every user carrying the admin flag.
func (s *Service) Admins(ctx context.Context) ([]*domain.User, error) {
	admin := true
	return s.repo.List(ctx, repository.UserFilter{Admin: &admin})
}

// Summary holds the user counters shown by /stats.
type Summary struct {
	Total       int64
	Banned      int64
	ActiveToday int64
}

// Summary counts users, banned users and users active since since.
func (s *Service) Summary(ctx context.Context, since time.Time) (*Summary, error) {
	total, err := s.repo.Count(ctx, repository.UserFilter{})
	if err != nil {
		return nil, err
	}
	banned := true
	bannedCount, err := s.repo.Count(ctx, repository.UserFilter{Banned: &banned})
	if err != nil {
		return nil, err
	}
	active, err := s.repo.CountActiveSince(ctx, since)
	if err != nil {
		return nil, err
	}
	return &Summary{Total: total, Banned: bannedCount, ActiveToday: active}, nil
}

// Invalidate drops any cached copy of the account. Callers that change points use it.
func (s *Service) Invalidate(ctx context.Context, telegramID int64) {
	s.invalidate(ctx, telegramID)
}

func (s *Service) languageFor(code string) string {
	switch code {
	case domain.LanguageEnglish, domain.LanguageIndonesian:
		return code
	}
	if len(code) >= 2 {
		switch code[:2] {
		case domain.LanguageEnglish, domain.LanguageIndonesian:
			return code[:2]
		}
	}
	return s.defaultLanguage
}

func (s *Service) cacheSet(ctx context.Context, user *domain.User) {
	if err := s.cache.Set(ctx, user); err != nil {
		s.log.Warn("user cache write failed", slog.Int64("telegram_id", user.TelegramID), slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context, telegramID int64) {
	if err := s.cache.Invalidate(ctx, telegramID); err != nil {
		s.log.Warn("user cache invalidate failed", slog.Int64("telegram_id", telegramID), slog.Any("error", err))
	}
}

func (s *Service) logError(operation string, telegramID int64, err error) {
	if s == nil || s.log == nil || err == nil {
		return
	}

	s.log.Error("user service operation failed",
		slog.String("operation", operation),
		slog.Int64("telegram_id", telegramID),
		slog.Any("error", err),
	)
}
