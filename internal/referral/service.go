// Package referral links new users to the user who invited them.
package referral

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
)

// StartPrefix marks a referral code in a /start payload.
const StartPrefix = "ref_"

// Store is the persistence referrals need.
type Store interface {
	FindByReferralCode(ctx context.Context, code string) (*domain.User, error)
	ApplyReferral(ctx context.Context, telegramID, referrerID int64, bonus int) (bool, error)
}

// Invalidator drops cached profiles after credits change.
type Invalidator interface {
	Invalidate(ctx context.Context, telegramID int64)
}

// Service applies referral bonuses.
type Service struct {
	store       Store
	invalidator Invalidator
	bonus       int
	log         *slog.Logger
}

// NewService creates a referral service granting bonus points to both users.
func NewService(store Store, invalidator Invalidator, bonus int, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, invalidator: invalidator, bonus: bonus, log: log}
}

// Bonus returns the points each side receives.
func (s *Service) Bonus() int {
	return s.bonus
}

// CodeFromPayload extracts the referral code from a /start payload.
func CodeFromPayload(payload string) (string, bool) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, StartPrefix) {
		return "", false
	}
	code := strings.ToUpper(strings.TrimPrefix(payload, StartPrefix))
	if code == "" {
		return "", false
	}
	return code, true
}

// Link returns the deep link inviting others to botUsername with code.
func Link(botUsername, code string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s%s", strings.TrimPrefix(botUsername, "@"), StartPrefix, code)
}

// Apply credits user and the owner of code. It returns the referrer when the
// referral was applied, and nil when the code is unknown, belongs to user or
// user was already referred.
func (s *Service) Apply(ctx context.Context, user *domain.User, code string) (*domain.User, error) {
	if user == nil || user.ReferredBy != nil {
		return nil, nil
	}

	referrer, err := s.store.FindByReferralCode(ctx, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if referrer.TelegramID == user.TelegramID {
		return nil, nil
	}

	applied, err := s.store.ApplyReferral(ctx, user.TelegramID, referrer.TelegramID, s.bonus)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, nil
	}

	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, user.TelegramID)
		s.invalidator.Invalidate(ctx, referrer.TelegramID)
	}

	s.log.Info("referral applied",
		slog.Int64("telegram_id", user.TelegramID),
		slog.Int64("referrer_id", referrer.TelegramID),
	)
	return referrer, nil
}
