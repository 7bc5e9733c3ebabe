// Package points implements the image credit ledger: daily refills, referral
// credits and spend-with-refund.
package points

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
	"github.com/Proton-105/gemini-clone-bot/pkg/config"
	"github.com/Proton-105/gemini-clone-bot/pkg/metrics"
)

// MaxGrant bounds a single admin grant.
const MaxGrant = 100

// Store is the persistence the ledger needs.
type Store interface {
	ConsumePoint(ctx context.Context, telegramID int64, now time.Time, loc *time.Location, daily int) (*domain.User, string, error)
	RefundPoint(ctx context.Context, telegramID int64, source string) error
	AddPoints(ctx context.Context, telegramID int64, source string, amount int) (*domain.User, error)
	ResetPoints(ctx context.Context, telegramID int64, daily int, now time.Time) (*domain.User, error)
	ResetAllDaily(ctx context.Context, daily int, now time.Time) (int64, error)
}

// Invalidator drops cached profiles after balance changes.
type Invalidator interface {
	Invalidate(ctx context.Context, telegramID int64)
}

// Service spends and credits points.
type Service struct {
	store       Store
	invalidator Invalidator
	daily       int
	loc         *time.Location
	log         *slog.Logger
	now         func() time.Time
}

// NewService creates a ledger. invalidator may be nil.
func NewService(store Store, invalidator Invalidator, cfg config.PointsConfig, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:       store,
		invalidator: invalidator,
		daily:       cfg.Daily,
		loc:         cfg.Location(),
		log:         log,
		now:         time.Now,
	}
}

// Spend takes one point, runs fn and refunds the point when fn fails.
// Without points it returns ErrInsufficientPoints and fn is not called.
func (s *Service) Spend(ctx context.Context, telegramID int64, fn func(ctx context.Context) error) error {
	_, source, err := s.store.ConsumePoint(ctx, telegramID, s.now(), s.loc, s.daily)
	s.invalidate(ctx, telegramID)
	if err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		// Refund on a fresh context so a cancelled request still gets its point back.
		refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if refundErr := s.store.RefundPoint(refundCtx, telegramID, source); refundErr != nil {
			s.log.Error("failed to refund point",
				slog.Int64("telegram_id", telegramID),
				slog.String("source", source),
				slog.Any("error", refundErr),
			)
		}
		s.invalidate(ctx, telegramID)
		return err
	}

	metrics.RecordPointSpent(source)
	return nil
}

// Grant credits amount points to the daily or referral bucket.
func (s *Service) Grant(ctx context.Context, telegramID int64, amount int, source string) (*domain.User, error) {
	if amount < 1 || amount > MaxGrant {
		return nil, apperrors.NewValidationError(fmt.Sprintf("amount must be between 1 and %d", MaxGrant))
	}
	if source == "" {
		source = domain.PointSourceDaily
	}
	if source != domain.PointSourceDaily && source != domain.PointSourceReferral {
		return nil, apperrors.NewValidationError("source must be daily or referral")
	}

	defer s.invalidate(ctx, telegramID)
	return s.store.AddPoints(ctx, telegramID, source, amount)
}

// Reset restores the default daily allowance and clears referral points.
func (s *Service) Reset(ctx context.Context, telegramID int64) (*domain.User, error) {
	defer s.invalidate(ctx, telegramID)
	return s.store.ResetPoints(ctx, telegramID, s.daily, s.now())
}

// ResetAllDaily refills every account that was not reset since today's midnight.
func (s *Service) ResetAllDaily(ctx context.Context) (int64, error) {
	return s.store.ResetAllDaily(ctx, s.daily, domain.StartOfDay(s.now(), s.loc))
}

// Balance applies a pending daily reset to a copy of user for display.
func (s *Service) Balance(user *domain.User) *domain.User {
	view := *user
	view.ApplyDailyReset(s.now(), s.loc, s.daily)
	return &view
}

// NextReset returns the next midnight in the ledger timezone.
func (s *Service) NextReset() time.Time {
	return domain.StartOfDay(s.now(), s.loc).AddDate(0, 0, 1)
}

func (s *Service) invalidate(ctx context.Context, telegramID int64) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, telegramID)
	}
}
