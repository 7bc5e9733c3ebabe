package clone

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
)

// Service is the entry point used by handlers: create registers and starts,
// delete stops and revokes.
type Service struct {
	registry   *Registry
	supervisor *Supervisor
	log        *slog.Logger
	pendingTTL time.Duration
}

// NewService wires registry and supervisor together.
func NewService(registry *Registry, supervisor *Supervisor, log *slog.Logger, pendingTTL time.Duration) *Service {
	if log == nil {
		log = slog.Default()
	}
	registry.AttachStopper(supervisor)

	return &Service{
		registry:   registry,
		supervisor: supervisor,
		log:        log.With(slog.String("component", "clone_service")),
		pendingTTL: pendingTTL,
	}
}

// Create registers token for ownerID and starts its listener. On success the
// registration is active. adminID defaults to the owner when zero.
func (s *Service) Create(ctx context.Context, ownerID, adminID int64, token string) (*domain.CloneRegistration, error) {
	reg, err := s.registry.Register(ctx, ownerID, adminID, token)
	if err != nil {
		return nil, err
	}

	if err := s.supervisor.Start(ctx, reg); err != nil {
		if errors.Is(err, apperrors.ErrTransportAuth) {
			// Start already revoked the registration.
			return nil, apperrors.NewInvalidTokenError(err)
		}

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), revokeWriteTimeout)
		defer cancel()
		if _, revokeErr := s.registry.MarkRevoked(writeCtx, reg, domain.RevokeReasonStartFailed); revokeErr != nil {
			s.log.Error("failed to revoke clone after start failure",
				slog.Int64("owner_id", ownerID),
				slog.Any("error", revokeErr),
			)
		}
		return nil, err
	}

	return reg, nil
}

// Delete stops and revokes the owner's clone. It returns ErrNotFound when the owner has none.
func (s *Service) Delete(ctx context.Context, ownerID int64) error {
	return s.revoke(ctx, ownerID, domain.RevokeReasonOwnerDeleted)
}

// RevokeByAdmin stops and revokes the clone of ownerID on behalf of an administrator.
func (s *Service) RevokeByAdmin(ctx context.Context, ownerID int64) error {
	return s.revoke(ctx, ownerID, domain.RevokeReasonAdminRevoked)
}

func (s *Service) revoke(ctx context.Context, ownerID int64, reason string) error {
	if _, err := s.registry.Get(ctx, ownerID); err != nil {
		return err
	}
	return s.registry.Revoke(ctx, ownerID, reason)
}

// Get returns the owner's live registration or ErrNotFound.
func (s *Service) Get(ctx context.Context, ownerID int64) (*domain.CloneRegistration, error) {
	return s.registry.Get(ctx, ownerID)
}

// Latest returns the owner's most recent registration, revoked ones included.
func (s *Service) Latest(ctx context.Context, ownerID int64) (*domain.CloneRegistration, error) {
	return s.registry.Latest(ctx, ownerID)
}

// IsRunning reports whether the owner's listener runs in this process.
func (s *Service) IsRunning(ownerID int64) bool {
	return s.supervisor.IsRunning(ownerID)
}

// Restore expires abandoned pending registrations and starts every active one.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if _, err := s.registry.ExpirePending(ctx, s.pendingTTL); err != nil {
		s.log.Warn("failed to expire pending registrations", slog.Any("error", err))
	}

	started, err := s.supervisor.Restore(ctx, s.registry.ListActive(ctx))
	s.log.Info("clones restored", slog.Int("started", started))
	return started, err
}

// Stats combines stored counts with the number of running listeners.
func (s *Service) Stats(ctx context.Context) (domain.CloneStats, error) {
	stats, err := s.registry.Stats(ctx)
	if err != nil {
		return stats, err
	}
	stats.Running = s.supervisor.Running()
	return stats, nil
}

// Running lists running listeners.
func (s *Service) Running() []TaskInfo {
	return s.supervisor.Snapshot()
}

// Shutdown stops every clone listener.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.supervisor.Shutdown(ctx)
}
