// Package clone manages clone bot registrations and their running listeners.
package clone

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
	"github.com/Proton-105/gemini-clone-bot/pkg/metrics"
)

const defaultPageSize = 100

var (
	// ErrNotFound is returned when the owner has no live registration.
	ErrNotFound = errors.New("clone registration not found")
	// ErrRegistrationRevoked is returned when a status change targets a revoked registration.
	ErrRegistrationRevoked = errors.New("clone registration is revoked")
)

// Store persists registrations. Lookups return sql.ErrNoRows when nothing matches.
// Create must reject a second live registration per owner or per token with
// DuplicateOwner / DuplicateToken app errors.
type Store interface {
	Create(ctx context.Context, reg *domain.CloneRegistration) error
	FindLiveByOwner(ctx context.Context, ownerID int64) (*domain.CloneRegistration, error)
	FindLiveByToken(ctx context.Context, token string) (*domain.CloneRegistration, error)
	FindLatestByOwner(ctx context.Context, ownerID int64) (*domain.CloneRegistration, error)
	UpdateStatus(ctx context.Context, id int64, status domain.CloneStatus, reason string) (bool, error)
	ListByStatus(ctx context.Context, status domain.CloneStatus, afterID int64, limit int) ([]*domain.CloneRegistration, error)
	CountByStatus(ctx context.Context) (map[domain.CloneStatus]int64, error)
	ExpirePending(ctx context.Context, olderThan time.Time) (int64, error)
}

// TokenProber checks a token against the messaging platform. A rejected token
// yields an error matching apperrors.ErrTransportAuth.
type TokenProber interface {
	Probe(ctx context.Context, token string) (*domain.BotIdentity, error)
}

// Locker serializes registration attempts of one owner across processes.
// A lock held elsewhere yields an error matching apperrors.ErrBusy.
type Locker interface {
	Acquire(ctx context.Context, ownerID int64) (func(), error)
}

// Stopper stops the running listener of an owner. then runs once the listener
// is gone (or the stop timed out) while starts for that owner are still excluded.
type Stopper interface {
	StopThen(ctx context.Context, ownerID int64, then func(context.Context) error) error
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithLocker adds a cross-process owner lock around Register.
func WithLocker(l Locker) RegistryOption {
	return func(r *Registry) {
		r.locker = l
	}
}

// WithPageSize sets the page size used by ListActive.
func WithPageSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// Registry tracks which users own which clone tokens.
type Registry struct {
	store    Store
	prober   TokenProber
	locker   Locker
	stopper  Stopper
	log      *slog.Logger
	pageSize int
	now      func() time.Time
}

// NewRegistry creates a Registry backed by store and prober.
func NewRegistry(store Store, prober TokenProber, log *slog.Logger, opts ...RegistryOption) *Registry {
	if log == nil {
		log = slog.Default()
	}

	r := &Registry{
		store:    store,
		prober:   prober,
		log:      log.With(slog.String("component", "clone_registry")),
		pageSize: defaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AttachStopper wires the component that owns running listeners. Revoke stops through it.
func (r *Registry) AttachStopper(s Stopper) {
	r.stopper = s
}

// Register validates token for ownerID and stores a pending registration.
// adminID defaults to the owner when zero.
func (r *Registry) Register(ctx context.Context, ownerID, adminID int64, token string) (*domain.CloneRegistration, error) {
	token = strings.TrimSpace(token)
	if !domain.ValidBotTokenFormat(token) {
		return nil, apperrors.NewInvalidTokenError(errors.New("malformed token"))
	}
	if adminID == 0 {
		adminID = ownerID
	}

	log := r.log.With(slog.Int64("owner_id", ownerID), slog.String("token", domain.MaskToken(token)))

	if r.locker != nil {
		release, err := r.locker.Acquire(ctx, ownerID)
		switch {
		case err == nil:
			defer release()
		case errors.Is(err, apperrors.ErrBusy):
			return nil, err
		default:
			// The unique indexes still guard correctness without the lock.
			log.Warn("owner lock unavailable", slog.Any("error", err))
		}
	}

	existing, err := r.store.FindLiveByOwner(ctx, ownerID)
	switch {
	case err == nil:
		log.Info("register rejected: owner already has a clone", slog.Int64("clone_id", existing.ID))
		return nil, apperrors.NewDuplicateOwnerError(ownerID)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	holder, err := r.store.FindLiveByToken(ctx, token)
	switch {
	case err == nil:
		if holder.OwnerID == ownerID {
			return nil, apperrors.NewDuplicateOwnerError(ownerID)
		}
		log.Info("register rejected: token held by another owner")
		return nil, apperrors.NewDuplicateTokenError()
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	identity, err := r.prober.Probe(ctx, token)
	if err != nil {
		if errors.Is(err, apperrors.ErrTransportAuth) {
			log.Info("register rejected: token failed liveness probe")
			return nil, apperrors.NewInvalidTokenError(err)
		}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.NewTransientTransportError(err)
	}

	reg := &domain.CloneRegistration{
		OwnerID:     ownerID,
		AdminID:     adminID,
		BotToken:    token,
		BotID:       identity.ID,
		BotUsername: identity.Username,
		BotName:     identity.FirstName,
		Status:      domain.CloneStatusPending,
	}
	if err := r.store.Create(ctx, reg); err != nil {
		return nil, err
	}

	log.Info("clone registered", slog.Int64("clone_id", reg.ID), slog.String("bot_username", reg.BotUsername))
	return reg, nil
}

// Revoke stops the owner's listener and marks the registration revoked.
// Revoking an absent or already revoked registration is a no-op.
func (r *Registry) Revoke(ctx context.Context, ownerID int64, reason string) error {
	reg, err := r.store.FindLiveByOwner(ctx, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}

	commit := func(ctx context.Context) error {
		_, err := r.MarkRevoked(ctx, reg, reason)
		return err
	}

	if r.stopper == nil {
		return commit(ctx)
	}

	err = r.stopper.StopThen(ctx, ownerID, commit)
	if errors.Is(err, ErrStopTimeout) {
		r.log.Warn("listener did not stop in time, registration revoked anyway", slog.Int64("owner_id", ownerID))
		return nil
	}
	return err
}

// ListActive lazily pages through active registrations ordered by id.
// Every range over the returned sequence reads the store again.
func (r *Registry) ListActive(ctx context.Context) iter.Seq2[*domain.CloneRegistration, error] {
	return func(yield func(*domain.CloneRegistration, error) bool) {
		var afterID int64
		for {
			page, err := r.store.ListByStatus(ctx, domain.CloneStatusActive, afterID, r.pageSize)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, reg := range page {
				if !yield(reg, nil) {
					return
				}
				afterID = reg.ID
			}

			if len(page) < r.pageSize {
				return
			}
		}
	}
}

// Get returns the owner's live registration or ErrNotFound.
func (r *Registry) Get(ctx context.Context, ownerID int64) (*domain.CloneRegistration, error) {
	reg, err := r.store.FindLiveByOwner(ctx, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reg, err
}

// Latest returns the owner's most recent registration in any status or ErrNotFound.
func (r *Registry) Latest(ctx context.Context, ownerID int64) (*domain.CloneRegistration, error) {
	reg, err := r.store.FindLatestByOwner(ctx, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reg, err
}

// MarkActive records that the listener of reg authenticated and runs.
func (r *Registry) MarkActive(ctx context.Context, reg *domain.CloneRegistration) error {
	updated, err := r.store.UpdateStatus(ctx, reg.ID, domain.CloneStatusActive, "")
	if err != nil {
		return err
	}
	if !updated {
		return ErrRegistrationRevoked
	}

	reg.Status = domain.CloneStatusActive
	return nil
}

// MarkRevoked moves reg to revoked. It reports false if reg was already revoked.
func (r *Registry) MarkRevoked(ctx context.Context, reg *domain.CloneRegistration, reason string) (bool, error) {
	updated, err := r.store.UpdateStatus(ctx, reg.ID, domain.CloneStatusRevoked, reason)
	if err != nil {
		return false, err
	}
	if !updated {
		return false, nil
	}

	now := r.now()
	reg.Status = domain.CloneStatusRevoked
	reg.RevokeReason = reason
	reg.RevokedAt = &now

	metrics.RecordCloneRevocation(reason)
	r.log.Info("clone revoked",
		slog.Int64("owner_id", reg.OwnerID),
		slog.Int64("clone_id", reg.ID),
		slog.String("reason", reason),
	)
	return true, nil
}

// ExpirePending revokes pending registrations older than ttl.
func (r *Registry) ExpirePending(ctx context.Context, ttl time.Duration) (int64, error) {
	n, err := r.store.ExpirePending(ctx, r.now().Add(-ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Info("expired abandoned pending registrations", slog.Int64("count", n))
	}
	return n, nil
}

// Stats counts registrations per status.
func (r *Registry) Stats(ctx context.Context) (domain.CloneStats, error) {
	counts, err := r.store.CountByStatus(ctx)
	if err != nil {
		return domain.CloneStats{}, err
	}

	return domain.CloneStats{
		Pending: counts[domain.CloneStatusPending],
		Active:  counts[domain.CloneStatusActive],
		Revoked: counts[domain.CloneStatusRevoked],
	}, nil
}
