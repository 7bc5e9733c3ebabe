package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
)

const cloneColumns = `id, owner_id, admin_id, bot_token, bot_id, bot_username, bot_name,
	status, revoke_reason, created_at, updated_at, revoked_at`

// CloneRepository persists clone registrations in PostgreSQL.
// Store failures are returned as StoreUnavailable app errors.
type CloneRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewCloneRepository creates a SQL-backed clone registration store.
func NewCloneRepository(db *sql.DB, log *slog.Logger) *CloneRepository {
	if log == nil {
		log = slog.Default()
	}
	return &CloneRepository{db: db, log: log}
}

// Create inserts reg and fills its id and timestamps. Concurrent inserts for the
// same owner or token are resolved by the partial unique indexes.
func (r *CloneRepository) Create(ctx context.Context, reg *domain.CloneRegistration) error {
	const query = `
		INSERT INTO clone_registrations (owner_id, admin_id, bot_token, bot_id, bot_username, bot_name, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		reg.OwnerID,
		reg.AdminID,
		reg.BotToken,
		reg.BotID,
		reg.BotUsername,
		reg.BotName,
		reg.Status,
	).Scan(&reg.ID, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		if index, ok := uniqueConstraint(err); ok {
			switch index {
			case cloneLiveOwnerIndex:
				return apperrors.NewDuplicateOwnerError(reg.OwnerID)
			case cloneLiveTokenIndex:
				return apperrors.NewDuplicateTokenError()
			}
		}

		r.log.Error("failed to insert clone registration", slog.Int64("owner_id", reg.OwnerID), slog.Any("error", err))
		return apperrors.NewDatabaseError(fmt.Errorf("insert clone registration: %w", err))
	}

	return nil
}

// FindLiveByOwner returns the owner's non-revoked registration or sql.ErrNoRows.
func (r *CloneRepository) FindLiveByOwner(ctx context.Context, ownerID int64) (*domain.CloneRegistration, error) {
	query := `SELECT ` + cloneColumns + ` FROM clone_registrations WHERE owner_id = $1 AND status <> 'revoked'`
	return r.findOne(ctx, query, ownerID)
}

// FindLiveByToken returns the non-revoked registration holding token or sql.ErrNoRows.
func (r *CloneRepository) FindLiveByToken(ctx context.Context, token string) (*domain.CloneRegistration, error) {
	query := `SELECT ` + cloneColumns + ` FROM clone_registrations WHERE bot_token = $1 AND status <> 'revoked'`
	return r.findOne(ctx, query, token)
}

// FindLatestByOwner returns the owner's most recent registration in any status.
func (r *CloneRepository) FindLatestByOwner(ctx context.Context, ownerID int64) (*domain.CloneRegistration, error) {
	query := `SELECT ` + cloneColumns + ` FROM clone_registrations WHERE owner_id = $1 ORDER BY id DESC LIMIT 1`
	return r.findOne(ctx, query, ownerID)
}

// UpdateStatus moves a non-revoked registration to status. It reports false when
// the row is missing or already revoked, so revoked stays terminal under races.
func (r *CloneRepository) UpdateStatus(ctx context.Context, id int64, status domain.CloneStatus, reason string) (bool, error) {
	const query = `
		UPDATE clone_registrations
		SET status = $2,
			revoke_reason = $3,
			updated_at = NOW(),
			revoked_at = CASE WHEN $2 = 'revoked' THEN NOW() ELSE revoked_at END
		WHERE id = $1 AND status <> 'revoked'
	`

	res, err := r.db.ExecContext(ctx, query, id, status, reason)
	if err != nil {
		r.log.Error("failed to update clone status", slog.Int64("id", id), slog.String("status", string(status)), slog.Any("error", err))
		return false, apperrors.NewDatabaseError(fmt.Errorf("update clone status: %w", err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError(fmt.Errorf("rows affected: %w", err))
	}

	return affected > 0, nil
}

// ListByStatus returns up to limit registrations with id greater than afterID, ordered by id.
func (r *CloneRepository) ListByStatus(ctx context.Context, status domain.CloneStatus, afterID int64, limit int) ([]*domain.CloneRegistration, error) {
	query := `SELECT ` + cloneColumns + `
		FROM clone_registrations
		WHERE status = $1 AND id > $2
		ORDER BY id
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, status, afterID, limit)
	if err != nil {
		r.log.Error("failed to list clone registrations", slog.String("status", string(status)), slog.Any("error", err))
		return nil, apperrors.NewDatabaseError(fmt.Errorf("list clone registrations: %w", err))
	}
	defer rows.Close()

	var result []*domain.CloneRegistration
	for rows.Next() {
		reg, err := scanClone(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError(fmt.Errorf("scan clone registration: %w", err))
		}
		result = append(result, reg)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("iterate clone registrations: %w", err))
	}

	return result, nil
}

// CountByStatus counts registrations per status.
func (r *CloneRepository) CountByStatus(ctx context.Context) (map[domain.CloneStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM clone_registrations GROUP BY status`)
	if err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("count clone registrations: %w", err))
	}
	defer rows.Close()

	counts := make(map[domain.CloneStatus]int64, 3)
	for rows.Next() {
		var (
			status domain.CloneStatus
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperrors.NewDatabaseError(fmt.Errorf("scan clone count: %w", err))
		}
		counts[status] = count
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	return counts, nil
}

// ExpirePending revokes pending registrations created before olderThan. These are
// leftovers of a process that died between register and start.
func (r *CloneRepository) ExpirePending(ctx context.Context, olderThan time.Time) (int64, error) {
	const query = `
		UPDATE clone_registrations
		SET status = 'revoked', revoke_reason = $2, updated_at = NOW(), revoked_at = NOW()
		WHERE status = 'pending' AND created_at < $1
	`

	res, err := r.db.ExecContext(ctx, query, olderThan, domain.RevokeReasonAbandoned)
	if err != nil {
		return 0, apperrors.NewDatabaseError(fmt.Errorf("expire pending clones: %w", err))
	}

	return res.RowsAffected()
}

func (r *CloneRepository) findOne(ctx context.Context, query string, arg any) (*domain.CloneRegistration, error) {
	reg, err := scanClone(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}

		r.log.Error("failed to fetch clone registration", slog.Any("error", err))
		return nil, apperrors.NewDatabaseError(fmt.Errorf("select clone registration: %w", err))
	}
	return reg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClone(row rowScanner) (*domain.CloneRegistration, error) {
	var (
		reg       domain.CloneRegistration
		revokedAt sql.NullTime
	)

	if err := row.Scan(
		&reg.ID,
		&reg.OwnerID,
		&reg.AdminID,
		&reg.BotToken,
		&reg.BotID,
		&reg.BotUsername,
		&reg.BotName,
		&reg.Status,
		&reg.RevokeReason,
		&reg.CreatedAt,
		&reg.UpdatedAt,
		&revokedAt,
	); err != nil {
		return nil, err
	}

	if revokedAt.Valid {
		t := revokedAt.Time
		reg.RevokedAt = &t
	}

	return &reg, nil
}
