package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
)

// BotStatsRepository tracks which users talk to which bot and per-bot usage counters.
type BotStatsRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewBotStatsRepository creates a SQL-backed bot membership store.
func NewBotStatsRepository(db *sql.DB, log *slog.Logger) *BotStatsRepository {
	if log == nil {
		log = slog.Default()
	}
	return &BotStatsRepository{db: db, log: log}
}

// AddMember records that userID used botID. It reports whether this is the first contact.
func (r *BotStatsRepository) AddMember(ctx context.Context, botID, userID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO bot_users (bot_id, user_id) VALUES ($1, $2)
		ON CONFLICT (bot_id, user_id) DO NOTHING`, botID, userID)
	if err != nil {
		return false, apperrors.NewDatabaseError(fmt.Errorf("insert bot member: %w", err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError(err)
	}
	return affected > 0, nil
}

// ListMembers pages through the non-banned members of botID with user id greater than afterUserID.
func (r *BotStatsRepository) ListMembers(ctx context.Context, botID, afterUserID int64, limit uint64) ([]int64, error) {
	query, args, err := psql.Select("bu.user_id").
		From("bot_users bu").
		Join("users u ON u.telegram_id = bu.user_id").
		Where(squirrel.Eq{"bu.bot_id": botID, "u.is_banned": false}).
		Where(squirrel.Gt{"bu.user_id": afterUserID}).
		OrderBy("bu.user_id").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build member query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("list bot members: %w", err))
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewDatabaseError(fmt.Errorf("scan bot member: %w", err))
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	return ids, nil
}

// Increment adds to the message and image counters of botID.
func (r *BotStatsRepository) Increment(ctx context.Context, botID int64, messages, images int) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bot_stats (bot_id, messages, images, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (bot_id) DO UPDATE SET
			messages = bot_stats.messages + EXCLUDED.messages,
			images = bot_stats.images + EXCLUDED.images,
			updated_at = NOW()`, botID, messages, images)
	if err != nil {
		r.log.Warn("failed to increment bot stats", slog.Int64("bot_id", botID), slog.Any("error", err))
		return apperrors.NewDatabaseError(fmt.Errorf("increment bot stats: %w", err))
	}
	return nil
}

// Stats aggregates membership and counters of botID. Today starts at since.
func (r *BotStatsRepository) Stats(ctx context.Context, botID int64, since time.Time) (*domain.BotStats, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE u.is_banned),
			COUNT(*) FILTER (WHERE u.last_active >= $2),
			COALESCE((SELECT messages FROM bot_stats WHERE bot_id = $1), 0),
			COALESCE((SELECT images FROM bot_stats WHERE bot_id = $1), 0)
		FROM bot_users bu
		JOIN users u ON u.telegram_id = bu.user_id
		WHERE bu.bot_id = $1
	`

	stats := domain.BotStats{BotID: botID}
	err := r.db.QueryRowContext(ctx, query, botID, since).Scan(
		&stats.Users,
		&stats.BannedUsers,
		&stats.ActiveToday,
		&stats.Messages,
		&stats.Images,
	)
	if err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("bot stats: %w", err))
	}
	return &stats, nil
}
