package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
)

// ConversationRepository stores the append-only chat history per user and bot.
type ConversationRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewConversationRepository creates a SQL-backed conversation store.
func NewConversationRepository(db *sql.DB, log *slog.Logger) *ConversationRepository {
	if log == nil {
		log = slog.Default()
	}
	return &ConversationRepository{db: db, log: log}
}

// Append stores messages in order within one transaction.
func (r *ConversationRepository) Append(ctx context.Context, messages ...*domain.ConversationMessage) error {
	if len(messages) == 0 {
		return nil
	}

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO conversations (user_id, bot_id, role, kind, text, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, msg := range messages {
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = time.Now().UTC()
			}
			if err := stmt.QueryRowContext(ctx, msg.UserID, msg.BotID, msg.Role, msg.Kind, msg.Text, msg.CreatedAt).Scan(&msg.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.log.Error("failed to append conversation", slog.Int64("user_id", messages[0].UserID), slog.Any("error", err))
		return apperrors.NewDatabaseError(fmt.Errorf("append conversation: %w", err))
	}

	return nil
}

// Recent returns the last limit messages of the user on the bot, oldest first.
func (r *ConversationRepository) Recent(ctx context.Context, userID, botID int64, limit int) ([]*domain.ConversationMessage, error) {
	const query = `
		SELECT id, user_id, bot_id, role, kind, text, created_at FROM (
			SELECT id, user_id, bot_id, role, kind, text, created_at
			FROM conversations
			WHERE user_id = $1 AND bot_id = $2
			ORDER BY id DESC
			LIMIT $3
		) recent
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, userID, botID, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("select conversation: %w", err))
	}
	defer rows.Close()

	var messages []*domain.ConversationMessage
	for rows.Next() {
		var msg domain.ConversationMessage
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.BotID, &msg.Role, &msg.Kind, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, apperrors.NewDatabaseError(fmt.Errorf("scan conversation: %w", err))
		}
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	return messages, nil
}

// Clear deletes the user's history on the bot and returns the number of removed records.
func (r *ConversationRepository) Clear(ctx context.Context, userID, botID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE user_id = $1 AND bot_id = $2`, userID, botID)
	if err != nil {
		return 0, apperrors.NewDatabaseError(fmt.Errorf("clear conversation: %w", err))
	}
	return res.RowsAffected()
}

// Stats summarizes the user's history on the bot.
func (r *ConversationRepository) Stats(ctx context.Context, userID, botID int64) (*domain.MemoryStats, error) {
	const query = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE kind = 'image'),
			MIN(created_at),
			MAX(created_at)
		FROM conversations
		WHERE user_id = $1 AND bot_id = $2
	`

	var (
		stats       domain.MemoryStats
		first, last sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, query, userID, botID).Scan(&stats.Messages, &stats.Images, &first, &last); err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("conversation stats: %w", err))
	}

	if first.Valid {
		stats.First = &first.Time
	}
	if last.Valid {
		stats.Last = &last.Time
	}
	return &stats, nil
}

// DeleteOlderThan removes records created before cutoff across all users and bots.
func (r *ConversationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperrors.NewDatabaseError(fmt.Errorf("delete old conversations: %w", err))
	}
	return res.RowsAffected()
}
