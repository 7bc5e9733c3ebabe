package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/Proton-105/gemini-clone-bot/internal/domain"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
)

const (
	referralCodeIndex   = "users_referral_code_key"
	referralCodeRetries = 3
)

var userColumns = []string{
	"id", "telegram_id", "first_name", "last_name", "username", "language",
	"daily_points", "referral_points", "last_daily_reset", "referral_code", "referred_by",
	"referral_count", "total_images", "total_messages", "is_banned", "is_admin",
	"created_at", "last_active",
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// The xmax system column is zero only for rows inserted by this statement.
var upsertUserQuery = `
	INSERT INTO users (telegram_id, first_name, last_name, username, language,
		daily_points, referral_points, last_daily_reset, referral_code, created_at, last_active)
	VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $7, $7)
	ON CONFLICT (telegram_id) DO UPDATE SET
		first_name = EXCLUDED.first_name,
		last_name = EXCLUDED.last_name,
		username = EXCLUDED.username,
		last_active = EXCLUDED.last_active
	RETURNING ` + strings.Join(userColumns, ", ") + `, (xmax = 0) AS inserted`

// UserFilter narrows List and Count.
type UserFilter struct {
	Search string
	Banned *bool
	Admin  *bool
	Limit  uint64
	Offset uint64
}

// UserRepository defines persistence operations for users.
type UserRepository interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error)
	FindByReferralCode(ctx context.Context, code string) (*domain.User, error)
	// Upsert inserts the user or refreshes the profile fields of an existing one.
	// created reports whether a new row was inserted.
	Upsert(ctx context.Context, user *domain.User) (created bool, err error)
	UpdateLanguage(ctx context.Context, telegramID int64, language string) error
	SetBanned(ctx context.Context, telegramID int64, banned bool) (bool, error)
	SetAdmin(ctx context.Context, telegramID int64, admin bool) (bool, error)
	TouchLastActive(ctx context.Context, telegramID int64, at time.Time) error
	IncrementUsage(ctx context.Context, telegramID int64, messages, images int) error
	List(ctx context.Context, filter UserFilter) ([]*domain.User, error)
	Count(ctx context.Context, filter UserFilter) (int64, error)
	CountActiveSince(ctx context.Context, since time.Time) (int64, error)

	ConsumePoint(ctx context.Context, telegramID int64, now time.Time, loc *time.Location, daily int) (*domain.User, string, error)
	RefundPoint(ctx context.Context, telegramID int64, source string) error
	AddPoints(ctx context.Context, telegramID int64, source string, amount int) (*domain.User, error)
	ResetPoints(ctx context.Context, telegramID int64, daily int, now time.Time) (*domain.User, error)
	ResetAllDaily(ctx context.Context, daily int, now time.Time) (int64, error)
	ApplyReferral(ctx context.Context, telegramID, referrerID int64, bonus int) (bool, error)
}

type userRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewUserRepository creates a new SQL-backed user repository.
func NewUserRepository(db *sql.DB, log *slog.Logger) UserRepository {
	if log == nil {
		log = slog.Default()
	}
	return &userRepository{
		db:  db,
		log: log,
	}
}

// FindByTelegramID retrieves a user by Telegram identifier or returns sql.ErrNoRows.
func (r *userRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*domain.User, error) {
	return r.findOne(ctx, r.db, squirrel.Eq{"telegram_id": telegramID}, false)
}

// FindByReferralCode retrieves the owner of a referral code or returns sql.ErrNoRows.
func (r *userRepository) FindByReferralCode(ctx context.Context, code string) (*domain.User, error) {
	return r.findOne(ctx, r.db, squirrel.Eq{"referral_code": strings.ToUpper(code)}, false)
}

func (r *userRepository) Upsert(ctx context.Context, user *domain.User) (bool, error) {
	now := time.Now().UTC()

	var lastErr error
	for attempt := 0; attempt < referralCodeRetries; attempt++ {
		code, err := domain.GenerateReferralCode()
		if err != nil {
			return false, fmt.Errorf("generate referral code: %w", err)
		}

		row := r.db.QueryRowContext(ctx, upsertUserQuery,
			user.TelegramID,
			user.FirstName,
			user.LastName,
			user.Username,
			user.Language,
			user.DailyPoints,
			now,
			code,
		)

		var inserted bool
		stored, err := scanUser(row, &inserted)
		if err == nil {
			*user = *stored
			return inserted, nil
		}

		if index, ok := uniqueConstraint(err); ok && index == referralCodeIndex {
			lastErr = err
			continue
		}

		r.log.Error("failed to upsert user", slog.Int64("telegram_id", user.TelegramID), slog.Any("error", err))
		return false, apperrors.NewDatabaseError(fmt.Errorf("upsert user: %w", err))
	}

	return false, apperrors.NewDatabaseError(fmt.Errorf("allocate referral code: %w", lastErr))
}

func (r *userRepository) UpdateLanguage(ctx context.Context, telegramID int64, language string) error {
	_, err := r.update(ctx, psql.Update("users").
		Set("language", language).
		Where(squirrel.Eq{"telegram_id": telegramID}))
	return err
}

func (r *userRepository) SetBanned(ctx context.Context, telegramID int64, banned bool) (bool, error) {
	return r.update(ctx, psql.Update("users").
		Set("is_banned", banned).
		Where(squirrel.Eq{"telegram_id": telegramID}))
}

func (r *userRepository) SetAdmin(ctx context.Context, telegramID int64, admin bool) (bool, error) {
	return r.update(ctx, psql.Update("users").
		Set("is_admin", admin).
		Where(squirrel.Eq{"telegram_id": telegramID}))
}

func (r *userRepository) TouchLastActive(ctx context.Context, telegramID int64, at time.Time) error {
	_, err := r.update(ctx, psql.Update("users").
		Set("last_active", at).
		Where(squirrel.Eq{"telegram_id": telegramID}))
	return err
}

func (r *userRepository) IncrementUsage(ctx context.Context, telegramID int64, messages, images int) error {
	_, err := r.update(ctx, psql.Update("users").
		Set("total_messages", squirrel.Expr("total_messages + ?", messages)).
		Set("total_images", squirrel.Expr("total_images + ?", images)).
		Where(squirrel.Eq{"telegram_id": telegramID}))
	return err
}

// List returns users matching filter, most recently active first.
func (r *userRepository) List(ctx context.Context, filter UserFilter) ([]*domain.User, error) {
	builder := applyUserFilter(psql.Select(userColumns...).From("users"), filter).
		OrderBy("last_active DESC", "id DESC")
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		builder = builder.Offset(filter.Offset)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.log.Error("failed to list users", slog.Any("error", err))
		return nil, apperrors.NewDatabaseError(fmt.Errorf("list users: %w", err))
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows, nil)
		if err != nil {
			return nil, apperrors.NewDatabaseError(fmt.Errorf("scan user: %w", err))
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("iterate users: %w", err))
	}
	return users, nil
}

func (r *userRepository) Count(ctx context.Context, filter UserFilter) (int64, error) {
	query, args, err := applyUserFilter(psql.Select("COUNT(*)").From("users"), filter).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build user count query: %w", err)
	}

	var count int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, apperrors.NewDatabaseError(fmt.Errorf("count users: %w", err))
	}
	return count, nil
}

func (r *userRepository) CountActiveSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE last_active >= $1`, since).Scan(&count)
	if err != nil {
		return 0, apperrors.NewDatabaseError(fmt.Errorf("count active users: %w", err))
	}
	return count, nil
}

// ConsumePoint locks the user row, applies a pending daily reset and spends one point.
func (r *userRepository) ConsumePoint(ctx context.Context, telegramID int64, now time.Time, loc *time.Location, daily int) (*domain.User, string, error) {
	var (
		user   *domain.User
		source string
	)

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		user, err = r.findOne(ctx, tx, squirrel.Eq{"telegram_id": telegramID}, true)
		if err != nil {
			return err
		}

		user.ApplyDailyReset(now, loc, daily)

		var ok bool
		source, ok = user.SpendPoint()
		if !ok {
			return apperrors.NewInsufficientPointsError()
		}

		return r.savePoints(ctx, tx, user)
	})
	if err != nil {
		return nil, "", r.classify(err, "consume point")
	}

	return user, source, nil
}

// RefundPoint returns a point to the bucket it was taken from.
func (r *userRepository) RefundPoint(ctx context.Context, telegramID int64, source string) error {
	_, err := r.AddPoints(ctx, telegramID, source, 1)
	return err
}

// AddPoints credits amount points to the daily or referral bucket.
func (r *userRepository) AddPoints(ctx context.Context, telegramID int64, source string, amount int) (*domain.User, error) {
	column := "daily_points"
	if source == domain.PointSourceReferral {
		column = "referral_points"
	}

	query, args, err := psql.Update("users").
		Set(column, squirrel.Expr(column+" + ?", amount)).
		Where(squirrel.Eq{"telegram_id": telegramID}).
		Suffix("RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build add points query: %w", err)
	}

	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...), nil)
	if err != nil {
		return nil, r.classify(err, "add points")
	}
	return user, nil
}

// ResetPoints sets the daily bucket to daily and clears the referral bucket.
func (r *userRepository) ResetPoints(ctx context.Context, telegramID int64, daily int, now time.Time) (*domain.User, error) {
	query, args, err := psql.Update("users").
		Set("daily_points", daily).
		Set("referral_points", 0).
		Set("last_daily_reset", now).
		Where(squirrel.Eq{"telegram_id": telegramID}).
		Suffix("RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reset points query: %w", err)
	}

	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...), nil)
	if err != nil {
		return nil, r.classify(err, "reset points")
	}
	return user, nil
}

// ResetAllDaily refills the daily bucket of every user not reset since now's midnight.
func (r *userRepository) ResetAllDaily(ctx context.Context, daily int, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET daily_points = $1, last_daily_reset = $2 WHERE last_daily_reset < $3`,
		daily, now, now)
	if err != nil {
		return 0, apperrors.NewDatabaseError(fmt.Errorf("reset daily points: %w", err))
	}
	return res.RowsAffected()
}

// ApplyReferral links telegramID to referrerID once and credits both with bonus.
// It reports false when the user was already referred.
func (r *userRepository) ApplyReferral(ctx context.Context, telegramID, referrerID int64, bonus int) (bool, error) {
	var applied bool

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE users
			SET referred_by = $2, referral_points = referral_points + $3
			WHERE telegram_id = $1 AND referred_by IS NULL AND telegram_id <> $2`,
			telegramID, referrerID, bonus)
		if err != nil {
			return err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE users
			SET referral_count = referral_count + 1, referral_points = referral_points + $2
			WHERE telegram_id = $1`,
			referrerID, bonus)
		if err != nil {
			return err
		}
		if affected, err = res.RowsAffected(); err != nil {
			return err
		}
		if affected == 0 {
			return sql.ErrNoRows
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, r.classify(err, "apply referral")
	}

	return applied, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *userRepository) findOne(ctx context.Context, q queryer, where squirrel.Sqlizer, forUpdate bool) (*domain.User, error) {
	builder := psql.Select(userColumns...).From("users").Where(where)
	if forUpdate {
		builder = builder.Suffix("FOR UPDATE")
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build user query: %w", err)
	}

	user, err := scanUser(q.QueryRowContext(ctx, query, args...), nil)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}

		r.log.Error("failed to fetch user", slog.Any("error", err))
		return nil, apperrors.NewDatabaseError(fmt.Errorf("select user: %w", err))
	}

	return user, nil
}

func (r *userRepository) savePoints(ctx context.Context, tx *sql.Tx, user *domain.User) error {
	query, args, err := psql.Update("users").
		Set("daily_points", user.DailyPoints).
		Set("referral_points", user.ReferralPoints).
		Set("last_daily_reset", user.LastDailyReset).
		Where(squirrel.Eq{"telegram_id": user.TelegramID}).
		ToSql()
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

func (r *userRepository) update(ctx context.Context, builder squirrel.UpdateBuilder) (bool, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return false, fmt.Errorf("build user update: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.log.Error("failed to update user", slog.Any("error", err))
		return false, apperrors.NewDatabaseError(fmt.Errorf("update user: %w", err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewDatabaseError(err)
	}
	return affected > 0, nil
}

// classify keeps not-found and app errors intact and wraps the rest as store failures.
func (r *userRepository) classify(err error, op string) error {
	var appErr *apperrors.AppError
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return sql.ErrNoRows
	case errors.As(err, &appErr):
		return err
	default:
		r.log.Error("user store operation failed", slog.String("op", op), slog.Any("error", err))
		return apperrors.NewDatabaseError(fmt.Errorf("%s: %w", op, err))
	}
}

func applyUserFilter(builder squirrel.SelectBuilder, filter UserFilter) squirrel.SelectBuilder {
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + strings.TrimPrefix(search, "@") + "%"
		builder = builder.Where(squirrel.Or{
			squirrel.ILike{"username": pattern},
			squirrel.ILike{"first_name": pattern},
			squirrel.ILike{"last_name": pattern},
			squirrel.Expr("CAST(telegram_id AS TEXT) LIKE ?", pattern),
		})
	}
	if filter.Banned != nil {
		builder = builder.Where(squirrel.Eq{"is_banned": *filter.Banned})
	}
	if filter.Admin != nil {
		builder = builder.Where(squirrel.Eq{"is_admin": *filter.Admin})
	}
	return builder
}

func scanUser(row rowScanner, inserted *bool) (*domain.User, error) {
	var (
		user       domain.User
		referredBy sql.NullInt64
	)

	dest := []any{
		&user.ID,
		&user.TelegramID,
		&user.FirstName,
		&user.LastName,
		&user.Username,
		&user.Language,
		&user.DailyPoints,
		&user.ReferralPoints,
		&user.LastDailyReset,
		&user.ReferralCode,
		&referredBy,
		&user.ReferralCount,
		&user.TotalImages,
		&user.TotalMessages,
		&user.IsBanned,
		&user.IsAdmin,
		&user.CreatedAt,
		&user.LastActiveAt,
	}
	if inserted != nil {
		dest = append(dest, inserted)
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if referredBy.Valid {
		id := referredBy.Int64
		user.ReferredBy = &id
	}

	return &user, nil
}
