package store

import (
	"context"
	"errors"
	"fmt"

	"usersbox-bot/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresReferralRepository реализует ReferralRepository для PostgreSQL
type PostgresReferralRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewReferralRepository создает новый репозиторий приглашений
func NewReferralRepository(db *pgxpool.Pool, logger *zap.Logger) ReferralRepository {
	return &PostgresReferralRepository{
		db:     db,
		logger: logger,
	}
}

// Exists проверяет, записано ли приглашение для пары
func (r *PostgresReferralRepository) Exists(ctx context.Context, referrerID, referredID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM referrals WHERE referrer_id = $1 AND referred_id = $2)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, referrerID, referredID).Scan(&exists); err != nil {
		return false, fmt.Errorf("ошибка проверки приглашения: %w", err)
	}
	return exists, nil
}

// Grant записывает приглашение и начисляет награду в одной транзакции.
// Уникальность пары обеспечивает ограничение UNIQUE (referrer_id, referred_id):
// проигравший гонку вызов получает ноль вставленных строк и Granted=false.
func (r *PostgresReferralRepository) Grant(ctx context.Context, referrerID, referredID, reward int64) (*models.ReferralGrant, error) {
	result := &models.ReferralGrant{ReferrerID: referrerID}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var referralID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO referrals (referrer_id, referred_id)
		VALUES ($1, $2)
		ON CONFLICT (referrer_id, referred_id) DO NOTHING
		RETURNING id`, referrerID, referredID).Scan(&referralID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return result, nil
		}
		switch code, _ := pgErrorCode(err); code {
		case pgCheckViolation:
			// самоприглашение
			return result, nil
		case pgForeignKeyViolation:
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка записи приглашения: %w", err)
	}

	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET attempts_remaining = attempts_remaining + $2,
			total_referrals = total_referrals + 1
		WHERE telegram_id = $1
		RETURNING attempts_remaining, total_referrals`, referrerID, reward).Scan(&result.Attempts, &result.TotalReferrals)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка начисления награды: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE accounts
		SET referred_by = $1
		WHERE telegram_id = $2 AND referred_by IS NULL`, referrerID, referredID); err != nil {
		return nil, fmt.Errorf("ошибка обновления referred_by: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}

	result.Granted = true
	r.logger.Debug("награда за приглашение начислена",
		zap.Int64("referral_id", referralID),
		zap.Int64("referrer_id", referrerID),
		zap.Int64("referred_id", referredID),
		zap.Int("total_referrals", result.TotalReferrals))

	return result, nil
}

// CountByReferrer подсчитывает приглашения пользователя
func (r *PostgresReferralRepository) CountByReferrer(ctx context.Context, referrerID int64) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM referrals WHERE referrer_id = $1`, referrerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчета приглашений: %w", err)
	}
	return count, nil
}
