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

const accountColumns = `telegram_id, username, first_name, last_name, attempts_remaining,
	referral_code, referred_by, total_referrals, is_admin, created_at, last_active`

// PostgresAccountRepository реализует AccountRepository для PostgreSQL
type PostgresAccountRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewAccountRepository создает новый репозиторий аккаунтов
func NewAccountRepository(db *pgxpool.Pool, logger *zap.Logger) AccountRepository {
	return &PostgresAccountRepository{
		db:     db,
		logger: logger,
	}
}

func scanAccount(row pgx.Row, extra ...any) (*models.Account, error) {
	a := &models.Account{}
	dest := []any{
		&a.TelegramID,
		&a.Username,
		&a.FirstName,
		&a.LastName,
		&a.AttemptsRemaining,
		&a.ReferralCode,
		&a.ReferredBy,
		&a.TotalReferrals,
		&a.IsAdmin,
		&a.CreatedAt,
		&a.LastActive,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return a, nil
}

// Upsert создает аккаунт одной командой INSERT ... ON CONFLICT.
// Для существующего аккаунта обновляются только поля профиля и last_active,
// баланс, код и флаг администратора не меняются.
func (r *PostgresAccountRepository) Upsert(ctx context.Context, account *models.Account) (*models.Account, bool, error) {
	query := `
		INSERT INTO accounts (telegram_id, username, first_name, last_name, attempts_remaining, referral_code, is_admin)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (telegram_id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			last_active = NOW()
		RETURNING ` + accountColumns + `, (xmax = 0)`

	var created bool
	saved, err := scanAccount(r.db.QueryRow(ctx, query,
		account.TelegramID,
		account.Username,
		account.FirstName,
		account.LastName,
		account.AttemptsRemaining,
		account.ReferralCode,
		account.IsAdmin,
	), &created)
	if err != nil {
		if code, _ := pgErrorCode(err); code == pgUniqueViolation {
			return nil, false, ErrReferralCodeTaken
		}
		return nil, false, fmt.Errorf("ошибка сохранения аккаунта: %w", err)
	}

	if created {
		r.logger.Debug("аккаунт создан",
			zap.Int64("telegram_id", saved.TelegramID),
			zap.String("username", saved.Username),
			zap.Bool("is_admin", saved.IsAdmin))
	}

	return saved, created, nil
}

// GetByTelegramID получает аккаунт по Telegram ID
func (r *PostgresAccountRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE telegram_id = $1`

	account, err := scanAccount(r.db.QueryRow(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения аккаунта: %w", err)
	}
	return account, nil
}

// GetByReferralCode получает аккаунт по реферальному коду
func (r *PostgresAccountRepository) GetByReferralCode(ctx context.Context, code string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE referral_code = $1`

	account, err := scanAccount(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска по реферальному коду: %w", err)
	}
	return account, nil
}

// AdjustBalance атомарно изменяет баланс попыток
func (r *PostgresAccountRepository) AdjustBalance(ctx context.Context, telegramID int64, delta int64) (int64, error) {
	query := `
		UPDATE accounts
		SET attempts_remaining = attempts_remaining + $2
		WHERE telegram_id = $1
		RETURNING attempts_remaining`

	var balance int64
	if err := r.db.QueryRow(ctx, query, telegramID, delta).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка изменения баланса: %w", err)
	}

	r.logger.Debug("баланс изменен",
		zap.Int64("telegram_id", telegramID),
		zap.Int64("delta", delta),
		zap.Int64("balance", balance))

	return balance, nil
}

// ConsumeAttempt списывает одну попытку условным UPDATE.
// Если списание не произошло, возвращается текущий баланс и consumed=false.
func (r *PostgresAccountRepository) ConsumeAttempt(ctx context.Context, telegramID int64) (int64, bool, error) {
	query := `
		UPDATE accounts
		SET attempts_remaining = attempts_remaining - 1
		WHERE telegram_id = $1 AND NOT is_admin AND attempts_remaining > 0
		RETURNING attempts_remaining`

	var remaining int64
	err := r.db.QueryRow(ctx, query, telegramID).Scan(&remaining)
	if err == nil {
		return remaining, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("ошибка списания попытки: %w", err)
	}

	err = r.db.QueryRow(ctx, `SELECT attempts_remaining FROM accounts WHERE telegram_id = $1`, telegramID).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, ErrNotFound
		}
		return 0, false, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	return remaining, false, nil
}

// IncrementReferralCount увеличивает счетчик приглашений
func (r *PostgresAccountRepository) IncrementReferralCount(ctx context.Context, telegramID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET total_referrals = total_referrals + 1 WHERE telegram_id = $1`, telegramID)
	if err != nil {
		return fmt.Errorf("ошибка обновления счетчика приглашений: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List возвращает последние созданные аккаунты
func (r *PostgresAccountRepository) List(ctx context.Context, limit int) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at DESC, telegram_id LIMIT $1`
	return r.query(ctx, query, limit)
}

// TopReferrers возвращает аккаунты с наибольшим числом приглашений
func (r *PostgresAccountRepository) TopReferrers(ctx context.Context, limit int) ([]*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE total_referrals > 0
		ORDER BY total_referrals DESC, telegram_id
		LIMIT $1`
	return r.query(ctx, query, limit)
}

func (r *PostgresAccountRepository) query(ctx context.Context, query string, args ...any) ([]*models.Account, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения аккаунтов: %w", err)
	}
	defer rows.Close()

	accounts := make([]*models.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования аккаунта: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения аккаунтов: %w", err)
	}

	return accounts, nil
}
