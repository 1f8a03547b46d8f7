package store

import (
	"context"
	"fmt"
	"time"

	"usersbox-bot/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStatsRepository реализует StatsRepository для PostgreSQL
type PostgresStatsRepository struct {
	db *pgxpool.Pool
}

// NewStatsRepository создает репозиторий статистики
func NewStatsRepository(db *pgxpool.Pool) StatsRepository {
	return &PostgresStatsRepository{db: db}
}

// Totals возвращает общую статистику одним запросом
func (r *PostgresStatsRepository) Totals(ctx context.Context) (*models.Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM accounts),
			(SELECT COUNT(*) FROM searches),
			(SELECT COUNT(*) FROM referrals),
			(SELECT COUNT(*) FROM searches WHERE success)`

	var users, searches, referrals, successful int
	if err := r.db.QueryRow(ctx, query).Scan(&users, &searches, &referrals, &successful); err != nil {
		return nil, fmt.Errorf("ошибка получения статистики: %w", err)
	}
	return models.NewStats(users, searches, referrals, successful), nil
}

// Activity возвращает количество новых аккаунтов и поисков начиная с since
func (r *PostgresStatsRepository) Activity(ctx context.Context, since time.Time) (*models.Activity, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM accounts WHERE created_at >= @since),
			(SELECT COUNT(*) FROM searches WHERE created_at >= @since)`

	activity := &models.Activity{Since: since}
	err := r.db.QueryRow(ctx, query, pgx.NamedArgs{"since": since}).Scan(&activity.NewAccounts, &activity.Searches)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения активности: %w", err)
	}
	return activity, nil
}
