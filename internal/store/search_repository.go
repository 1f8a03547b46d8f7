package store

import (
	"context"
	"fmt"

	"usersbox-bot/pkg/models"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const searchColumns = `id, user_id, query, results, status_code, success, attempt_used, created_at`

// PostgresSearchRepository реализует SearchRepository для PostgreSQL
type PostgresSearchRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewSearchRepository создает новый репозиторий журнала поисков
func NewSearchRepository(db *pgxpool.Pool, logger *zap.Logger) SearchRepository {
	return &PostgresSearchRepository{
		db:     db,
		logger: logger,
	}
}

// Create добавляет запись о поиске
func (r *PostgresSearchRepository) Create(ctx context.Context, search *models.Search) error {
	query := `
		INSERT INTO searches (user_id, query, results, status_code, success, attempt_used)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`

	// results хранится как JSONB, пустой ответ записываем как NULL
	var results any
	if len(search.Results) > 0 {
		results = string(search.Results)
	}

	err := r.db.QueryRow(ctx, query,
		search.UserID,
		search.Query,
		results,
		search.StatusCode,
		search.Success,
		search.AttemptUsed,
	).Scan(&search.ID, &search.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи поиска: %w", err)
	}

	r.logger.Debug("поиск записан",
		zap.Int64("search_id", search.ID),
		zap.Int64("user_id", search.UserID),
		zap.Int("status_code", search.StatusCode),
		zap.Bool("success", search.Success))

	return nil
}

// CountByUser возвращает количество поисков пользователя
func (r *PostgresSearchRepository) CountByUser(ctx context.Context, userID int64) (models.SearchCounts, error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE success)
		FROM searches
		WHERE user_id = $1`

	var counts models.SearchCounts
	if err := r.db.QueryRow(ctx, query, userID).Scan(&counts.Total, &counts.Successful); err != nil {
		return counts, fmt.Errorf("ошибка подсчета поисков: %w", err)
	}
	return counts, nil
}

// RecentByUser возвращает последние поиски пользователя
func (r *PostgresSearchRepository) RecentByUser(ctx context.Context, userID int64, limit int) ([]*models.Search, error) {
	query := `
		SELECT ` + searchColumns + `
		FROM searches
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
	return r.query(ctx, query, userID, limit)
}

// Recent возвращает последние поиски всех пользователей
func (r *PostgresSearchRepository) Recent(ctx context.Context, limit int) ([]*models.Search, error) {
	query := `
		SELECT ` + searchColumns + `
		FROM searches
		ORDER BY created_at DESC, id DESC
		LIMIT $1`
	return r.query(ctx, query, limit)
}

func (r *PostgresSearchRepository) query(ctx context.Context, query string, args ...any) ([]*models.Search, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения поисков: %w", err)
	}
	defer rows.Close()

	searches := make([]*models.Search, 0)
	for rows.Next() {
		s := &models.Search{}
		var results []byte
		if err := rows.Scan(&s.ID, &s.UserID, &s.Query, &results, &s.StatusCode, &s.Success, &s.AttemptUsed, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования поиска: %w", err)
		}
		s.Results = results
		searches = append(searches, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения поисков: %w", err)
	}

	return searches, nil
}
