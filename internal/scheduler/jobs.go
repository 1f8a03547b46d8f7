package scheduler

import (
	"context"
	"fmt"

	"usersbox-bot/pkg/models"

	"go.uber.org/zap"
)

// StatsSource источник агрегированной статистики
type StatsSource interface {
	Stats(ctx context.Context) (*models.Stats, error)
}

// GaugeSetter принимает значения gauge метрик хранилища
type GaugeSetter interface {
	SetStoreTotals(accounts, searches, referrals int)
}

// StatsJob обновляет gauge метрики количества записей в хранилище
type StatsJob struct {
	stats   StatsSource
	metrics GaugeSetter
	logger  *zap.Logger
}

// NewStatsJob создает задачу обновления метрик
func NewStatsJob(stats StatsSource, metrics GaugeSetter, logger *zap.Logger) *StatsJob {
	return &StatsJob{
		stats:   stats,
		metrics: metrics,
		logger:  logger,
	}
}

func (j *StatsJob) Run(ctx context.Context) error {
	stats, err := j.stats.Stats(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения статистики: %w", err)
	}

	j.metrics.SetStoreTotals(stats.TotalUsers, stats.TotalSearches, stats.TotalReferrals)
	j.logger.Debug("метрики хранилища обновлены",
		zap.Int("accounts", stats.TotalUsers),
		zap.Int("searches", stats.TotalSearches),
		zap.Int("referrals", stats.TotalReferrals))
	return nil
}

// Cleaner освобождает устаревшие записи в памяти
type Cleaner interface {
	Cleanup() int
}

// NewCleanupJob создает задачу очистки ограничителя частоты
func NewCleanupJob(c Cleaner, logger *zap.Logger) Job {
	return JobFunc(func(ctx context.Context) error {
		if removed := c.Cleanup(); removed > 0 {
			logger.Debug("очищены записи ограничителя частоты", zap.Int("removed", removed))
		}
		return nil
	})
}
