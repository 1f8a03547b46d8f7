package main

import (
	"flag"
	"log"

	"usersbox-bot/internal/config"
	"usersbox-bot/internal/migrations"

	"go.uber.org/zap"
)

func main() {
	status := flag.Bool("status", false, "Показать статус миграций без применения")
	flag.Parse()

	// Инициализация логгера
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Ошибка инициализации логгера:", err)
	}
	defer logger.Sync()

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}
	if cfg.Database.Driver != "postgres" {
		logger.Fatal("миграции применяются только к postgres", zap.String("driver", cfg.Database.Driver))
	}

	if *status {
		if err := migrations.GetMigrationStatus(cfg, logger); err != nil {
			logger.Fatal("Ошибка получения статуса миграций", zap.Error(err))
		}
		return
	}

	if err := migrations.RunMigrations(cfg, logger); err != nil {
		logger.Fatal("Ошибка применения миграций", zap.Error(err))
	}
}
