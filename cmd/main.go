package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"usersbox-bot/internal/account"
	"usersbox-bot/internal/admin"
	"usersbox-bot/internal/bot"
	"usersbox-bot/internal/config"
	"usersbox-bot/internal/credit"
	"usersbox-bot/internal/metrics"
	"usersbox-bot/internal/migrations"
	"usersbox-bot/internal/notify"
	"usersbox-bot/internal/referral"
	"usersbox-bot/internal/scheduler"
	"usersbox-bot/internal/store"
	"usersbox-bot/internal/usersbox"
	"usersbox-bot/internal/webhook"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

func main() {
	// Инициализация логгера
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	logger, err := initLogger(os.Getenv("APP_ENV"), level)
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("запуск приложения usersbox-bot")

	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("ошибка загрузки конфигурации", zap.Error(err))
	}
	level.SetLevel(cfg.App.GetLogLevel().Level())

	// Применение миграций
	if cfg.Database.Driver == "postgres" {
		if err := migrations.RunMigrations(cfg, logger); err != nil {
			logger.Fatal("ошибка применения миграций", zap.Error(err))
		}
	}

	// Инициализация хранилища
	st, err := store.New(cfg, logger)
	if err != nil {
		logger.Fatal("ошибка инициализации хранилища", zap.Error(err))
	}
	defer st.Close()

	// Инициализация метрик
	metricsSystem := metrics.New(logger)
	metricsHandler := metrics.NewHandler(metricsSystem, st, logger)

	// Инициализация Telegram бота
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Fatal("ошибка инициализации Telegram бота", zap.Error(err))
	}

	botUsername := cfg.Telegram.BotUsername
	if botUsername == "" {
		botUsername = botAPI.Self.UserName
	}
	logger.Info("Telegram бот инициализирован",
		zap.String("username", botUsername),
		zap.Int64("id", botAPI.Self.ID),
		zap.String("mode", cfg.Telegram.Mode))

	// Инициализация сервисов
	notifier := notify.NewTelegramNotifier(botAPI, metricsSystem, logger)
	accountService := account.NewService(st, &cfg.Admin, logger)
	referralService := referral.NewService(st, notifier, metricsSystem, logger)
	ledger := credit.NewLedger(st, notifier, metricsSystem, logger)
	searchClient := usersbox.NewClient(cfg.Usersbox.BaseURL, cfg.Usersbox.Token, cfg.Usersbox.Timeout, metricsSystem, logger)

	// Инициализация обработчика
	handler := bot.NewHandler(accountService, referralService, ledger, searchClient, notifier, metricsSystem, logger, bot.Options{
		BotUsername:       botUsername,
		RateLimitRequests: cfg.App.RateLimitRequests,
		RateLimitWindow:   cfg.App.RateLimitWindow,
	})

	// Инициализация планировщика задач
	taskScheduler := scheduler.NewScheduler(logger)
	taskScheduler.AddJob("store_stats", scheduler.NewStatsJob(accountService, metricsSystem, logger))
	taskScheduler.AddJob("rate_limiter_cleanup", scheduler.NewCleanupJob(handler.RateLimiter(), logger))

	// Создание контекста для graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler.MetricsHandler())
	mux.HandleFunc("GET /health", metricsHandler.HealthHandler)
	admin.NewHandler(accountService, ledger, searchClient, cfg.Admin.APIToken, logger).Register(mux)
	// обработка одного обновления включает запрос к API поиска и отправку ответов
	updateTimeout := cfg.Usersbox.Timeout + 3*cfg.Telegram.SendTimeout
	webhook.NewTelegramWebhookHandler(handler, cfg.Telegram.WebhookSecret, updateTimeout, metricsSystem, logger).Register(mux)

	var wg sync.WaitGroup

	// Запуск HTTP сервера
	wg.Add(1)
	go func() {
		defer wg.Done()
		startHTTPServer(ctx, cfg.App.Port, mux, logger)
	}()

	// Запуск планировщика задач
	wg.Add(1)
	go func() {
		defer wg.Done()
		taskScheduler.Start(ctx, cfg.App.StatsRefreshInterval)
	}()

	switch cfg.Telegram.Mode {
	case "polling":
		// webhook и long polling не работают одновременно
		if _, err := botAPI.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			logger.Warn("ошибка удаления webhook", zap.Error(err))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			handleUpdates(ctx, botAPI, handler, cfg.Telegram.MaxInflight, updateTimeout, logger)
		}()
	default:
		if err := registerWebhook(botAPI, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret, logger); err != nil {
			logger.Fatal("ошибка регистрации webhook", zap.Error(err))
		}
	}

	logger.Info("приложение запущено и готово к работе",
		zap.String("address", fmt.Sprintf("http://localhost:%d", cfg.App.Port)),
	)

	// Ожидание сигнала завершения
	<-ctx.Done()
	logger.Info("получен сигнал завершения, начинаем graceful shutdown")

	if cfg.Telegram.Mode == "polling" {
		botAPI.StopReceivingUpdates()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("превышено время ожидания остановки")
	}

	logger.Info("приложение завершено")
}

// initLogger инициализирует логгер
func initLogger(env string, level zap.AtomicLevel) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	if env == "production" {
		config = zap.NewProductionConfig()
	}
	config.Level = level
	return config.Build()
}

// registerWebhook сообщает Telegram адрес для доставки обновлений
func registerWebhook(botAPI *tgbotapi.BotAPI, baseURL, secret string, logger *zap.Logger) error {
	if baseURL == "" {
		logger.Info("TELEGRAM_WEBHOOK_URL не задан, webhook должен быть зарегистрирован вручную")
		return nil
	}

	endpoint := strings.TrimRight(baseURL, "/") + "/api/webhook/" + secret
	wh, err := tgbotapi.NewWebhook(endpoint)
	if err != nil {
		return fmt.Errorf("неверный адрес webhook: %w", err)
	}
	if _, err := botAPI.Request(wh); err != nil {
		return fmt.Errorf("ошибка установки webhook: %w", err)
	}

	info, err := botAPI.GetWebhookInfo()
	if err != nil {
		return fmt.Errorf("ошибка получения информации о webhook: %w", err)
	}
	if info.LastErrorDate != 0 {
		logger.Warn("последняя ошибка доставки webhook", zap.String("message", info.LastErrorMessage))
	}
	logger.Info("webhook зарегистрирован", zap.Int("pending_updates", info.PendingUpdateCount))
	return nil
}

// handleUpdates обрабатывает обновления от Telegram в режиме long polling.
// Число одновременно обрабатываемых обновлений ограничено maxInflight.
func handleUpdates(ctx context.Context, botAPI *tgbotapi.BotAPI, handler *bot.Handler, maxInflight int, timeout time.Duration, logger *zap.Logger) {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60

	updates := botAPI.GetUpdatesChan(updateConfig)
	if maxInflight <= 0 {
		maxInflight = 1
	}
	inflight := make(chan struct{}, maxInflight)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			// Пропускаем пустые обновления
			if update.Message == nil {
				continue
			}

			select {
			case inflight <- struct{}{}:
			case <-ctx.Done():
				return
			}

			wg.Add(1)
			go func(update tgbotapi.Update) {
				defer wg.Done()
				defer func() { <-inflight }()

				updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
				defer cancel()

				if err := handler.HandleUpdate(updateCtx, update); err != nil {
					var chatID int64
					if update.Message.Chat != nil {
						chatID = update.Message.Chat.ID
					}
					logger.Error("ошибка обработки обновления",
						zap.Int64("chat_id", chatID),
						zap.Error(err))
				}
			}(update)

		case <-ctx.Done():
			logger.Info("остановка обработки обновлений")
			return
		}
	}
}

// startHTTPServer запускает HTTP сервер для API, метрик и webhook'ов
func startHTTPServer(ctx context.Context, port int, handler http.Handler, logger *zap.Logger) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("HTTP сервер запущен", zap.String("address", server.Addr))

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ошибка HTTP сервера", zap.Error(err))
		}
	}()

	// Ожидание сигнала завершения
	<-ctx.Done()

	// Graceful shutdown HTTP сервера
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("ошибка при остановке HTTP сервера", zap.Error(err))
	}

	logger.Info("HTTP сервер остановлен")
}
