package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics содержит все метрики приложения.
// Метрики регистрируются в собственном реестре, поэтому New можно вызывать несколько раз.
type Metrics struct {
	logger   *zap.Logger
	registry *prometheus.Registry

	// Счетчики
	botCommands      *prometheus.CounterVec
	usersboxRequests *prometheus.CounterVec
	referrals        *prometheus.CounterVec
	attemptsGranted  *prometheus.CounterVec
	attemptsConsumed prometheus.Counter
	notifications    *prometheus.CounterVec
	webhookUpdates   *prometheus.CounterVec
	rateLimited      prometheus.Counter

	// Гистограммы
	usersboxResponseTime *prometheus.HistogramVec

	// Gauge метрики
	accounts       prometheus.Gauge
	storedSearches prometheus.Gauge
	storedReferral prometheus.Gauge

	mu sync.RWMutex
}

// New создает новый экземпляр метрик
func New(logger *zap.Logger) *Metrics {
	m := &Metrics{
		logger:   logger,
		registry: prometheus.NewRegistry(),

		botCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_commands_total",
				Help: "Количество обработанных команд бота",
			},
			[]string{"command"}, // start, search, balance, referral, help, admin, give, stats, text
		),

		usersboxRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "usersbox_requests_total",
				Help: "Количество запросов к API usersbox",
			},
			[]string{"status"}, // success, failed, unavailable
		),

		referrals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referrals_total",
				Help: "Результаты обработки реферальных кодов",
			},
			[]string{"result"}, // granted, duplicate, self, unknown_code
		),

		attemptsGranted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attempts_granted_total",
				Help: "Количество начисленных попыток",
			},
			[]string{"source"}, // referral, admin
		),

		attemptsConsumed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "attempts_consumed_total",
				Help: "Количество списанных попыток",
			},
		),

		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_total",
				Help: "Количество отправленных уведомлений",
			},
			[]string{"status"}, // delivered, failed
		),

		webhookUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_updates_total",
				Help: "Количество входящих обновлений Telegram",
			},
			[]string{"status"}, // ok, forbidden, bad_request, failed
		),

		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "rate_limited_total",
				Help: "Количество сообщений, отклоненных ограничителем частоты",
			},
		),

		usersboxResponseTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "usersbox_response_time_seconds",
				Help:    "Время ответа API usersbox в секундах",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		accounts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "accounts_total",
				Help: "Количество аккаунтов в хранилище",
			},
		),

		storedSearches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "searches_total_stored",
				Help: "Количество записей в журнале поисков",
			},
		),

		storedReferral: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "referrals_total_stored",
				Help: "Количество записей о приглашениях",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.botCommands,
		m.usersboxRequests,
		m.referrals,
		m.attemptsGranted,
		m.attemptsConsumed,
		m.notifications,
		m.webhookUpdates,
		m.rateLimited,
		m.usersboxResponseTime,
		m.accounts,
		m.storedSearches,
		m.storedReferral,
	)

	return m
}

// IncrementCounter увеличивает счетчик
func (m *Metrics) IncrementCounter(name string, labels ...string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var counter *prometheus.CounterVec

	switch name {
	case "bot_commands_total":
		counter = m.botCommands
	case "usersbox_requests_total":
		counter = m.usersboxRequests
	case "referrals_total":
		counter = m.referrals
	case "attempts_granted_total":
		counter = m.attemptsGranted
	case "notifications_total":
		counter = m.notifications
	case "webhook_updates_total":
		counter = m.webhookUpdates
	case "attempts_consumed_total":
		m.attemptsConsumed.Inc()
		return
	case "rate_limited_total":
		m.rateLimited.Inc()
		return
	default:
		m.logger.Error("неизвестная метрика", zap.String("name", name))
		return
	}

	counter.WithLabelValues(labels...).Inc()
}

// AddCounter увеличивает счетчик на value
func (m *Metrics) AddCounter(name string, value float64, labels ...string) {
	if m == nil || value <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "attempts_granted_total":
		m.attemptsGranted.WithLabelValues(labels...).Add(value)
	default:
		m.logger.Error("неизвестная метрика", zap.String("name", name))
	}
}

// SetGauge устанавливает значение gauge метрики
func (m *Metrics) SetGauge(name string, value float64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var gauge prometheus.Gauge

	switch name {
	case "accounts_total":
		gauge = m.accounts
	case "searches_total_stored":
		gauge = m.storedSearches
	case "referrals_total_stored":
		gauge = m.storedReferral
	default:
		m.logger.Error("неизвестная gauge метрика", zap.String("name", name))
		return
	}

	gauge.Set(value)
	m.logger.Debug("метрика установлена", zap.String("metric", name), zap.Float64("value", value))
}

// ObserveHistogram добавляет наблюдение в гистограмму
func (m *Metrics) ObserveHistogram(name string, value float64, labels ...string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case "usersbox_response_time":
		m.usersboxResponseTime.WithLabelValues(labels...).Observe(value)
	default:
		m.logger.Error("неизвестная гистограмма", zap.String("name", name))
	}
}

// RecordCommand записывает обработанную команду
func (m *Metrics) RecordCommand(command string) {
	m.IncrementCounter("bot_commands_total", command)
}

// RecordUsersboxRequest записывает запрос к API поиска
func (m *Metrics) RecordUsersboxRequest(status string, responseTime float64) {
	m.IncrementCounter("usersbox_requests_total", status)
	m.ObserveHistogram("usersbox_response_time", responseTime, status)
}

// RecordReferral записывает результат обработки реферального кода
func (m *Metrics) RecordReferral(result string) {
	m.IncrementCounter("referrals_total", result)
	if result == "granted" {
		m.AddCounter("attempts_granted_total", 1, "referral")
	}
}

// RecordGrant записывает административное начисление
func (m *Metrics) RecordGrant(amount int64) {
	m.AddCounter("attempts_granted_total", float64(amount), "admin")
}

// RecordConsume записывает списание попытки
func (m *Metrics) RecordConsume() {
	m.IncrementCounter("attempts_consumed_total")
}

// RecordNotification записывает результат отправки уведомления
func (m *Metrics) RecordNotification(delivered bool) {
	status := "delivered"
	if !delivered {
		status = "failed"
	}
	m.IncrementCounter("notifications_total", status)
}

// RecordWebhookUpdate записывает входящее обновление
func (m *Metrics) RecordWebhookUpdate(status string) {
	m.IncrementCounter("webhook_updates_total", status)
}

// RecordRateLimited записывает отклоненное сообщение
func (m *Metrics) RecordRateLimited() {
	m.IncrementCounter("rate_limited_total")
}

// SetStoreTotals обновляет gauge метрики хранилища
func (m *Metrics) SetStoreTotals(accounts, searches, referrals int) {
	m.SetGauge("accounts_total", float64(accounts))
	m.SetGauge("searches_total_stored", float64(searches))
	m.SetGauge("referrals_total_stored", float64(referrals))
}

// Registry возвращает реестр метрик
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler возвращает HTTP handler для метрик
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
