package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"usersbox-bot/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxUpdateSize ограничивает размер тела обновления
const maxUpdateSize = 1 << 20

// UpdateHandler обрабатывает одно обновление Telegram
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) error
}

// TelegramWebhookHandler принимает обновления Telegram по адресу /api/webhook/{secret}
type TelegramWebhookHandler struct {
	updates UpdateHandler
	secret  string
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewTelegramWebhookHandler создает новый обработчик webhook'ов.
// timeout ограничивает обработку одного обновления и не зависит от соединения клиента.
func NewTelegramWebhookHandler(updates UpdateHandler, secret string, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *TelegramWebhookHandler {
	return &TelegramWebhookHandler{
		updates: updates,
		secret:  secret,
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

// Register добавляет маршрут в mux
func (h *TelegramWebhookHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/webhook/{secret}", h.HandleWebhook)
}

// HandleWebhook обрабатывает входящее обновление
func (h *TelegramWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With(zap.String("request_id", uuid.NewString()))

	if !h.verifySecret(r.PathValue("secret")) {
		logger.Warn("неверный секрет webhook'а", zap.String("remote_addr", r.RemoteAddr))
		h.metrics.RecordWebhookUpdate("forbidden")
		writeJSON(w, http.StatusForbidden, map[string]string{"detail": "Invalid webhook secret"})
		return
	}

	// Читаем тело запроса
	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateSize))
	if err != nil {
		logger.Error("ошибка чтения тела запроса", zap.Error(err))
		h.metrics.RecordWebhookUpdate("bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Bad request"})
		return
	}
	defer r.Body.Close()

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		logger.Warn("ошибка парсинга обновления", zap.Error(err), zap.Int("body_length", len(body)))
		h.metrics.RecordWebhookUpdate("bad_request")
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Bad request"})
		return
	}

	logger.Debug("получено обновление Telegram", zap.Int("update_id", update.UpdateID))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	if err := h.updates.HandleUpdate(ctx, update); err != nil {
		logger.Error("ошибка обработки обновления",
			zap.Int("update_id", update.UpdateID),
			zap.Error(err))
		h.metrics.RecordWebhookUpdate("failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Webhook processing failed"})
		return
	}

	h.metrics.RecordWebhookUpdate("ok")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *TelegramWebhookHandler) verifySecret(got string) bool {
	if h.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
