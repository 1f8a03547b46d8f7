package notify

import (
	"context"
	"strings"
	"time"

	"usersbox-bot/internal/metrics"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// DefaultTimeout ограничивает время фоновой отправки уведомления
const DefaultTimeout = 10 * time.Second

// Notifier доставляет текст в чат пользователя.
// Возвращает true, если сообщение принято Telegram.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) bool
}

// Sender часть tgbotapi.BotAPI, нужная для отправки сообщений
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier отправляет сообщения через Bot API
type TelegramNotifier struct {
	sender  Sender
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewTelegramNotifier создает notifier поверх бота
func NewTelegramNotifier(sender Sender, m *metrics.Metrics, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender:  sender,
		metrics: m,
		logger:  logger,
	}
}

// Notify отправляет Markdown сообщение, при ошибке разметки повторяет как обычный текст
func (n *TelegramNotifier) Notify(ctx context.Context, chatID int64, text string) bool {
	delivered := n.send(ctx, chatID, text)
	n.metrics.RecordNotification(delivered)
	return delivered
}

func (n *TelegramNotifier) send(ctx context.Context, chatID int64, text string) bool {
	if ctx.Err() != nil {
		return false
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := n.sender.Send(msg)
	if err == nil {
		return true
	}
	n.logger.Warn("ошибка отправки сообщения",
		zap.Int64("chat_id", chatID),
		zap.String("parse_mode", msg.ParseMode),
		zap.Error(err))

	if ctx.Err() != nil {
		return false
	}

	// Повторная отправка без разметки
	fallback := tgbotapi.NewMessage(chatID, StripMarkdown(text))
	if _, err := n.sender.Send(fallback); err != nil {
		n.logger.Error("ошибка отправки сообщения без разметки",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		return false
	}
	return true
}

var markdownReplacer = strings.NewReplacer("*", "", "_", "", "`", "", "[", "", "]", "")

// StripMarkdown удаляет символы разметки Markdown
func StripMarkdown(text string) string {
	return markdownReplacer.Replace(text)
}

// Async отправляет уведомление в фоне. Результат только логируется.
func Async(n Notifier, logger *zap.Logger, chatID int64, text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()

		if !n.Notify(ctx, chatID, text) {
			logger.Warn("уведомление не доставлено", zap.Int64("chat_id", chatID))
		}
	}()
}

// Discard ничего не отправляет
type Discard struct{}

func (Discard) Notify(context.Context, int64, string) bool { return false }
