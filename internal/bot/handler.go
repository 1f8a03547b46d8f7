package bot

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"usersbox-bot/internal/account"
	"usersbox-bot/internal/credit"
	"usersbox-bot/internal/metrics"
	"usersbox-bot/internal/notify"
	"usersbox-bot/internal/referral"
	"usersbox-bot/internal/usersbox"
	"usersbox-bot/pkg/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	// Лимиты безопасности
	MaxQueryLength    = 256
	MaxNameLength     = 64
	MaxUsernameLength = 32

	recentSearchesLimit = 3
	topReferrersLimit   = 3
)

// Searcher выполняет запрос к API поиска
type Searcher interface {
	Search(ctx context.Context, query string) *usersbox.Result
}

// Options настройки обработчика
type Options struct {
	BotUsername       string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Handler представляет обработчик сообщений Telegram
type Handler struct {
	accounts    *account.Service
	referrals   *referral.Service
	credits     *credit.Ledger
	searcher    Searcher
	notifier    notify.Notifier
	messages    *Messages
	rateLimiter *RateLimiter
	botUsername string
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewHandler создает новый обработчик
func NewHandler(
	accounts *account.Service,
	referrals *referral.Service,
	credits *credit.Ledger,
	searcher Searcher,
	notifier notify.Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts Options,
) *Handler {
	return &Handler{
		accounts:    accounts,
		referrals:   referrals,
		credits:     credits,
		searcher:    searcher,
		notifier:    notifier,
		messages:    NewMessages(),
		rateLimiter: NewRateLimiter(opts.RateLimitRequests, opts.RateLimitWindow),
		botUsername: opts.BotUsername,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// RateLimiter возвращает ограничитель частоты для периодической очистки
func (h *Handler) RateLimiter() *RateLimiter {
	return h.rateLimiter
}

// HandleUpdate обрабатывает входящее обновление.
// Ошибка возвращается только при сбое хранилища.
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	message := update.Message
	if message == nil || message.Chat == nil {
		return nil
	}

	chatID := message.Chat.ID
	userID := chatID
	var profile models.Profile
	if message.From != nil {
		userID = message.From.ID
		profile = models.Profile{
			Username:  sanitize(message.From.UserName, MaxUsernameLength),
			FirstName: sanitize(message.From.FirstName, MaxNameLength),
			LastName:  sanitize(message.From.LastName, MaxNameLength),
		}
	}

	if !h.rateLimiter.IsAllowed(userID) {
		h.logger.Warn("rate limit exceeded", zap.Int64("user_id", userID))
		h.metrics.RecordRateLimited()
		h.reply(ctx, chatID, h.messages.TooManyRequests())
		return nil
	}

	h.logger.Debug("получено обновление",
		zap.Int("update_id", update.UpdateID),
		zap.Int64("chat_id", chatID),
		zap.String("username", profile.Username))

	acc, _, err := h.accounts.GetOrCreate(ctx, userID, profile)
	if err != nil {
		h.logger.Error("ошибка получения аккаунта", zap.Int64("user_id", userID), zap.Error(err))
		h.reply(ctx, chatID, h.messages.Error())
		return fmt.Errorf("ошибка получения аккаунта: %w", err)
	}

	command, args := parseCommand(message.Text)
	return h.dispatch(ctx, chatID, acc, command, args, strings.TrimSpace(message.Text))
}

func (h *Handler) dispatch(ctx context.Context, chatID int64, acc *models.Account, command, args, text string) error {
	switch command {
	case "start":
		h.metrics.RecordCommand("start")
		return h.handleStart(ctx, chatID, acc, args)
	case "search":
		h.metrics.RecordCommand("search")
		return h.handleSearch(ctx, chatID, acc, args)
	case "balance":
		h.metrics.RecordCommand("balance")
		return h.handleBalance(ctx, chatID, acc)
	case "referral":
		h.metrics.RecordCommand("referral")
		return h.handleReferral(ctx, chatID, acc)
	case "help":
		h.metrics.RecordCommand("help")
		h.reply(ctx, chatID, h.messages.Help(acc.IsAdmin))
		return nil
	}

	if acc.IsAdmin {
		switch command {
		case "admin":
			h.metrics.RecordCommand("admin")
			return h.handleAdmin(ctx, chatID, acc)
		case "give":
			h.metrics.RecordCommand("give")
			return h.handleGive(ctx, chatID, args)
		case "stats":
			h.metrics.RecordCommand("stats")
			return h.handleStats(ctx, chatID)
		}
	}

	if command != "" {
		h.metrics.RecordCommand("unknown")
		h.reply(ctx, chatID, h.messages.UnknownCommand())
		return nil
	}

	if text == "" {
		return nil
	}

	// обычный текст считается поисковым запросом
	h.metrics.RecordCommand("text")
	if !acc.HasAttempts() {
		h.reply(ctx, chatID, h.messages.OutOfAttempts())
		return nil
	}
	return h.handleSearch(ctx, chatID, acc, text)
}

// reply отправляет ответ; результат доставки не влияет на обработку
func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if !h.notifier.Notify(ctx, chatID, text) {
		h.logger.Warn("ответ не доставлен", zap.Int64("chat_id", chatID))
	}
}

// parseCommand разбирает "/cmd@bot args" без опоры на entities
func parseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}

	// команда заканчивается на первом пробельном символе, @bot отрезается только от нее
	head, args := text[1:], ""
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		head, args = head[:i], head[i:]
	}
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	return strings.ToLower(head), strings.TrimSpace(args)
}

// sanitize убирает управляющие символы и ограничивает длину
func sanitize(s string, maxLen int) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if utf8.RuneCountInString(s) > maxLen {
		s = string([]rune(s)[:maxLen])
	}
	return s
}
