package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"usersbox-bot/internal/store"
	"usersbox-bot/internal/usersbox"
	"usersbox-bot/pkg/models"

	"go.uber.org/zap"
)

func (h *Handler) handleStart(ctx context.Context, chatID int64, acc *models.Account, args string) error {
	bonus := false
	if code, _, _ := strings.Cut(args, " "); code != "" {
		granted, err := h.referrals.ApplyReferral(ctx, acc.TelegramID, code)
		if err != nil {
			// приветствие отправляется даже если награда не записана
			h.logger.Error("ошибка обработки реферального кода",
				zap.Int64("user_id", acc.TelegramID),
				zap.String("code", code),
				zap.Error(err))
		}
		bonus = granted
	}

	h.reply(ctx, chatID, h.messages.Welcome(acc, bonus))
	return nil
}

// handleSearch выполняет поиск. Попытка списывается только после успешного ответа API.
func (h *Handler) handleSearch(ctx context.Context, chatID int64, acc *models.Account, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		h.reply(ctx, chatID, h.messages.SearchUsage())
		return nil
	}
	if len([]rune(query)) > MaxQueryLength {
		query = string([]rune(query)[:MaxQueryLength])
	}

	allowed, err := h.credits.TryConsume(ctx, acc.TelegramID)
	if err != nil {
		h.reply(ctx, chatID, h.messages.Error())
		return fmt.Errorf("ошибка проверки попыток: %w", err)
	}
	if !allowed {
		h.reply(ctx, chatID, h.messages.OutOfAttempts())
		return nil
	}

	h.reply(ctx, chatID, h.messages.Searching())

	result := h.searcher.Search(ctx, query)
	success := result.Success()

	audit := &models.Search{
		UserID:      acc.TelegramID,
		Query:       query,
		Results:     result.Payload,
		StatusCode:  result.StatusCode,
		Success:     success,
		AttemptUsed: success && !acc.IsAdmin,
	}
	if err := h.accounts.RecordSearch(ctx, audit); err != nil {
		h.logger.Error("ошибка записи поиска", zap.Int64("user_id", acc.TelegramID), zap.Error(err))
	}

	if result.Err != nil {
		h.logger.Warn("API поиска недоступен",
			zap.Int64("user_id", acc.TelegramID),
			zap.Error(result.Err))
		h.reply(ctx, chatID, h.messages.Unavailable())
		return nil
	}

	if !success && !isErrorEnvelope(result) {
		// ответ не 200 без описания ошибки считается временным сбоем
		h.logger.Warn("API поиска вернуло неожиданный ответ",
			zap.Int64("user_id", acc.TelegramID),
			zap.Int("status_code", result.StatusCode))
		h.reply(ctx, chatID, h.messages.Unavailable())
		return nil
	}

	h.reply(ctx, chatID, FormatResults(query, result.Payload))

	if !success || acc.IsAdmin {
		return nil
	}

	remaining, err := h.credits.CommitConsume(ctx, acc.TelegramID)
	if err != nil {
		// поиск уже выполнен, повтор обновления привел бы ко второму запросу
		h.logger.Error("ошибка списания попытки", zap.Int64("user_id", acc.TelegramID), zap.Error(err))
		return nil
	}
	h.reply(ctx, chatID, h.messages.Remaining(remaining))
	return nil
}

func (h *Handler) handleBalance(ctx context.Context, chatID int64, acc *models.Account) error {
	history, err := h.accounts.History(ctx, acc.TelegramID, recentSearchesLimit)
	if err != nil {
		h.logger.Warn("ошибка получения истории поисков", zap.Int64("user_id", acc.TelegramID), zap.Error(err))
		history = nil
	}
	h.reply(ctx, chatID, h.messages.Balance(acc, history))
	return nil
}

func (h *Handler) handleReferral(ctx context.Context, chatID int64, acc *models.Account) error {
	summary, err := h.referrals.Summary(ctx, acc)
	if err != nil {
		h.reply(ctx, chatID, h.messages.Error())
		return fmt.Errorf("ошибка получения реферальной статистики: %w", err)
	}
	h.reply(ctx, chatID, h.messages.Referral(h.referrals.Link(h.botUsername, acc), summary))
	return nil
}

func (h *Handler) handleAdmin(ctx context.Context, chatID int64, acc *models.Account) error {
	stats, err := h.accounts.Stats(ctx)
	if err != nil {
		h.reply(ctx, chatID, h.messages.Error())
		return fmt.Errorf("ошибка получения статистики: %w", err)
	}
	activity, err := h.accounts.Activity(ctx, h.now().Add(-24*time.Hour))
	if err != nil {
		h.reply(ctx, chatID, h.messages.Error())
		return fmt.Errorf("ошибка получения активности: %w", err)
	}
	top, err := h.accounts.TopReferrers(ctx, topReferrersLimit)
	if err != nil {
		h.reply(ctx, chatID, h.messages.Error())
		return fmt.Errorf("ошибка получения топа приглашений: %w", err)
	}

	h.reply(ctx, chatID, h.messages.AdminPanel(acc, stats, activity, top))
	return nil
}

func (h *Handler) handleGive(ctx context.Context, chatID int64, args string) error {
	userID, amount, ok := parseGiveArgs(args)
	if !ok {
		h.reply(ctx, chatID, h.messages.GiveUsage())
		return nil
	}

	balance, err := h.credits.Grant(ctx, userID, amount)
	if errors.Is(err, store.ErrNotFound) {
		h.reply(ctx, chatID, h.messages.GiveNotFound(userID))
		return nil
	}
	if err != nil {
		h.reply(ctx, chatID, h.messages.Error())
		return fmt.Errorf("ошибка выдачи попыток: %w", err)
	}

	h.reply(ctx, chatID, h.messages.GiveDone(userID, amount, balance))
	return nil
}

func (h *Handler) handleStats(ctx context.Context, chatID int64) error {
	stats, err := h.accounts.Stats(ctx)
	if err != nil {
		h.reply(ctx, chatID, h.messages.Error())
		return fmt.Errorf("ошибка получения статистики: %w", err)
	}
	today, err := h.accounts.Activity(ctx, startOfDay(h.now()))
	if err != nil {
		h.reply(ctx, chatID, h.messages.Error())
		return fmt.Errorf("ошибка получения активности: %w", err)
	}

	h.reply(ctx, chatID, h.messages.BotStats(stats, today))
	return nil
}

// isErrorEnvelope true, если API описало ошибку запроса в status=error
func isErrorEnvelope(result *usersbox.Result) bool {
	resp, err := usersbox.Decode(result.Payload)
	return err == nil && resp.IsError()
}

// parseGiveArgs разбирает "<user_id> <attempts>"
func parseGiveArgs(args string) (int64, int64, bool) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		return 0, 0, false
	}
	userID, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	amount, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return userID, amount, true
}
