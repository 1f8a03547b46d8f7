package credit

import (
	"context"
	"errors"
	"fmt"

	"usersbox-bot/internal/metrics"
	"usersbox-bot/internal/notify"
	"usersbox-bot/internal/store"

	"go.uber.org/zap"
)

// Ledger управляет списанием и начислением попыток поиска.
// Списание двухфазное: TryConsume перед запросом к API, CommitConsume
// только после успешного ответа. Неудачный поиск попытку не расходует.
type Ledger struct {
	accounts store.AccountRepository
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewLedger создает новый учет попыток
func NewLedger(st store.Store, notifier notify.Notifier, m *metrics.Metrics, logger *zap.Logger) *Ledger {
	return &Ledger{
		accounts: st.Account(),
		notifier: notifier,
		metrics:  m,
		logger:   logger,
	}
}

// TryConsume проверяет, может ли пользователь выполнить поиск. Баланс не меняется.
func (l *Ledger) TryConsume(ctx context.Context, userID int64) (bool, error) {
	account, err := l.accounts.GetByTelegramID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка проверки баланса: %w", err)
	}
	return account.HasAttempts(), nil
}

// CommitConsume списывает одну попытку после успешного поиска.
// Для администратора баланс не меняется.
func (l *Ledger) CommitConsume(ctx context.Context, userID int64) (int64, error) {
	remaining, consumed, err := l.accounts.ConsumeAttempt(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("ошибка списания попытки: %w", err)
	}
	if consumed {
		l.metrics.RecordConsume()
		l.logger.Debug("попытка списана",
			zap.Int64("user_id", userID),
			zap.Int64("remaining", remaining))
	}
	return remaining, nil
}

// Grant начисляет amount попыток (любого знака) и уведомляет пользователя.
// Для неизвестного пользователя возвращает store.ErrNotFound.
func (l *Ledger) Grant(ctx context.Context, userID int64, amount int64) (int64, error) {
	balance, err := l.accounts.AdjustBalance(ctx, userID, amount)
	if errors.Is(err, store.ErrNotFound) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("ошибка начисления попыток: %w", err)
	}

	l.metrics.RecordGrant(amount)
	l.logger.Info("попытки начислены",
		zap.Int64("user_id", userID),
		zap.Int64("amount", amount),
		zap.Int64("balance", balance))

	notify.Async(l.notifier, l.logger, userID, GrantMessage(amount))

	return balance, nil
}

// GrantMessage текст уведомления о начислении
func GrantMessage(amount int64) string {
	return fmt.Sprintf("🎁 *Вам выданы попытки!*\n\n💎 Получено попыток: %d\nМожете продолжать поиск!", amount)
}
