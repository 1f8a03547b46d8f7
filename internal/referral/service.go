package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"usersbox-bot/internal/metrics"
	"usersbox-bot/internal/notify"
	"usersbox-bot/internal/store"
	"usersbox-bot/pkg/models"

	"go.uber.org/zap"
)

const (
	// Reward попыток за одного приглашенного
	Reward int64 = 1
	// CodePrefix необязательный префикс кода в параметре /start
	CodePrefix = "ref_"
)

// Summary реферальная статистика пользователя
type Summary struct {
	Code           string
	TotalReferrals int
	EarnedAttempts int64
}

// Service представляет сервис для управления реферальной системой
type Service struct {
	accounts  store.AccountRepository
	referrals store.ReferralRepository
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewService создает новый сервис рефералов
func NewService(st store.Store, notifier notify.Notifier, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		accounts:  st.Account(),
		referrals: st.Referral(),
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
	}
}

// NormalizeCode убирает пробелы и префикс ref_
func NormalizeCode(code string) string {
	return strings.TrimPrefix(strings.TrimSpace(code), CodePrefix)
}

// ApplyReferral начисляет награду владельцу кода за приглашение newUserID.
// Награда за пару (пригласивший, приглашенный) выдается не более одного раза.
// Неизвестный код, самоприглашение и повтор возвращают false без ошибки,
// ошибка возвращается только при недоступности хранилища.
func (s *Service) ApplyReferral(ctx context.Context, newUserID int64, code string) (bool, error) {
	code = NormalizeCode(code)
	if code == "" {
		return false, nil
	}

	referrer, err := s.accounts.GetByReferralCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		s.metrics.RecordReferral("unknown_code")
		s.logger.Debug("реферальный код не найден", zap.String("code", code), zap.Int64("user_id", newUserID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка поиска пригласившего: %w", err)
	}

	if referrer.TelegramID == newUserID {
		s.metrics.RecordReferral("self")
		return false, nil
	}

	exists, err := s.referrals.Exists(ctx, referrer.TelegramID, newUserID)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки приглашения: %w", err)
	}
	if exists {
		s.metrics.RecordReferral("duplicate")
		return false, nil
	}

	grant, err := s.referrals.Grant(ctx, referrer.TelegramID, newUserID, Reward)
	if errors.Is(err, store.ErrNotFound) {
		s.metrics.RecordReferral("unknown_code")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка начисления награды: %w", err)
	}
	if !grant.Granted {
		// параллельный вызов успел записать эту пару
		s.metrics.RecordReferral("duplicate")
		return false, nil
	}

	s.metrics.RecordReferral("granted")
	s.logger.Info("приглашение засчитано",
		zap.Int64("referrer_id", referrer.TelegramID),
		zap.Int64("referred_id", newUserID),
		zap.Int64("attempts", grant.Attempts))

	notify.Async(s.notifier, s.logger, referrer.TelegramID, rewardMessage(grant.TotalReferrals))

	return true, nil
}

// Link возвращает ссылку-приглашение для бота
func (s *Service) Link(botUsername string, account *models.Account) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", strings.TrimPrefix(botUsername, "@"), account.ReferralCode)
}

// Summary возвращает реферальную статистику аккаунта
func (s *Service) Summary(ctx context.Context, account *models.Account) (*Summary, error) {
	count, err := s.referrals.CountByReferrer(ctx, account.TelegramID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики приглашений: %w", err)
	}
	return &Summary{
		Code:           account.ReferralCode,
		TotalReferrals: count,
		EarnedAttempts: int64(count) * Reward,
	}, nil
}

func rewardMessage(totalReferrals int) string {
	return fmt.Sprintf("🎉 *Поздравляем!* Пользователь присоединился по вашей реферальной ссылке!\n\n"+
		"💎 Вы получили +%d попытку поиска\n"+
		"👥 Всего рефералов: %d", Reward, totalReferrals)
}
