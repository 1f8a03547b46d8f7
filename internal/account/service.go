package account

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"usersbox-bot/internal/store"
	"usersbox-bot/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxCodeAttempts сколько раз генерируется новый код при коллизии
const maxCodeAttempts = 5

// ReferralCodeLength длина реферального кода в hex-символах
const ReferralCodeLength = 8

// AdminMatcher определяет администраторов по конфигурации
type AdminMatcher interface {
	IsAdmin(telegramID int64, username string) bool
}

// History статистика поисков пользователя
type History struct {
	Counts models.SearchCounts
	Recent []*models.Search
}

// Service представляет сервис для работы с аккаунтами
type Service struct {
	store  store.Store
	admins AdminMatcher
	logger *zap.Logger
}

// NewService создает новый сервис аккаунтов
func NewService(store store.Store, admins AdminMatcher, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		admins: admins,
		logger: logger,
	}
}

// GenerateReferralCode создает код из Telegram ID и случайного nonce
func GenerateReferralCode(telegramID int64) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%d_%s", telegramID, uuid.NewString())))
	return hex.EncodeToString(sum[:])[:ReferralCodeLength]
}

// GetOrCreate возвращает аккаунт пользователя, создавая его при первом обращении.
// Для существующего аккаунта обновляются имя и last_active. Флаг администратора
// и стартовый баланс назначаются только при создании.
func (s *Service) GetOrCreate(ctx context.Context, telegramID int64, profile models.Profile) (*models.Account, bool, error) {
	isAdmin := s.admins != nil && s.admins.IsAdmin(telegramID, profile.Username)
	attempts := models.DefaultAttempts
	if isAdmin {
		attempts = models.AdminAttempts
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		candidate := &models.Account{
			TelegramID:        telegramID,
			Username:          profile.Username,
			FirstName:         profile.FirstName,
			LastName:          profile.LastName,
			AttemptsRemaining: attempts,
			ReferralCode:      GenerateReferralCode(telegramID),
			IsAdmin:           isAdmin,
		}

		account, created, err := s.store.Account().Upsert(ctx, candidate)
		if errors.Is(err, store.ErrReferralCodeTaken) {
			s.logger.Warn("сгенерированный код уже существует, пробуем снова",
				zap.Int64("telegram_id", telegramID),
				zap.String("code", candidate.ReferralCode),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("ошибка получения аккаунта: %w", err)
		}

		if created {
			s.logger.Info("создан новый аккаунт",
				zap.Int64("telegram_id", telegramID),
				zap.String("username", profile.Username),
				zap.Bool("is_admin", isAdmin))
		}
		return account, created, nil
	}

	return nil, false, fmt.Errorf("не удалось сгенерировать уникальный реферальный код после %d попыток", maxCodeAttempts)
}

// Get получает аккаунт по Telegram ID
func (s *Service) Get(ctx context.Context, telegramID int64) (*models.Account, error) {
	return s.store.Account().GetByTelegramID(ctx, telegramID)
}

// List возвращает аккаунты для админки
func (s *Service) List(ctx context.Context, limit int) ([]*models.Account, error) {
	return s.store.Account().List(ctx, limit)
}

// TopReferrers возвращает лучших по приглашениям
func (s *Service) TopReferrers(ctx context.Context, limit int) ([]*models.Account, error) {
	return s.store.Account().TopReferrers(ctx, limit)
}

// Stats возвращает агрегированную статистику
func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	stats, err := s.store.Stats().Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статистики: %w", err)
	}
	return stats, nil
}

// Activity возвращает активность начиная с since
func (s *Service) Activity(ctx context.Context, since time.Time) (*models.Activity, error) {
	activity, err := s.store.Stats().Activity(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения активности: %w", err)
	}
	return activity, nil
}

// History возвращает счетчики и последние поиски пользователя
func (s *Service) History(ctx context.Context, telegramID int64, limit int) (*History, error) {
	counts, err := s.store.Search().CountByUser(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	recent, err := s.store.Search().RecentByUser(ctx, telegramID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	return &History{Counts: counts, Recent: recent}, nil
}

// RecentSearches возвращает последние поиски всех пользователей
func (s *Service) RecentSearches(ctx context.Context, limit int) ([]*models.Search, error) {
	return s.store.Search().Recent(ctx, limit)
}

// RecordSearch записывает попытку поиска в журнал
func (s *Service) RecordSearch(ctx context.Context, search *models.Search) error {
	if err := s.store.Search().Create(ctx, search); err != nil {
		return fmt.Errorf("ошибка записи поиска: %w", err)
	}
	return nil
}
