package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"usersbox-bot/internal/config"
	"usersbox-bot/pkg/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	// ErrNotFound аккаунт или запись не найдены
	ErrNotFound = errors.New("not found")
	// ErrReferralCodeTaken сгенерированный реферальный код уже занят
	ErrReferralCodeTaken = errors.New("referral code already taken")
)

// Коды ошибок PostgreSQL
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// Store представляет интерфейс для работы с хранилищем
type Store interface {
	Account() AccountRepository
	Referral() ReferralRepository
	Search() SearchRepository
	Stats() StatsRepository
	Ping(ctx context.Context) error
	Close() error
}

// AccountRepository интерфейс для работы с аккаунтами.
// Все изменения баланса выполняются одной атомарной операцией.
type AccountRepository interface {
	// Upsert создает аккаунт или обновляет профиль и last_active существующего.
	// created=true, если аккаунт был создан этим вызовом.
	Upsert(ctx context.Context, account *models.Account) (*models.Account, bool, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.Account, error)
	GetByReferralCode(ctx context.Context, code string) (*models.Account, error)
	// AdjustBalance добавляет delta (любого знака) к балансу и возвращает новое значение
	AdjustBalance(ctx context.Context, telegramID int64, delta int64) (int64, error)
	// ConsumeAttempt списывает одну попытку, если аккаунт не администратор и баланс > 0
	ConsumeAttempt(ctx context.Context, telegramID int64) (int64, bool, error)
	IncrementReferralCount(ctx context.Context, telegramID int64) error
	List(ctx context.Context, limit int) ([]*models.Account, error)
	TopReferrers(ctx context.Context, limit int) ([]*models.Account, error)
}

// ReferralRepository интерфейс для работы с приглашениями
type ReferralRepository interface {
	Exists(ctx context.Context, referrerID, referredID int64) (bool, error)
	// Grant в одной транзакции записывает приглашение и начисляет reward пригласившему.
	// Повторная пара не является ошибкой: возвращается Granted=false.
	Grant(ctx context.Context, referrerID, referredID, reward int64) (*models.ReferralGrant, error)
	CountByReferrer(ctx context.Context, referrerID int64) (int, error)
}

// SearchRepository интерфейс для журнала поисков
type SearchRepository interface {
	Create(ctx context.Context, search *models.Search) error
	CountByUser(ctx context.Context, userID int64) (models.SearchCounts, error)
	RecentByUser(ctx context.Context, userID int64, limit int) ([]*models.Search, error)
	Recent(ctx context.Context, limit int) ([]*models.Search, error)
}

// StatsRepository агрегированные выборки
type StatsRepository interface {
	Totals(ctx context.Context) (*models.Stats, error)
	Activity(ctx context.Context, since time.Time) (*models.Activity, error)
}

// postgresStore реализует интерфейс Store поверх pgxpool
type postgresStore struct {
	db       *pgxpool.Pool
	logger   *zap.Logger
	account  AccountRepository
	referral ReferralRepository
	search   SearchRepository
	stats    StatsRepository
}

// New создает хранилище по STORE_DRIVER
func New(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("используется in-memory хранилище, данные не сохраняются между запусками")
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(cfg, logger)
	default:
		return nil, fmt.Errorf("неизвестный драйвер хранилища: %s", cfg.Database.Driver)
	}
}

// NewPostgresStore создает новое подключение к базе данных
func NewPostgresStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	// Настройка пула
	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	db, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка проверки подключения к базе данных: %w", err)
	}

	logger.Info("успешное подключение к базе данных PostgreSQL",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Name))

	return &postgresStore{
		db:       db,
		logger:   logger,
		account:  NewAccountRepository(db, logger),
		referral: NewReferralRepository(db, logger),
		search:   NewSearchRepository(db, logger),
		stats:    NewStatsRepository(db),
	}, nil
}

// Account возвращает репозиторий аккаунтов
func (s *postgresStore) Account() AccountRepository {
	return s.account
}

// Referral возвращает репозиторий приглашений
func (s *postgresStore) Referral() ReferralRepository {
	return s.referral
}

func (s *postgresStore) Search() SearchRepository {
	return s.search
}

func (s *postgresStore) Stats() StatsRepository {
	return s.stats
}

// Ping проверяет доступность базы данных
func (s *postgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close закрывает подключение к базе данных
func (s *postgresStore) Close() error {
	s.logger.Info("закрытие подключения к базе данных")
	s.db.Close()
	return nil
}

// pgErrorCode возвращает SQLSTATE и имя ограничения для ошибки PostgreSQL
func pgErrorCode(err error) (string, string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}
