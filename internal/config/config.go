package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config содержит все конфигурационные параметры приложения
type Config struct {
	Telegram TelegramConfig
	Usersbox UsersboxConfig
	Database DatabaseConfig
	Admin    AdminConfig
	App      AppConfig
}

// TelegramConfig содержит настройки Telegram бота
type TelegramConfig struct {
	BotToken      string
	BotUsername   string // для реферальной ссылки, если пусто берется из getMe
	Mode          string // webhook, polling
	WebhookURL    string
	WebhookSecret string
	MaxInflight   int
	SendTimeout   time.Duration
}

// UsersboxConfig содержит настройки API поиска
type UsersboxConfig struct {
	Token   string
	BaseURL string
	Timeout time.Duration
}

type DatabaseConfig struct {
	Driver        string // postgres, memory
	Host          string
	Port          int
	User          string
	Password      string
	Name          string
	SSLMode       string
	MigrationPath string
	MaxConns      int32
	MinConns      int32
}

// AdminConfig содержит список администраторов
type AdminConfig struct {
	Usernames []string
	IDs       []int64
	APIToken  string // токен для HTTP API, пустой отключает проверку
}

type AppConfig struct {
	Env                  string
	LogLevel             string
	Port                 int
	RateLimitRequests    int
	RateLimitWindow      time.Duration
	StatsRefreshInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения и .env
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Telegram
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.Telegram.BotUsername = strings.TrimPrefix(os.Getenv("TELEGRAM_BOT_USERNAME"), "@")
	cfg.Telegram.Mode = getEnvDefault("TELEGRAM_MODE", "webhook")
	cfg.Telegram.WebhookURL = os.Getenv("TELEGRAM_WEBHOOK_URL")
	cfg.Telegram.WebhookSecret = os.Getenv("WEBHOOK_SECRET")
	cfg.Telegram.MaxInflight = getEnvIntDefault("TELEGRAM_MAX_INFLIGHT", 64)
	cfg.Telegram.SendTimeout = getEnvDurationDefault("TELEGRAM_SEND_TIMEOUT", 10*time.Second)

	// Usersbox
	cfg.Usersbox.Token = os.Getenv("USERSBOX_TOKEN")
	cfg.Usersbox.BaseURL = strings.TrimRight(getEnvDefault("USERSBOX_BASE_URL", "https://api.usersbox.ru/v1"), "/")
	cfg.Usersbox.Timeout = getEnvDurationDefault("USERSBOX_TIMEOUT", 30*time.Second)

	// Database
	cfg.Database.Driver = getEnvDefault("STORE_DRIVER", "postgres")
	cfg.Database.Host = getEnvDefault("DB_HOST", "localhost")
	cfg.Database.Port = getEnvIntDefault("DB_PORT", 5432)
	cfg.Database.User = os.Getenv("DB_USER")
	cfg.Database.Password = os.Getenv("DB_PASSWORD")
	cfg.Database.Name = getEnvDefault("DB_NAME", "usersbox_bot")
	cfg.Database.SSLMode = getEnvDefault("DB_SSL_MODE", "disable")
	cfg.Database.MigrationPath = getEnvDefault("MIGRATION_PATH", "scripts/migrations")
	cfg.Database.MaxConns = int32(getEnvIntDefault("DB_MAX_CONNS", 10))
	cfg.Database.MinConns = int32(getEnvIntDefault("DB_MIN_CONNS", 2))

	// Admin
	cfg.Admin.Usernames = parseCSV(os.Getenv("ADMIN_USERNAME"))
	ids, err := parseInt64CSV(os.Getenv("ADMIN_IDS"))
	if err != nil {
		return nil, fmt.Errorf("ADMIN_IDS: %w", err)
	}
	cfg.Admin.IDs = ids
	cfg.Admin.APIToken = os.Getenv("ADMIN_API_TOKEN")

	// App
	cfg.App.Env = getEnvDefault("APP_ENV", "development")
	cfg.App.LogLevel = getEnvDefault("LOG_LEVEL", "info")
	cfg.App.Port = getEnvIntDefault("APP_PORT", 8001)
	cfg.App.RateLimitRequests = getEnvIntDefault("RATE_LIMIT_REQUESTS", 20)
	cfg.App.RateLimitWindow = getEnvDurationDefault("RATE_LIMIT_WINDOW", time.Minute)
	cfg.App.StatsRefreshInterval = getEnvDurationDefault("STATS_REFRESH_INTERVAL", 5*time.Minute)

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("ошибка валидации конфигурации: %w", err)
	}

	return cfg, nil
}

func getEnvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func parseCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimPrefix(strings.TrimSpace(p), "@")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64CSV(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad int64 %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// validateConfig проверяет корректность конфигурации
func validateConfig(config *Config) error {
	if config.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_TOKEN не установлен")
	}
	switch config.Telegram.Mode {
	case "webhook":
		if config.Telegram.WebhookSecret == "" {
			return fmt.Errorf("WEBHOOK_SECRET не установлен")
		}
	case "polling":
	default:
		return fmt.Errorf("поддерживаются только TELEGRAM_MODE: webhook, polling")
	}
	if config.Telegram.MaxInflight <= 0 {
		return fmt.Errorf("TELEGRAM_MAX_INFLIGHT должен быть > 0")
	}
	if config.Usersbox.Token == "" {
		return fmt.Errorf("USERSBOX_TOKEN не установлен")
	}
	if config.Usersbox.Timeout <= 0 {
		return fmt.Errorf("USERSBOX_TIMEOUT должен быть > 0")
	}
	switch config.Database.Driver {
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("DB_HOST не установлен")
		}
		if config.Database.User == "" {
			return fmt.Errorf("DB_USER не установлен")
		}
		if config.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD не установлен")
		}
		if config.Database.Name == "" {
			return fmt.Errorf("DB_NAME не установлен")
		}
		if config.Database.MaxConns <= 0 || config.Database.MinConns < 0 || config.Database.MinConns > config.Database.MaxConns {
			return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
		}
	case "memory":
	default:
		return fmt.Errorf("поддерживаются только STORE_DRIVER: postgres, memory")
	}

	return nil
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// IsAdmin проверяет, входит ли пользователь в список администраторов
func (c *AdminConfig) IsAdmin(telegramID int64, username string) bool {
	for _, id := range c.IDs {
		if id == telegramID {
			return true
		}
	}
	if username == "" {
		return false
	}
	for _, u := range c.Usernames {
		if strings.EqualFold(u, username) {
			return true
		}
	}
	return false
}

// IsDevelopment проверяет, запущено ли приложение в режиме разработки
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction проверяет, запущено ли приложение в продакшн режиме
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// GetLogLevel возвращает уровень логирования в формате zap
func (c *AppConfig) GetLogLevel() zap.AtomicLevel {
	switch c.LogLevel {
	case "debug":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
