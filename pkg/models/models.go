package models

import (
	"encoding/json"
	"time"
)

// AdminAttempts записывается администратору при создании аккаунта.
// Проверки баланса для администратора не используют это значение: доступ дает флаг IsAdmin.
const AdminAttempts int64 = 999

// DefaultAttempts стартовое количество попыток обычного пользователя
const DefaultAttempts int64 = 1

// Account представляет аккаунт пользователя бота
type Account struct {
	TelegramID        int64     `json:"telegram_id" db:"telegram_id"`
	Username          string    `json:"username" db:"username"`
	FirstName         string    `json:"first_name" db:"first_name"`
	LastName          string    `json:"last_name" db:"last_name"`
	AttemptsRemaining int64     `json:"attempts_remaining" db:"attempts_remaining"`
	ReferralCode      string    `json:"referral_code" db:"referral_code"` // Уникальный неизменяемый код
	ReferredBy        *int64    `json:"referred_by" db:"referred_by"`     // Кто пригласил, устанавливается один раз
	TotalReferrals    int       `json:"total_referrals" db:"total_referrals"`
	IsAdmin           bool      `json:"is_admin" db:"is_admin"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	LastActive        time.Time `json:"last_active" db:"last_active"`
}

// HasAttempts проверяет, может ли аккаунт выполнить поиск
func (a *Account) HasAttempts() bool {
	return a.IsAdmin || a.AttemptsRemaining > 0
}

// DisplayName возвращает имя для сообщений
func (a *Account) DisplayName() string {
	if a.FirstName != "" {
		return a.FirstName
	}
	if a.Username != "" {
		return a.Username
	}
	return "пользователь"
}

// Profile содержит изменяемые поля профиля из Telegram
type Profile struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Referral представляет запись о приглашении. Не изменяется после создания.
type Referral struct {
	ID         int64     `json:"id" db:"id"`
	ReferrerID int64     `json:"referrer_id" db:"referrer_id"`
	ReferredID int64     `json:"referred_id" db:"referred_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// ReferralGrant результат попытки начислить награду за приглашение
type ReferralGrant struct {
	Granted        bool  `json:"granted"`
	ReferrerID     int64 `json:"referrer_id"`
	TotalReferrals int   `json:"total_referrals"` // значение у пригласившего после начисления
	Attempts       int64 `json:"attempts"`
}

// Search представляет запись аудита поиска
type Search struct {
	ID          int64           `json:"id" db:"id"`
	UserID      int64           `json:"user_id" db:"user_id"`
	Query       string          `json:"query" db:"query"`
	Results     json.RawMessage `json:"results" db:"results"` // ответ API как есть
	StatusCode  int             `json:"status_code" db:"status_code"`
	Success     bool            `json:"success" db:"success"`
	AttemptUsed bool            `json:"attempt_used" db:"attempt_used"`
	CreatedAt   time.Time       `json:"timestamp" db:"created_at"`
}

// SearchCounts статистика поисков одного пользователя
type SearchCounts struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
}

// SuccessRate процент успешных поисков
func (c SearchCounts) SuccessRate() float64 {
	return successRate(c.Successful, c.Total)
}

// Stats агрегированная статистика бота
type Stats struct {
	TotalUsers         int     `json:"total_users"`
	TotalSearches      int     `json:"total_searches"`
	TotalReferrals     int     `json:"total_referrals"`
	SuccessfulSearches int     `json:"successful_searches"`
	SuccessRate        float64 `json:"success_rate"`
}

// Activity активность за период
type Activity struct {
	Since       time.Time `json:"since"`
	NewAccounts int       `json:"new_accounts"`
	Searches    int       `json:"searches"`
}

// NewStats собирает Stats и считает процент успешных поисков
func NewStats(users, searches, referrals, successful int) *Stats {
	return &Stats{
		TotalUsers:         users,
		TotalSearches:      searches,
		TotalReferrals:     referrals,
		SuccessfulSearches: successful,
		SuccessRate:        successRate(successful, searches),
	}
}

func successRate(successful, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(successful) / float64(total) * 100
}
