package bot

import (
	"sync"
	"time"
)

// RateLimiter ограничивает число сообщений от пользователя в скользящем окне
type RateLimiter struct {
	requests map[int64][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
	mutex    sync.Mutex
}

// NewRateLimiter создает новый rate limiter. limit <= 0 отключает ограничение.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[int64][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// IsAllowed проверяет, разрешен ли запрос для пользователя
func (rl *RateLimiter) IsAllowed(userID int64) bool {
	if rl.limit <= 0 {
		return true
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	userRequests := rl.requests[userID]

	// Удаляем старые запросы
	validRequests := userRequests[:0]
	for _, reqTime := range userRequests {
		if now.Sub(reqTime) < rl.window {
			validRequests = append(validRequests, reqTime)
		}
	}

	if len(validRequests) >= rl.limit {
		rl.requests[userID] = validRequests
		return false
	}

	rl.requests[userID] = append(validRequests, now)
	return true
}

// Cleanup удаляет пользователей без запросов в текущем окне
func (rl *RateLimiter) Cleanup() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	removed := 0
	for userID, times := range rl.requests {
		if len(times) == 0 || now.Sub(times[len(times)-1]) >= rl.window {
			delete(rl.requests, userID)
			removed++
		}
	}
	return removed
}
