package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"usersbox-bot/internal/account"
	"usersbox-bot/internal/credit"
	"usersbox-bot/internal/store"
	"usersbox-bot/internal/usersbox"

	"go.uber.org/zap"
)

const (
	usersLimit    = 1000
	searchesLimit = 100

	invalidQueryMessage = "Invalid search query format. Please use phone numbers (+79123456789), emails, or names."
)

// ErrInvalidInput неверные параметры запроса
var ErrInvalidInput = errors.New("invalid input")

// Searcher выполняет запрос к API поиска
type Searcher interface {
	Search(ctx context.Context, query string) *usersbox.Result
}

// Handler административный HTTP API
type Handler struct {
	accounts *account.Service
	credits  *credit.Ledger
	searcher Searcher
	token    string
	logger   *zap.Logger
}

// NewHandler создает обработчик. Пустой token отключает проверку X-Admin-Token.
func NewHandler(accounts *account.Service, credits *credit.Ledger, searcher Searcher, token string, logger *zap.Logger) *Handler {
	return &Handler{
		accounts: accounts,
		credits:  credits,
		searcher: searcher,
		token:    token,
		logger:   logger,
	}
}

// Register добавляет маршруты /api в mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/{$}", h.handleRoot)
	mux.HandleFunc("POST /api/search", h.requireToken(h.handleSearch))
	mux.HandleFunc("GET /api/users", h.requireToken(h.handleUsers))
	mux.HandleFunc("GET /api/searches", h.requireToken(h.handleSearches))
	mux.HandleFunc("POST /api/give-attempts", h.requireToken(h.handleGiveAttempts))
	mux.HandleFunc("GET /api/stats", h.requireToken(h.handleStats))
}

func (h *Handler) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Admin-Token")), []byte(h.token)) != 1 {
			h.logger.Warn("неверный токен администратора",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr))
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Usersbox Telegram Bot API",
		"status":  "running",
	})
}

// handleSearch проксирует запрос в API поиска без записи в журнал
func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	result := h.searcher.Search(r.Context(), query)
	switch {
	case result.Err != nil:
		h.logger.Error("ошибка запроса к API поиска", zap.Error(result.Err))
		writeError(w, http.StatusBadGateway, fmt.Sprintf("API request failed: %v", result.Err))
	case result.StatusCode == http.StatusBadRequest:
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "error",
			"error": map[string]string{
				"code":    "INVALID_QUERY",
				"message": invalidQueryMessage,
			},
		})
	case !result.Success():
		writeError(w, http.StatusBadGateway, fmt.Sprintf("API request failed: status %d", result.StatusCode))
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if len(result.Payload) == 0 {
			_, _ = w.Write([]byte("{}"))
			return
		}
		_, _ = w.Write(result.Payload)
	}
}

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context(), usersLimit)
	if err != nil {
		h.internalError(w, "ошибка получения пользователей", err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *Handler) handleSearches(w http.ResponseWriter, r *http.Request) {
	searches, err := h.accounts.RecentSearches(r.Context(), searchesLimit)
	if err != nil {
		h.internalError(w, "ошибка получения истории поисков", err)
		return
	}
	writeJSON(w, http.StatusOK, searches)
}

func (h *Handler) handleGiveAttempts(w http.ResponseWriter, r *http.Request) {
	userID, attempts, err := parseGiveParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.credits.Grant(r.Context(), userID, attempts); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		h.internalError(w, "ошибка выдачи попыток", err)
		return
	}

	h.logger.Info("попытки выданы через API", zap.Int64("user_id", userID), zap.Int64("attempts", attempts))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("Gave %d attempts to user %d", attempts, userID),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.accounts.Stats(r.Context())
	if err != nil {
		h.internalError(w, "ошибка получения статистики", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func parseGiveParams(r *http.Request) (int64, int64, error) {
	q := r.URL.Query()
	userID, err := strconv.ParseInt(q.Get("user_id"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: user_id", ErrInvalidInput)
	}
	attempts, err := strconv.ParseInt(q.Get("attempts"), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: attempts", ErrInvalidInput)
	}
	return userID, attempts, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
