package usersbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"usersbox-bot/internal/metrics"

	"go.uber.org/zap"
)

// ErrUnavailable API поиска не ответило: сетевая ошибка или таймаут
var ErrUnavailable = errors.New("usersbox api unavailable")

// maxBodySize ограничивает размер читаемого ответа
const maxBodySize = 10 << 20

// Result результат запроса к API поиска.
// Payload хранится как есть и пишется в журнал поисков.
type Result struct {
	StatusCode int
	Payload    json.RawMessage
	Err        error
	Duration   time.Duration
}

// Success true, если API ответило 200 без транспортной ошибки
func (r *Result) Success() bool {
	return r.Err == nil && r.StatusCode == http.StatusOK
}

// Client представляет клиент для работы с API usersbox
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewClient создает новый клиент usersbox
func NewClient(baseURL, token string, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		metrics: m,
		logger:  logger,
	}
}

// Search выполняет GET {base}/search?q=query.
// Ошибки транспорта не возвращаются отдельно, а помечают Result через Err.
func (c *Client) Search(ctx context.Context, query string) *Result {
	start := time.Now()
	result := c.search(ctx, query)
	result.Duration = time.Since(start)

	status := "success"
	switch {
	case result.Err != nil:
		status = "unavailable"
	case !result.Success():
		status = "failed"
	}
	c.metrics.RecordUsersboxRequest(status, result.Duration.Seconds())

	return result
}

func (c *Client) search(ctx context.Context, query string) *Result {
	endpoint := c.baseURL + "/search?" + url.Values{"q": []string{query}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &Result{Err: fmt.Errorf("ошибка создания запроса: %w", err)}
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("API usersbox недоступно", zap.Error(err))
		return &Result{Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		c.logger.Warn("ошибка чтения ответа usersbox", zap.Int("status_code", resp.StatusCode), zap.Error(err))
		return &Result{StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}

	result := &Result{StatusCode: resp.StatusCode, Payload: normalizePayload(body)}
	if resp.StatusCode != http.StatusOK {
		c.logger.Info("API usersbox вернуло ошибку",
			zap.Int("status_code", resp.StatusCode),
			zap.Int("body_size", len(body)))
	}
	return result
}

// normalizePayload гарантирует, что в журнал попадет корректный JSON
func normalizePayload(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(body)})
	if err != nil {
		return nil
	}
	return wrapped
}
