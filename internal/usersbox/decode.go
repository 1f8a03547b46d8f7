package usersbox

import (
	"encoding/json"
	"fmt"
)

// Response ответ /search
type Response struct {
	Status string    `json:"status"`
	Error  *APIError `json:"error,omitempty"`
	Data   Data      `json:"data"`
}

// APIError описание ошибки от API
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Data struct {
	Count int          `json:"count"`
	Items []SourceHits `json:"items"`
}

// SourceHits найденные записи в одном источнике
type SourceHits struct {
	Source Source `json:"source"`
	Hits   Hits   `json:"hits"`
}

type Source struct {
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

type Hits struct {
	HitsCount int              `json:"hitsCount"`
	Count     int              `json:"count"`
	Items     []map[string]any `json:"items"`
}

// Total количество записей в источнике
func (h Hits) Total() int {
	if h.HitsCount > 0 {
		return h.HitsCount
	}
	return h.Count
}

// IsError true, если API вернуло status=error
func (r *Response) IsError() bool {
	return r.Status == "error"
}

// ErrorMessage текст ошибки для пользователя
func (r *Response) ErrorMessage() string {
	if r.Error != nil && r.Error.Message != "" {
		return r.Error.Message
	}
	return "Неизвестная ошибка"
}

// Decode разбирает ответ API
func Decode(payload json.RawMessage) (*Response, error) {
	var resp Response
	if len(payload) == 0 {
		return &resp, nil
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("ошибка разбора ответа usersbox: %w", err)
	}
	return &resp, nil
}
