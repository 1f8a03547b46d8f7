package bot

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"usersbox-bot/internal/usersbox"
)

const (
	maxSources        = 5
	maxItemsPerSource = 2
	maxFieldLength    = 100
)

// fieldLabels подписи для известных полей записи
var fieldLabels = map[string]string{
	"phone":         "📞 Телефон",
	"телефон":       "📞 Телефон",
	"tel":           "📞 Телефон",
	"email":         "📧 Email",
	"почта":         "📧 Email",
	"mail":          "📧 Email",
	"full_name":     "👤 Имя",
	"name":          "👤 Имя",
	"имя":           "👤 Имя",
	"фио":           "👤 Имя",
	"birth_date":    "🎂 Дата рождения",
	"birthday":      "🎂 Дата рождения",
	"дата_рождения": "🎂 Дата рождения",
	"address":       "🏠 Адрес",
	"адрес":         "🏠 Адрес",
}

// FormatResults краткая сводка ответа API для чата
func FormatResults(query string, payload json.RawMessage) string {
	resp, err := usersbox.Decode(payload)
	if err != nil {
		return "❌ *Ошибка поиска:* не удалось разобрать ответ сервиса"
	}
	if resp.IsError() {
		return "❌ *Ошибка поиска:* " + resp.ErrorMessage()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔍 *Поиск по запросу:* `%s`\n\n", query)
	if resp.Data.Count == 0 {
		b.WriteString("❌ *Результатов не найдено*")
		return b.String()
	}

	fmt.Fprintf(&b, "📊 *Всего найдено:* %d записей\n\n", resp.Data.Count)
	for i, src := range resp.Data.Items {
		if i == maxSources {
			fmt.Fprintf(&b, "… и еще источников: %d\n", len(resp.Data.Items)-maxSources)
			break
		}
		fmt.Fprintf(&b, "*%d. %s / %s*: %d\n", i+1, orNA(src.Source.Database), orNA(src.Source.Collection), src.Hits.Total())
		for j, item := range src.Hits.Items {
			if j == maxItemsPerSource {
				break
			}
			b.WriteString(formatItem(item))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatItem(item map[string]any) string {
	keys := make([]string, 0, len(item))
	for k := range item {
		if !strings.HasPrefix(k, "_") {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		value, ok := formatValue(item[k])
		if !ok {
			continue
		}
		label, known := fieldLabels[strings.ToLower(k)]
		if !known {
			label = "• " + k
		}
		fmt.Fprintf(&b, "   %s: `%s`\n", label, value)
	}
	return b.String()
}

// formatValue возвращает скалярное значение или склеенный адрес
func formatValue(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		if val == "" || utf8.RuneCountInString(val) >= maxFieldLength {
			return "", false
		}
		return strings.ReplaceAll(val, "`", "'"), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			if s, ok := formatValue(val[k]); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, ", "), true
	default:
		return "", false
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
