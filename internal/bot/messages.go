package bot

import (
	"fmt"
	"strings"
	"time"

	"usersbox-bot/internal/account"
	"usersbox-bot/internal/referral"
	"usersbox-bot/pkg/models"
)

// Messages содержит тексты сообщений бота
type Messages struct{}

// NewMessages создает набор сообщений
func NewMessages() *Messages {
	return &Messages{}
}

func (m *Messages) Welcome(acc *models.Account, referralBonus bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👋 *Добро пожаловать, %s!*\n\n", acc.DisplayName())
	b.WriteString("🔍 *USERSBOX SEARCH BOT*\n")
	b.WriteString("Поиск по базам данных: телефон, email, имя.\n\n")

	b.WriteString("📈 *Ваш статус*\n")
	fmt.Fprintf(&b, "💎 Попыток поиска: `%s`\n", m.attempts(acc))
	fmt.Fprintf(&b, "👥 Приглашено друзей: `%d`\n", acc.TotalReferrals)
	fmt.Fprintf(&b, "📅 Дата регистрации: `%s`\n", acc.CreatedAt.Format("02.01.2006"))

	if referralBonus {
		b.WriteString("\n🎉 Вы пришли по приглашению, пригласивший получил бонусную попытку!\n")
	}

	b.WriteString("\n")
	b.WriteString(m.commands(acc.IsAdmin))
	b.WriteString("\n💡 Просто отправьте текст для поиска, например `+79123456789` или `ivan@mail.ru`.\n")
	fmt.Fprintf(&b, "🎁 За каждого приглашенного друга: *+%d попытка*", referral.Reward)
	return b.String()
}

func (m *Messages) Help(isAdmin bool) string {
	var b strings.Builder
	b.WriteString("📖 *Справка*\n\n")
	b.WriteString(m.commands(isAdmin))
	b.WriteString("\n*Как получить попытки:*\n")
	b.WriteString("1. Получите ссылку командой /referral\n")
	b.WriteString("2. Отправьте ее друзьям\n")
	fmt.Fprintf(&b, "3. За каждого нового пользователя вы получите +%d попытку\n\n", referral.Reward)
	b.WriteString("Попытка списывается только за успешный поиск.")
	return b.String()
}

func (m *Messages) commands(isAdmin bool) string {
	var b strings.Builder
	b.WriteString("🎮 *Команды*\n")
	b.WriteString("🔍 `/search [запрос]` - поиск информации\n")
	b.WriteString("💰 `/balance` - баланс и история\n")
	b.WriteString("🔗 `/referral` - реферальная ссылка\n")
	b.WriteString("📖 `/help` - справка\n")
	if isAdmin {
		b.WriteString("\n🔧 *Администратор*\n")
		b.WriteString("👑 `/admin` - панель администратора\n")
		b.WriteString("💎 `/give [ID] [попытки]` - выдать попытки\n")
		b.WriteString("📊 `/stats` - статистика бота\n")
	}
	return b.String()
}

func (m *Messages) attempts(acc *models.Account) string {
	if acc.IsAdmin {
		return "∞"
	}
	return fmt.Sprintf("%d", acc.AttemptsRemaining)
}

func (m *Messages) SearchUsage() string {
	return "❌ *Ошибка:* Укажите запрос для поиска\n\n*Пример:* `/search +79123456789`\nили просто отправьте: `+79123456789`"
}

func (m *Messages) Searching() string {
	return "🔍 *Выполняю поиск...* Подождите немного."
}

func (m *Messages) OutOfAttempts() string {
	return "❌ У вас закончились попытки поиска!\n\n🔗 Пригласите друзей по реферальной ссылке, чтобы получить больше попыток.\nИспользуйте /referral для получения ссылки."
}

func (m *Messages) Unavailable() string {
	return "❌ *Ошибка при выполнении поиска*\n\nСервис временно недоступен. Попробуйте позже. Попытка не списана."
}

func (m *Messages) Remaining(remaining int64) string {
	if remaining > 0 {
		return fmt.Sprintf("💎 *Осталось попыток:* %d", remaining)
	}
	return "❌ Попытки закончились!\n\n🔗 Получите больше попыток, пригласив друзей: /referral"
}

func (m *Messages) Balance(acc *models.Account, history *account.History) string {
	var b strings.Builder
	b.WriteString("💰 *Ваш баланс и статистика*\n\n")
	fmt.Fprintf(&b, "💎 Попыток: `%s`\n", m.attempts(acc))
	fmt.Fprintf(&b, "👥 Приглашено друзей: `%d`\n", acc.TotalReferrals)
	if history != nil {
		fmt.Fprintf(&b, "🔍 Всего поисков: `%d`\n", history.Counts.Total)
		fmt.Fprintf(&b, "✅ Успешных: `%d`\n", history.Counts.Successful)
		if history.Counts.Total > 0 {
			fmt.Fprintf(&b, "📈 Успешность: `%.1f%%`\n", history.Counts.SuccessRate())
		}
		if len(history.Recent) > 0 {
			b.WriteString("\n🕐 *Последние поиски:*\n")
			for _, s := range history.Recent {
				mark := "✅"
				if !s.Success {
					mark = "❌"
				}
				fmt.Fprintf(&b, "%s `%s` %s\n", mark, truncate(s.Query, 30), s.CreatedAt.Format("02.01 15:04"))
			}
		}
	}
	return b.String()
}

func (m *Messages) Referral(link string, summary *referral.Summary) string {
	var b strings.Builder
	b.WriteString("🔗 *Ваша реферальная ссылка*\n\n")
	fmt.Fprintf(&b, "`%s`\n\n", link)
	fmt.Fprintf(&b, "🔑 Код: `%s`\n", summary.Code)
	fmt.Fprintf(&b, "👥 Приглашено друзей: `%d`\n", summary.TotalReferrals)
	fmt.Fprintf(&b, "💎 Заработано попыток: `%d`\n\n", summary.EarnedAttempts)
	fmt.Fprintf(&b, "🎁 За каждого нового пользователя по ссылке: *+%d попытка*", referral.Reward)
	return b.String()
}

func (m *Messages) AdminPanel(acc *models.Account, stats *models.Stats, activity *models.Activity, top []*models.Account) string {
	var b strings.Builder
	b.WriteString("👑 *Админ панель*\n\n")
	b.WriteString(m.statsBlock(stats))

	b.WriteString("\n📈 *Активность (24ч)*\n")
	fmt.Fprintf(&b, "🆕 Новых пользователей: `%d`\n", activity.NewAccounts)
	fmt.Fprintf(&b, "🔍 Поисков: `%d`\n", activity.Searches)

	if len(top) > 0 {
		b.WriteString("\n🏆 *Топ по приглашениям*\n")
		for i, a := range top {
			fmt.Fprintf(&b, "%d. %s (`%d`) - %d\n", i+1, a.DisplayName(), a.TelegramID, a.TotalReferrals)
		}
	}

	b.WriteString("\n🔧 *Ваш аккаунт*\n")
	fmt.Fprintf(&b, "🆔 ID: `%d`\n", acc.TelegramID)
	fmt.Fprintf(&b, "🔑 Код: `%s`\n", acc.ReferralCode)
	return b.String()
}

func (m *Messages) BotStats(stats *models.Stats, today *models.Activity) string {
	var b strings.Builder
	b.WriteString("📊 *Статистика бота*\n\n")
	b.WriteString(m.statsBlock(stats))
	b.WriteString("\n📈 *За сегодня:*\n")
	fmt.Fprintf(&b, "• Новых пользователей: %d\n", today.NewAccounts)
	fmt.Fprintf(&b, "• Поисков: %d\n", today.Searches)
	return b.String()
}

func (m *Messages) statsBlock(stats *models.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👥 Всего пользователей: `%d`\n", stats.TotalUsers)
	fmt.Fprintf(&b, "🔍 Всего поисков: `%d`\n", stats.TotalSearches)
	fmt.Fprintf(&b, "✅ Успешных поисков: `%d`\n", stats.SuccessfulSearches)
	fmt.Fprintf(&b, "🔗 Всего рефералов: `%d`\n", stats.TotalReferrals)
	if stats.TotalSearches > 0 {
		fmt.Fprintf(&b, "📊 Успешность: `%.1f%%`\n", stats.SuccessRate)
	}
	return b.String()
}

func (m *Messages) GiveUsage() string {
	return "*Использование:* `/give [user_id] [attempts]`\n*Пример:* `/give 123456789 10`"
}

func (m *Messages) GiveNotFound(userID int64) string {
	return fmt.Sprintf("❌ Пользователь с ID %d не найден", userID)
}

func (m *Messages) GiveDone(userID, amount, balance int64) string {
	return fmt.Sprintf("✅ Пользователю %d выдано %d попыток\n💎 Текущий баланс: %d", userID, amount, balance)
}

func (m *Messages) UnknownCommand() string {
	return "❓ Неизвестная команда. Используйте /help"
}

func (m *Messages) TooManyRequests() string {
	return "⚠️ Слишком много запросов. Подождите минуту."
}

func (m *Messages) Error() string {
	return "❌ Произошла ошибка. Попробуйте еще раз позже."
}

// startOfDay начало текущих суток в UTC
func startOfDay(now time.Time) time.Time {
	y, mo, d := now.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
