package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"usersbox-bot/internal/account"
	"usersbox-bot/internal/config"
	"usersbox-bot/internal/credit"
	"usersbox-bot/internal/referral"
	"usersbox-bot/internal/store"
	"usersbox-bot/internal/usersbox"
	"usersbox-bot/pkg/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const adminID int64 = 100

const successPayload = `{"status":"success","data":{"count":1,"items":[{"source":{"database":"db","collection":"phones"},"hits":{"hitsCount":1,"items":[{"phone":"79123456789","name":"Иван"}]}}]}}`

type sentMessage struct {
	chatID int64
	text   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *recordingNotifier) Notify(_ context.Context, chatID int64, text string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{chatID: chatID, text: text})
	return true
}

func (n *recordingNotifier) texts(chatID int64) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.sent {
		if m.chatID == chatID {
			out = append(out, m.text)
		}
	}
	return out
}

func (n *recordingNotifier) last(chatID int64) string {
	texts := n.texts(chatID)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (n *recordingNotifier) contains(chatID int64, substr string) bool {
	for _, text := range n.texts(chatID) {
		if strings.Contains(text, substr) {
			return true
		}
	}
	return false
}

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	result  *usersbox.Result
}

func (s *fakeSearcher) Search(_ context.Context, query string) *usersbox.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	r := *s.result
	return &r
}

func (s *fakeSearcher) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

type testBot struct {
	handler  *Handler
	store    *store.MemoryStore
	notifier *recordingNotifier
	searcher *fakeSearcher
}

func newTestBot(t *testing.T, rateLimit int) *testBot {
	t.Helper()
	logger := zap.NewNop()
	st := store.NewMemoryStore()
	n := &recordingNotifier{}
	s := &fakeSearcher{result: &usersbox.Result{StatusCode: 200, Payload: json.RawMessage(successPayload)}}

	accounts := account.NewService(st, &config.AdminConfig{IDs: []int64{adminID}}, logger)
	h := NewHandler(
		accounts,
		referral.NewService(st, n, nil, logger),
		credit.NewLedger(st, n, nil, logger),
		s,
		n,
		nil,
		logger,
		Options{BotUsername: "usersbox_test_bot", RateLimitRequests: rateLimit, RateLimitWindow: time.Minute},
	)
	return &testBot{handler: h, store: st, notifier: n, searcher: s}
}

func (b *testBot) send(t *testing.T, userID int64, text string) {
	t.Helper()
	update := tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: userID},
			From: &tgbotapi.User{ID: userID, UserName: fmt.Sprintf("user%d", userID), FirstName: "Test"},
			Text: text,
		},
	}
	require.NoError(t, b.handler.HandleUpdate(context.Background(), update))
}

func (b *testBot) account(t *testing.T, userID int64) *models.Account {
	t.Helper()
	acc, err := b.store.Account().GetByTelegramID(context.Background(), userID)
	require.NoError(t, err)
	return acc
}

func TestHandleUpdateIgnoresEmpty(t *testing.T) {
	b := newTestBot(t, 0)

	require.NoError(t, b.handler.HandleUpdate(context.Background(), tgbotapi.Update{UpdateID: 1}))
	require.NoError(t, b.handler.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{Text: "hi"}}))

	stats, err := b.store.Stats().Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalUsers)
}

func TestStartCreatesAccount(t *testing.T) {
	b := newTestBot(t, 0)

	b.send(t, 1, "/start")

	acc := b.account(t, 1)
	assert.Equal(t, models.DefaultAttempts, acc.AttemptsRemaining)
	assert.Contains(t, b.notifier.last(1), "Добро пожаловать")
	assert.NotContains(t, b.notifier.last(1), "по приглашению")
}

func TestStartWithReferralCode(t *testing.T) {
	b := newTestBot(t, 0)

	b.send(t, 1, "/start")
	code := b.account(t, 1).ReferralCode

	b.send(t, 2, "/start ref_"+code)

	referrer := b.account(t, 1)
	assert.Equal(t, int64(2), referrer.AttemptsRemaining)
	assert.Equal(t, 1, referrer.TotalReferrals)
	assert.Contains(t, b.notifier.last(2), "по приглашению")
	assert.Eventually(t, func() bool {
		return b.notifier.contains(1, "Всего рефералов: 1")
	}, time.Second, 10*time.Millisecond)

	referred := b.account(t, 2)
	require.NotNil(t, referred.ReferredBy)
	assert.Equal(t, int64(1), *referred.ReferredBy)

	// повторный переход по той же ссылке не начисляет награду
	b.send(t, 2, "/start "+code)
	assert.Equal(t, int64(2), b.account(t, 1).AttemptsRemaining)
	assert.NotContains(t, b.notifier.last(2), "по приглашению")
}

func TestStartWithOwnCode(t *testing.T) {
	b := newTestBot(t, 0)

	b.send(t, 1, "/start")
	b.send(t, 1, "/start "+b.account(t, 1).ReferralCode)

	acc := b.account(t, 1)
	assert.Equal(t, models.DefaultAttempts, acc.AttemptsRemaining)
	assert.Equal(t, 0, acc.TotalReferrals)
}

func TestSearchSuccessConsumesAttempt(t *testing.T) {
	b := newTestBot(t, 0)
	ctx := context.Background()

	b.send(t, 1, "+79123456789")

	assert.Equal(t, []string{"+79123456789"}, b.searcher.calls())
	assert.Equal(t, int64(0), b.account(t, 1).AttemptsRemaining)
	assert.True(t, b.notifier.contains(1, "Всего найдено"))
	assert.Contains(t, b.notifier.last(1), "Попытки закончились")

	recent, err := b.store.Search().RecentByUser(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Success)
	assert.True(t, recent[0].AttemptUsed)
	assert.Equal(t, 200, recent[0].StatusCode)
	assert.JSONEq(t, successPayload, string(recent[0].Results))

	// без попыток текст не отправляется в API
	b.send(t, 1, "ivan@mail.ru")
	assert.Len(t, b.searcher.calls(), 1)
	assert.Contains(t, b.notifier.last(1), "закончились попытки")

	b.send(t, 1, "/search ivan@mail.ru")
	assert.Len(t, b.searcher.calls(), 1)
	assert.Equal(t, int64(0), b.account(t, 1).AttemptsRemaining)
}

func TestSearchQueryOnNextLine(t *testing.T) {
	b := newTestBot(t, 0)

	b.send(t, 1, "/search\nivan@mail.ru")

	assert.Equal(t, []string{"ivan@mail.ru"}, b.searcher.calls())
	recent, err := b.store.Search().RecentByUser(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "ivan@mail.ru", recent[0].Query)
}

func TestSearchUnavailableKeepsAttempt(t *testing.T) {
	b := newTestBot(t, 0)
	b.searcher.result = &usersbox.Result{Err: usersbox.ErrUnavailable}

	b.send(t, 1, "/search +79123456789")

	assert.Equal(t, models.DefaultAttempts, b.account(t, 1).AttemptsRemaining)
	assert.Contains(t, b.notifier.last(1), "временно недоступен")

	counts, err := b.store.Search().CountByUser(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.SearchCounts{Total: 1, Successful: 0}, counts)
}

func TestSearchRejectedQueryKeepsAttempt(t *testing.T) {
	b := newTestBot(t, 0)
	b.searcher.result = &usersbox.Result{
		StatusCode: 400,
		Payload:    json.RawMessage(`{"status":"error","error":{"code":"INVALID_QUERY","message":"bad query"}}`),
	}

	b.send(t, 1, "/search ???")

	assert.Equal(t, models.DefaultAttempts, b.account(t, 1).AttemptsRemaining)
	assert.Contains(t, b.notifier.last(1), "bad query")

	recent, err := b.store.Search().RecentByUser(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].AttemptUsed)
	assert.Equal(t, 400, recent[0].StatusCode)
}

func TestSearchUpstreamFailureWithoutErrorBody(t *testing.T) {
	b := newTestBot(t, 0)
	b.searcher.result = &usersbox.Result{
		StatusCode: 503,
		Payload:    json.RawMessage(`{"detail":"maintenance"}`),
	}

	b.send(t, 1, "/search +79123456789")

	assert.Equal(t, models.DefaultAttempts, b.account(t, 1).AttemptsRemaining)
	assert.Contains(t, b.notifier.last(1), "временно недоступен")
	assert.False(t, b.notifier.contains(1, "Результатов не найдено"))

	recent, err := b.store.Search().RecentByUser(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, 503, recent[0].StatusCode)
	assert.False(t, recent[0].Success)
}

func TestSearchWithoutQuery(t *testing.T) {
	b := newTestBot(t, 0)

	b.send(t, 1, "/search   ")

	assert.Empty(t, b.searcher.calls())
	assert.Contains(t, b.notifier.last(1), "Укажите запрос")
}

func TestAdminSearchDoesNotConsume(t *testing.T) {
	b := newTestBot(t, 0)

	b.send(t, adminID, "/search +79123456789")
	b.send(t, adminID, "ivan@mail.ru")

	acc := b.account(t, adminID)
	assert.True(t, acc.IsAdmin)
	assert.Equal(t, models.AdminAttempts, acc.AttemptsRemaining)
	assert.Len(t, b.searcher.calls(), 2)
	assert.False(t, b.notifier.contains(adminID, "Осталось попыток"))

	recent, err := b.store.Search().RecentByUser(context.Background(), adminID, 10)
	require.NoError(t, err)
	for _, s := range recent {
		assert.True(t, s.Success)
		assert.False(t, s.AttemptUsed)
	}
}

func TestAdminWithZeroBalanceCanSearch(t *testing.T) {
	b := newTestBot(t, 0)
	ctx := context.Background()

	b.send(t, adminID, "/start")
	_, err := b.store.Account().AdjustBalance(ctx, adminID, -models.AdminAttempts)
	require.NoError(t, err)

	b.send(t, adminID, "+79123456789")
	assert.Len(t, b.searcher.calls(), 1)
	assert.Equal(t, int64(0), b.account(t, adminID).AttemptsRemaining)
}

func TestGiveCommand(t *testing.T) {
	b := newTestBot(t, 0)

	b.send(t, 1, "/start")
	b.send(t, adminID, "/give 1 5")

	assert.Equal(t, int64(6), b.account(t, 1).AttemptsRemaining)
	assert.Contains(t, b.notifier.last(adminID), "выдано 5 попыток")
	assert.Eventually(t, func() bool {
		return b.notifier.contains(1, "Получено попыток: 5")
	}, time.Second, 10*time.Millisecond)

	b.send(t, adminID, "/give 1")
	assert.Contains(t, b.notifier.last(adminID), "Использование")

	b.send(t, adminID, "/give abc 5")
	assert.Contains(t, b.notifier.last(adminID), "Использование")

	b.send(t, adminID, "/give 777 1")
	assert.Contains(t, b.notifier.last(adminID), "не найден")
}

func TestAdminCommandsHiddenFromUsers(t *testing.T) {
	b := newTestBot(t, 0)

	b.send(t, 1, "/start")
	for _, cmd := range []string{"/give 1 100", "/admin", "/stats"} {
		b.send(t, 1, cmd)
		assert.Contains(t, b.notifier.last(1), "Неизвестная команда", cmd)
	}

	assert.Equal(t, models.DefaultAttempts, b.account(t, 1).AttemptsRemaining)
	assert.Empty(t, b.searcher.calls())
}

func TestAdminPanelAndStats(t *testing.T) {
	b := newTestBot(t, 0)

	b.send(t, 1, "hello")
	b.send(t, adminID, "/admin")
	assert.Contains(t, b.notifier.last(adminID), "Админ панель")
	assert.Contains(t, b.notifier.last(adminID), "Всего пользователей: `2`")

	b.send(t, adminID, "/stats")
	assert.Contains(t, b.notifier.last(adminID), "Статистика бота")
	assert.Contains(t, b.notifier.last(adminID), "Поисков: 1")
}

func TestBalanceAndReferral(t *testing.T) {
	b := newTestBot(t, 0)

	b.send(t, 1, "+79123456789")
	b.send(t, 1, "/balance")
	assert.Contains(t, b.notifier.last(1), "Всего поисков: `1`")
	assert.Contains(t, b.notifier.last(1), "+79123456789")

	b.send(t, 1, "/referral@usersbox_test_bot")
	code := b.account(t, 1).ReferralCode
	assert.Contains(t, b.notifier.last(1), "https://t.me/usersbox_test_bot?start="+code)
}

func TestHelp(t *testing.T) {
	b := newTestBot(t, 0)

	b.send(t, 1, "/help")
	assert.NotContains(t, b.notifier.last(1), "/give")

	b.send(t, adminID, "/help")
	assert.Contains(t, b.notifier.last(adminID), "/give")
}

func TestRateLimited(t *testing.T) {
	b := newTestBot(t, 2)

	b.send(t, 1, "/help")
	b.send(t, 1, "/help")
	b.send(t, 1, "/help")

	assert.Contains(t, b.notifier.last(1), "Слишком много запросов")
	// другой пользователь не затронут
	b.send(t, 2, "/help")
	assert.Contains(t, b.notifier.last(2), "Справка")
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text    string
		command string
		args    string
	}{
		{"/start", "start", ""},
		{"/start abc123", "start", "abc123"},
		{"/Search@usersbox_bot  +7912 ", "search", "+7912"},
		{"  /give 1 5", "give", "1 5"},
		{"/search\nivan@mail.ru", "search", "ivan@mail.ru"},
		{"/search@usersbox_bot\nivan@mail.ru", "search", "ivan@mail.ru"},
		{"/search\tivan@mail.ru", "search", "ivan@mail.ru"},
		{"/search ivan@mail.ru", "search", "ivan@mail.ru"},
		{"hello", "", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			command, args := parseCommand(tt.text)
			assert.Equal(t, tt.command, command)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "Ivan", sanitize(" Iv\x00an\n ", MaxNameLength))
	assert.Equal(t, "абв", sanitize("абвгд", 3))
}
