package credit

import (
	"context"
	"sync"
	"testing"
	"time"

	"usersbox-bot/internal/store"
	"usersbox-bot/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type chanNotifier struct {
	texts chan string
}

func (n *chanNotifier) Notify(_ context.Context, _ int64, text string) bool {
	n.texts <- text
	return true
}

func setup(t *testing.T, accounts ...*models.Account) (*Ledger, *store.MemoryStore, *chanNotifier) {
	t.Helper()
	st := store.NewMemoryStore()
	for _, a := range accounts {
		_, _, err := st.Account().Upsert(context.Background(), a)
		require.NoError(t, err)
	}
	n := &chanNotifier{texts: make(chan string, 10)}
	return NewLedger(st, n, nil, zap.NewNop()), st, n
}

func balance(t *testing.T, st *store.MemoryStore, id int64) int64 {
	t.Helper()
	a, err := st.Account().GetByTelegramID(context.Background(), id)
	require.NoError(t, err)
	return a.AttemptsRemaining
}

func TestTryConsumeAndCommit(t *testing.T) {
	ledger, st, _ := setup(t, &models.Account{TelegramID: 1, ReferralCode: "c1", AttemptsRemaining: 2})
	ctx := context.Background()

	allowed, err := ledger.TryConsume(ctx, 1)
	require.NoError(t, err)
	require.True(t, allowed)
	// проверка не меняет баланс
	assert.Equal(t, int64(2), balance(t, st, 1))

	remaining, err := ledger.CommitConsume(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)
	assert.Equal(t, int64(1), balance(t, st, 1))
}

func TestTryConsumeEmptyBalance(t *testing.T) {
	ledger, _, _ := setup(t, &models.Account{TelegramID: 1, ReferralCode: "c1", AttemptsRemaining: 0})

	allowed, err := ledger.TryConsume(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = ledger.TryConsume(context.Background(), 404)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestFailedSearchLeavesBalance(t *testing.T) {
	ledger, st, _ := setup(t, &models.Account{TelegramID: 1, ReferralCode: "c1", AttemptsRemaining: 1})

	allowed, err := ledger.TryConsume(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, allowed)

	// поиск завершился ошибкой, CommitConsume не вызывается
	assert.Equal(t, int64(1), balance(t, st, 1))
}

func TestAdminBypass(t *testing.T) {
	ledger, st, _ := setup(t, &models.Account{TelegramID: 1, ReferralCode: "adm", IsAdmin: true, AttemptsRemaining: 0})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := ledger.TryConsume(ctx, 1)
		require.NoError(t, err)
		assert.True(t, allowed)

		_, err = ledger.CommitConsume(ctx, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(0), balance(t, st, 1))
}

func TestConcurrentCommitConsume(t *testing.T) {
	const m = 40
	ledger, st, _ := setup(t, &models.Account{TelegramID: 1, ReferralCode: "c1", AttemptsRemaining: m})

	var wg sync.WaitGroup
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.CommitConsume(context.Background(), 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), balance(t, st, 1))

	// лишнее списание не уводит баланс в минус
	remaining, err := ledger.CommitConsume(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)
}

func TestGrant(t *testing.T) {
	ledger, st, n := setup(t, &models.Account{TelegramID: 1, ReferralCode: "c1", AttemptsRemaining: 1})
	ctx := context.Background()

	newBalance, err := ledger.Grant(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(11), newBalance)

	select {
	case text := <-n.texts:
		assert.Contains(t, text, "Получено попыток: 10")
	case <-time.After(time.Second):
		t.Fatal("уведомление не отправлено")
	}

	newBalance, err = ledger.Grant(ctx, 1, -20)
	require.NoError(t, err)
	assert.Equal(t, int64(-9), newBalance)
	assert.Equal(t, int64(-9), balance(t, st, 1))
}

func TestGrantUnknownUser(t *testing.T) {
	ledger, _, _ := setup(t)

	_, err := ledger.Grant(context.Background(), 404, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
