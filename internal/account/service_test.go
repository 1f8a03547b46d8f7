package account

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"usersbox-bot/internal/config"
	"usersbox-bot/internal/store"
	"usersbox-bot/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestService(admins *config.AdminConfig) (*Service, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return NewService(st, admins, zap.NewNop()), st
}

func TestGenerateReferralCode(t *testing.T) {
	code := GenerateReferralCode(123)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{8}$`), code)

	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		seen[GenerateReferralCode(123)] = struct{}{}
	}
	// одинаковый ID дает разные коды за счет nonce
	assert.Greater(t, len(seen), 990)
}

func TestGetOrCreateNewAccount(t *testing.T) {
	svc, _ := newTestService(&config.AdminConfig{})

	account, created, err := svc.GetOrCreate(context.Background(), 1, models.Profile{Username: "u1", FirstName: "Ivan"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), account.AttemptsRemaining)
	assert.Equal(t, 0, account.TotalReferrals)
	assert.NotEmpty(t, account.ReferralCode)
	assert.False(t, account.IsAdmin)
	assert.Nil(t, account.ReferredBy)
}

func TestGetOrCreateLogsCreationOnce(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	svc := NewService(store.NewMemoryStore(), &config.AdminConfig{}, zap.New(core))
	ctx := context.Background()

	_, _, err := svc.GetOrCreate(ctx, 1, models.Profile{Username: "u1"})
	require.NoError(t, err)
	_, _, err = svc.GetOrCreate(ctx, 1, models.Profile{Username: "u1"})
	require.NoError(t, err)

	created := logs.FilterMessage("создан новый аккаунт")
	require.Equal(t, 1, created.Len())
	assert.Equal(t, int64(1), created.All()[0].ContextMap()["telegram_id"])
	assert.Equal(t, 1, logs.Len())
}

func TestGetOrCreateExistingUpdatesProfile(t *testing.T) {
	svc, _ := newTestService(&config.AdminConfig{})
	ctx := context.Background()

	first, _, err := svc.GetOrCreate(ctx, 1, models.Profile{Username: "old"})
	require.NoError(t, err)

	second, created, err := svc.GetOrCreate(ctx, 1, models.Profile{Username: "new", LastName: "Petrov"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ReferralCode, second.ReferralCode)
	assert.Equal(t, "new", second.Username)
	assert.Equal(t, "Petrov", second.LastName)
	assert.False(t, second.LastActive.Before(first.LastActive))
}

func TestGetOrCreateAdmin(t *testing.T) {
	svc, _ := newTestService(&config.AdminConfig{Usernames: []string{"boss"}})

	account, _, err := svc.GetOrCreate(context.Background(), 5, models.Profile{Username: "Boss"})
	require.NoError(t, err)
	assert.True(t, account.IsAdmin)
	assert.Equal(t, models.AdminAttempts, account.AttemptsRemaining)
}

func TestGetOrCreateConcurrent(t *testing.T) {
	svc, st := newTestService(&config.AdminConfig{})
	const n = 25

	codes := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			account, _, err := svc.GetOrCreate(context.Background(), 77, models.Profile{Username: "same"})
			assert.NoError(t, err)
			codes <- account.ReferralCode
		}()
	}
	wg.Wait()
	close(codes)

	var first string
	for code := range codes {
		if first == "" {
			first = code
		}
		assert.Equal(t, first, code)
	}

	stats, err := st.Stats().Totals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalUsers)
}

// collidingStore возвращает ErrReferralCodeTaken заданное число раз
type collidingStore struct {
	store.Store
	mu         sync.Mutex
	collisions int
	calls      int
}

func (c *collidingStore) Account() store.AccountRepository {
	return collidingAccounts{AccountRepository: c.Store.Account(), parent: c}
}

type collidingAccounts struct {
	store.AccountRepository
	parent *collidingStore
}

func (a collidingAccounts) Upsert(ctx context.Context, account *models.Account) (*models.Account, bool, error) {
	a.parent.mu.Lock()
	a.parent.calls++
	collide := a.parent.collisions > 0
	if collide {
		a.parent.collisions--
	}
	a.parent.mu.Unlock()

	if collide {
		return nil, false, store.ErrReferralCodeTaken
	}
	return a.AccountRepository.Upsert(ctx, account)
}

func TestGetOrCreateRetriesOnCodeCollision(t *testing.T) {
	st := &collidingStore{Store: store.NewMemoryStore(), collisions: 2}
	svc := NewService(st, nil, zap.NewNop())

	account, created, err := svc.GetOrCreate(context.Background(), 1, models.Profile{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, account.ReferralCode)
	assert.Equal(t, 3, st.calls)
}

func TestGetOrCreateGivesUpAfterMaxAttempts(t *testing.T) {
	st := &collidingStore{Store: store.NewMemoryStore(), collisions: 100}
	svc := NewService(st, nil, zap.NewNop())

	_, _, err := svc.GetOrCreate(context.Background(), 1, models.Profile{})
	assert.Error(t, err)
	assert.Equal(t, maxCodeAttempts, st.calls)
}

func TestStatsAndHistory(t *testing.T) {
	svc, _ := newTestService(&config.AdminConfig{})
	ctx := context.Background()
	since := time.Now().Add(-time.Hour)

	_, _, err := svc.GetOrCreate(ctx, 1, models.Profile{})
	require.NoError(t, err)
	_, _, err = svc.GetOrCreate(ctx, 2, models.Profile{})
	require.NoError(t, err)

	require.NoError(t, svc.RecordSearch(ctx, &models.Search{UserID: 1, Query: "a", StatusCode: 200, Success: true}))
	require.NoError(t, svc.RecordSearch(ctx, &models.Search{UserID: 1, Query: "b", StatusCode: 400}))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalUsers)
	assert.Equal(t, 2, stats.TotalSearches)
	assert.Equal(t, 1, stats.SuccessfulSearches)
	assert.InDelta(t, 50.0, stats.SuccessRate, 0.001)

	activity, err := svc.Activity(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 2, activity.NewAccounts)
	assert.Equal(t, 2, activity.Searches)

	history, err := svc.History(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, history.Counts.Total)
	require.Len(t, history.Recent, 2)
	assert.Equal(t, "b", history.Recent[0].Query)
}
