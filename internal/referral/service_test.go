package referral

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"usersbox-bot/internal/account"
	"usersbox-bot/internal/metrics"
	"usersbox-bot/internal/store"
	"usersbox-bot/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	messages chan string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{messages: make(chan string, 100)}
}

func (n *recordingNotifier) Notify(_ context.Context, _ int64, text string) bool {
	n.messages <- text
	return true
}

type fixture struct {
	store    *store.MemoryStore
	accounts *account.Service
	service  *Service
	notifier *recordingNotifier
}

func newFixture() *fixture {
	st := store.NewMemoryStore()
	n := newRecordingNotifier()
	return &fixture{
		store:    st,
		accounts: account.NewService(st, nil, zap.NewNop()),
		service:  NewService(st, n, metrics.New(zap.NewNop()), zap.NewNop()),
		notifier: n,
	}
}

func (f *fixture) create(t *testing.T, id int64) *models.Account {
	t.Helper()
	a, _, err := f.accounts.GetOrCreate(context.Background(), id, models.Profile{Username: "u"})
	require.NoError(t, err)
	return a
}

func (f *fixture) get(t *testing.T, id int64) *models.Account {
	t.Helper()
	a, err := f.store.Account().GetByTelegramID(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestApplyReferralScenario(t *testing.T) {
	f := newFixture()
	u1 := f.create(t, 1)
	f.create(t, 2)

	granted, err := f.service.ApplyReferral(context.Background(), 2, u1.ReferralCode)
	require.NoError(t, err)
	assert.True(t, granted)

	referrer := f.get(t, 1)
	assert.Equal(t, int64(2), referrer.AttemptsRemaining)
	assert.Equal(t, 1, referrer.TotalReferrals)

	referred := f.get(t, 2)
	require.NotNil(t, referred.ReferredBy)
	assert.Equal(t, int64(1), *referred.ReferredBy)
	assert.Equal(t, int64(1), referred.AttemptsRemaining)

	select {
	case text := <-f.notifier.messages:
		assert.True(t, strings.Contains(text, "Всего рефералов: 1"))
	case <-time.After(time.Second):
		t.Fatal("пригласивший не уведомлен")
	}
}

func TestApplyReferralTwiceGrantsOnce(t *testing.T) {
	f := newFixture()
	b := f.create(t, 1)
	f.create(t, 2)
	ctx := context.Background()

	granted, err := f.service.ApplyReferral(ctx, 2, b.ReferralCode)
	require.NoError(t, err)
	require.True(t, granted)

	granted, err = f.service.ApplyReferral(ctx, 2, CodePrefix+b.ReferralCode)
	require.NoError(t, err)
	assert.False(t, granted)

	referrer := f.get(t, 1)
	assert.Equal(t, int64(2), referrer.AttemptsRemaining)
	assert.Equal(t, 1, referrer.TotalReferrals)
}

func TestApplyReferralSelf(t *testing.T) {
	f := newFixture()
	a := f.create(t, 1)

	// повтор не меняет результат
	for i := 0; i < 2; i++ {
		granted, err := f.service.ApplyReferral(context.Background(), 1, a.ReferralCode)
		require.NoError(t, err)
		assert.False(t, granted)
	}

	after := f.get(t, 1)
	assert.Equal(t, a.AttemptsRemaining, after.AttemptsRemaining)
	assert.Equal(t, 0, after.TotalReferrals)
	assert.Nil(t, after.ReferredBy)
}

func TestApplyReferralUnknownCode(t *testing.T) {
	f := newFixture()
	f.create(t, 1)

	granted, err := f.service.ApplyReferral(context.Background(), 1, "deadbeef")
	require.NoError(t, err)
	assert.False(t, granted)

	granted, err = f.service.ApplyReferral(context.Background(), 1, "  ")
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestApplyReferralConcurrent(t *testing.T) {
	f := newFixture()
	b := f.create(t, 1)
	f.create(t, 2)

	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	grants := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			granted, err := f.service.ApplyReferral(context.Background(), 2, b.ReferralCode)
			assert.NoError(t, err)
			if granted {
				mu.Lock()
				grants++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, grants)

	count, err := f.store.Referral().CountByReferrer(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	referrer := f.get(t, 1)
	assert.Equal(t, int64(2), referrer.AttemptsRemaining)
	assert.Equal(t, 1, referrer.TotalReferrals)
}

func TestLinkAndSummary(t *testing.T) {
	f := newFixture()
	b := f.create(t, 1)
	f.create(t, 2)
	f.create(t, 3)
	ctx := context.Background()

	for _, id := range []int64{2, 3} {
		_, err := f.service.ApplyReferral(ctx, id, b.ReferralCode)
		require.NoError(t, err)
	}

	assert.Equal(t, "https://t.me/usersbox_bot?start="+b.ReferralCode, f.service.Link("@usersbox_bot", b))

	summary, err := f.service.Summary(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, b.ReferralCode, summary.Code)
	assert.Equal(t, 2, summary.TotalReferrals)
	assert.Equal(t, int64(2), summary.EarnedAttempts)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "abc12345", NormalizeCode(" ref_abc12345 "))
	assert.Equal(t, "abc12345", NormalizeCode("abc12345"))
}
