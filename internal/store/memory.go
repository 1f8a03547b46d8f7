package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"usersbox-bot/pkg/models"
)

type referralPair struct {
	referrer int64
	referred int64
}

// MemoryStore хранилище в памяти процесса.
// Каждая операция выполняется целиком под одним мьютексом, что дает ту же
// атомарность на уровне операции, что и отдельный SQL-запрос.
type MemoryStore struct {
	mu        sync.Mutex
	accounts  map[int64]*models.Account
	codes     map[string]int64
	referrals []*models.Referral
	pairs     map[referralPair]struct{}
	searches  []*models.Search
	now       func() time.Time
}

// NewMemoryStore создает пустое хранилище в памяти
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[int64]*models.Account),
		codes:    make(map[string]int64),
		pairs:    make(map[referralPair]struct{}),
		now:      time.Now,
	}
}

func (s *MemoryStore) Account() AccountRepository   { return memoryAccounts{s} }
func (s *MemoryStore) Referral() ReferralRepository { return memoryReferrals{s} }
func (s *MemoryStore) Search() SearchRepository     { return memorySearches{s} }
func (s *MemoryStore) Stats() StatsRepository       { return memoryStats{s} }

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	if a.ReferredBy != nil {
		v := *a.ReferredBy
		c.ReferredBy = &v
	}
	return &c
}

func cloneSearch(s *models.Search) *models.Search {
	c := *s
	c.Results = append([]byte(nil), s.Results...)
	return &c
}

type memoryAccounts struct{ s *MemoryStore }

func (r memoryAccounts) Upsert(ctx context.Context, account *models.Account) (*models.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.accounts[account.TelegramID]; ok {
		existing.Username = account.Username
		existing.FirstName = account.FirstName
		existing.LastName = account.LastName
		existing.LastActive = now
		return cloneAccount(existing), false, nil
	}

	if _, taken := s.codes[account.ReferralCode]; taken {
		return nil, false, ErrReferralCodeTaken
	}

	stored := cloneAccount(account)
	stored.ReferredBy = nil
	stored.TotalReferrals = 0
	stored.CreatedAt = now
	stored.LastActive = now
	s.accounts[stored.TelegramID] = stored
	s.codes[stored.ReferralCode] = stored.TelegramID

	return cloneAccount(stored), true, nil
}

func (r memoryAccounts) GetByTelegramID(ctx context.Context, telegramID int64) (*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[telegramID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(a), nil
}

func (r memoryAccounts) GetByReferralCode(ctx context.Context, code string) (*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAccount(r.s.accounts[id]), nil
}

func (r memoryAccounts) AdjustBalance(ctx context.Context, telegramID int64, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[telegramID]
	if !ok {
		return 0, ErrNotFound
	}
	a.AttemptsRemaining += delta
	return a.AttemptsRemaining, nil
}

func (r memoryAccounts) ConsumeAttempt(ctx context.Context, telegramID int64) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[telegramID]
	if !ok {
		return 0, false, ErrNotFound
	}
	if a.IsAdmin || a.AttemptsRemaining <= 0 {
		return a.AttemptsRemaining, false, nil
	}
	a.AttemptsRemaining--
	return a.AttemptsRemaining, true, nil
}

func (r memoryAccounts) IncrementReferralCount(ctx context.Context, telegramID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	_, err := r.s.incrementReferrals(telegramID)
	return err
}

// incrementReferrals вызывается под s.mu
func (s *MemoryStore) incrementReferrals(telegramID int64) (*models.Account, error) {
	a, ok := s.accounts[telegramID]
	if !ok {
		return nil, ErrNotFound
	}
	a.TotalReferrals++
	return a, nil
}

func (r memoryAccounts) List(ctx context.Context, limit int) ([]*models.Account, error) {
	return r.sorted(ctx, limit, func(a *models.Account) bool { return true }, func(a, b *models.Account) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.TelegramID < b.TelegramID
	})
}

func (r memoryAccounts) TopReferrers(ctx context.Context, limit int) ([]*models.Account, error) {
	return r.sorted(ctx, limit, func(a *models.Account) bool { return a.TotalReferrals > 0 }, func(a, b *models.Account) bool {
		if a.TotalReferrals != b.TotalReferrals {
			return a.TotalReferrals > b.TotalReferrals
		}
		return a.TelegramID < b.TelegramID
	})
}

func (r memoryAccounts) sorted(ctx context.Context, limit int, keep func(*models.Account) bool, less func(a, b *models.Account) bool) ([]*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*models.Account, 0)
	for _, a := range r.s.accounts {
		if keep(a) {
			out = append(out, cloneAccount(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryReferrals struct{ s *MemoryStore }

func (r memoryReferrals) Exists(ctx context.Context, referrerID, referredID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	_, ok := r.s.pairs[referralPair{referrerID, referredID}]
	return ok, nil
}

func (r memoryReferrals) Grant(ctx context.Context, referrerID, referredID, reward int64) (*models.ReferralGrant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &models.ReferralGrant{ReferrerID: referrerID}
	if referrerID == referredID {
		return result, nil
	}
	pair := referralPair{referrerID, referredID}
	if _, ok := s.pairs[pair]; ok {
		return result, nil
	}

	if _, ok := s.accounts[referrerID]; !ok {
		return nil, ErrNotFound
	}
	referred, ok := s.accounts[referredID]
	if !ok {
		return nil, ErrNotFound
	}

	s.pairs[pair] = struct{}{}
	s.referrals = append(s.referrals, &models.Referral{
		ID:         int64(len(s.referrals) + 1),
		ReferrerID: referrerID,
		ReferredID: referredID,
		CreatedAt:  s.now(),
	})

	referrer, err := s.incrementReferrals(referrerID)
	if err != nil {
		return nil, err
	}
	referrer.AttemptsRemaining += reward
	if referred.ReferredBy == nil {
		id := referrerID
		referred.ReferredBy = &id
	}

	result.Granted = true
	result.Attempts = referrer.AttemptsRemaining
	result.TotalReferrals = referrer.TotalReferrals
	return result, nil
}

func (r memoryReferrals) CountByReferrer(ctx context.Context, referrerID int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	count := 0
	for _, ref := range r.s.referrals {
		if ref.ReferrerID == referrerID {
			count++
		}
	}
	return count, nil
}

type memorySearches struct{ s *MemoryStore }

func (r memorySearches) Create(ctx context.Context, search *models.Search) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	search.ID = int64(len(r.s.searches) + 1)
	search.CreatedAt = r.s.now()
	r.s.searches = append(r.s.searches, cloneSearch(search))
	return nil
}

func (r memorySearches) CountByUser(ctx context.Context, userID int64) (models.SearchCounts, error) {
	var counts models.SearchCounts
	if err := ctx.Err(); err != nil {
		return counts, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, s := range r.s.searches {
		if s.UserID != userID {
			continue
		}
		counts.Total++
		if s.Success {
			counts.Successful++
		}
	}
	return counts, nil
}

func (r memorySearches) RecentByUser(ctx context.Context, userID int64, limit int) ([]*models.Search, error) {
	return r.recent(ctx, limit, func(s *models.Search) bool { return s.UserID == userID })
}

func (r memorySearches) Recent(ctx context.Context, limit int) ([]*models.Search, error) {
	return r.recent(ctx, limit, func(s *models.Search) bool { return true })
}

// recent обходит журнал с конца: записи добавляются в порядке создания
func (r memorySearches) recent(ctx context.Context, limit int, keep func(*models.Search) bool) ([]*models.Search, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*models.Search, 0)
	for i := len(r.s.searches) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(r.s.searches[i]) {
			out = append(out, cloneSearch(r.s.searches[i]))
		}
	}
	return out, nil
}

type memoryStats struct{ s *MemoryStore }

func (r memoryStats) Totals(ctx context.Context) (*models.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	successful := 0
	for _, s := range r.s.searches {
		if s.Success {
			successful++
		}
	}
	return models.NewStats(len(r.s.accounts), len(r.s.searches), len(r.s.referrals), successful), nil
}

func (r memoryStats) Activity(ctx context.Context, since time.Time) (*models.Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	activity := &models.Activity{Since: since}
	for _, a := range r.s.accounts {
		if !a.CreatedAt.Before(since) {
			activity.NewAccounts++
		}
	}
	for _, s := range r.s.searches {
		if !s.CreatedAt.Before(since) {
			activity.Searches++
		}
	}
	return activity, nil
}
