package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sorapixel/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLedger(t *testing.T, balance, freeLimit int) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)}
	svc := New(NewMemoryStore(), Options{
		FreeLimit:         freeLimit,
		DailyRewardTokens: 2,
		Cache:             NewMemoryCache(time.Minute),
		Now:               clock.Now,
	})
	require.NoError(t, svc.OpenAccount(context.Background(), "acct-1", balance))
	return svc, clock
}

func TestCheckAndDeductConcurrentNeverOverdraws(t *testing.T) {
	const (
		balance = 45
		workers = 32
	)
	svc, _ := newTestLedger(t, balance, 0)
	cost := domain.DefaultPricing[domain.OpHDUpscale].Tokens

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		rejected  atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.CheckAndDeduct(context.Background(), "acct-1", domain.OpHDUpscale, 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrInsufficientBalance):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(balance/cost), succeeded.Load())
	assert.Equal(t, int32(workers-balance/cost), rejected.Load())

	b, err := svc.GetBalance(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, balance%cost, b.TokenBalance)
	assert.GreaterOrEqual(t, b.TokenBalance, 0)
}

func TestCheckAndDeductInsufficientLeavesStateUntouched(t *testing.T) {
	svc, _ := newTestLedger(t, 6, 0)

	_, err := svc.CheckAndDeduct(context.Background(), "acct-1", domain.OpRecolorSingle, 1)
	var insufficient *domain.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 6, insufficient.Current)
	assert.Equal(t, 7, insufficient.Required)
	assert.Equal(t, "INSUFFICIENT_TOKENS", insufficient.Code)

	b, err := svc.GetBalance(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 6, b.TokenBalance)
}

func TestCheckAndDeductSpendsFreeTierFirst(t *testing.T) {
	svc, _ := newTestLedger(t, 5, 4)
	ctx := context.Background()

	d, err := svc.CheckAndDeduct(ctx, "acct-1", domain.OpPack, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, d.Balance.TokenBalance, "first pack fits entirely in the free tier")
	assert.Equal(t, 3, d.Balance.FreeUsed)
	assert.True(t, d.Balance.IsFreeTier)

	d, err = svc.CheckAndDeduct(ctx, "acct-1", domain.OpPack, 3)
	require.NoError(t, err)
	assert.Equal(t, 4, d.Balance.FreeUsed)
	assert.Equal(t, 3, d.Balance.TokenBalance, "one free unit then two tokens")
	assert.False(t, d.Balance.IsFreeTier)
}

func TestCheckAndDeductNonFreeKindIgnoresAllowance(t *testing.T) {
	svc, _ := newTestLedger(t, 10, 9)
	d, err := svc.CheckAndDeduct(context.Background(), "acct-1", domain.OpHDUpscale, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Balance.TokenBalance)
	assert.Equal(t, 0, d.Balance.FreeUsed)
}

func TestCheckAndDeductUnknownAccount(t *testing.T) {
	svc, _ := newTestLedger(t, 10, 0)
	_, err := svc.CheckAndDeduct(context.Background(), "ghost", domain.OpListing, 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.GetBalance(context.Background(), "ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaimDailyRewardOncePerWindow(t *testing.T) {
	svc, clock := newTestLedger(t, 0, 0)
	ctx := context.Background()

	r, err := svc.ClaimDailyReward(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, r.Granted)
	assert.Equal(t, 2, r.NewBalance)

	clock.Advance(23*time.Hour + 59*time.Minute)
	r, err = svc.ClaimDailyReward(ctx, "acct-1")
	require.NoError(t, err)
	assert.False(t, r.Granted)
	assert.Equal(t, 2, r.NewBalance)
}

func TestClaimDailyRewardThreeDays(t *testing.T) {
	svc, clock := newTestLedger(t, 0, 0)
	ctx := context.Background()

	grants := 0
	for day := 0; day < 3; day++ {
		r, err := svc.ClaimDailyReward(ctx, "acct-1")
		require.NoError(t, err)
		if r.Granted {
			grants++
		}
		clock.Advance(24 * time.Hour)
	}
	assert.Equal(t, 3, grants)
	b, err := svc.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 6, b.TokenBalance)
}

func TestClaimDailyRewardConcurrentGrantsOnce(t *testing.T) {
	svc, _ := newTestLedger(t, 0, 0)
	var (
		wg      sync.WaitGroup
		granted atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := svc.ClaimDailyReward(context.Background(), "acct-1")
			if err == nil && r.Granted {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), granted.Load())
}

func TestAddAndAdjustTokens(t *testing.T) {
	svc, _ := newTestLedger(t, 5, 0)
	ctx := context.Background()

	_, err := svc.AddTokens(ctx, "acct-1", 0)
	require.ErrorIs(t, err, domain.ErrValidation)

	bal, err := svc.AddTokens(ctx, "acct-1", 50)
	require.NoError(t, err)
	assert.Equal(t, 55, bal)

	bal, err = svc.AdjustTokens(ctx, "acct-1", -100)
	require.NoError(t, err)
	assert.Equal(t, 0, bal)

	bal, err = svc.AdjustTokens(ctx, "acct-1", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, bal)
}

func TestBalanceCacheInvalidatedOnMutation(t *testing.T) {
	svc, _ := newTestLedger(t, 20, 0)
	ctx := context.Background()

	b, err := svc.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, 20, b.TokenBalance)

	_, err = svc.CheckAndDeduct(ctx, "acct-1", domain.OpListing, 1)
	require.NoError(t, err)

	b, err = svc.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 15, b.TokenBalance)
}

func TestMemoryCacheExpires(t *testing.T) {
	cache := NewMemoryCache(time.Second)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	cache.Set(ctx, "a", domain.Balance{TokenBalance: 3}, 0)
	got, _, ok := cache.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, 3, got.TokenBalance)

	now = now.Add(time.Second)
	_, _, ok = cache.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemoryCacheRejectsSetFromOlderGeneration(t *testing.T) {
	cache := NewMemoryCache(time.Minute)
	ctx := context.Background()

	_, gen, ok := cache.Get(ctx, "a")
	require.False(t, ok)

	cache.Invalidate(ctx, "a")
	cache.Set(ctx, "a", domain.Balance{TokenBalance: 10}, gen)
	_, gen, ok = cache.Get(ctx, "a")
	assert.False(t, ok)

	cache.Set(ctx, "a", domain.Balance{TokenBalance: 0}, gen)
	got, _, ok := cache.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, 0, got.TokenBalance)
}

// pausingStore holds the first Get open after it has read the account, so a
// mutation can commit between the read and the cache fill.
type pausingStore struct {
	*MemoryStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (p *pausingStore) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	acct, err := p.MemoryStore.Get(ctx, accountID)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return acct, err
}

func TestGetBalanceDoesNotCacheSnapshotOlderThanMutation(t *testing.T) {
	store := &pausingStore{
		MemoryStore: NewMemoryStore(),
		read:        make(chan struct{}),
		release:     make(chan struct{}),
	}
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "acct-1", 10, 0))
	svc := New(store, Options{Cache: NewMemoryCache(time.Minute)})

	done := make(chan domain.Balance)
	go func() {
		b, err := svc.GetBalance(ctx, "acct-1")
		assert.NoError(t, err)
		done <- b
	}()

	<-store.read
	_, err := svc.CheckAndDeduct(ctx, "acct-1", domain.OpHDUpscale, 1)
	require.NoError(t, err)
	close(store.release)

	stale := <-done
	assert.Equal(t, 10, stale.TokenBalance)

	b, err := svc.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0, b.TokenBalance)
}
