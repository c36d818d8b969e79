package ledger

import (
	"context"
	"sync"
	"time"

	"sorapixel/internal/domain"
)

// MemoryStore is an in-process domain.AccountStore. Each account carries its
// own mutex; the map lock is only held to find or create the entry.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*memAccount
}

type memAccount struct {
	mu   sync.Mutex
	acct domain.Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*memAccount)}
}

func (m *MemoryStore) entry(accountID string) (*memAccount, error) {
	m.mu.RLock()
	e, ok := m.accounts[accountID]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) Create(ctx context.Context, accountID string, tokens, freeLimit int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; ok {
		return nil
	}
	now := time.Now().UTC()
	m.accounts[accountID] = &memAccount{acct: domain.Account{
		ID:           accountID,
		TokenBalance: tokens,
		FreeLimit:    freeLimit,
		CreatedAt:    now,
		UpdatedAt:    now,
	}}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	return m.update(ctx, accountID, func(*domain.Account) error { return nil })
}

func (m *MemoryStore) Deduct(ctx context.Context, accountID string, c domain.Charge) (*domain.Account, error) {
	return m.update(ctx, accountID, func(a *domain.Account) error {
		free := 0
		if c.FreeEligible {
			free = min(c.Units, a.FreeRemaining())
		}
		tokens := (c.Units - free) * c.UnitTokens
		if a.TokenBalance < tokens {
			return domain.NewInsufficientBalance(a.TokenBalance, tokens)
		}
		a.FreeUsed += free
		a.TokenBalance -= tokens
		return nil
	})
}

func (m *MemoryStore) ClaimDailyReward(ctx context.Context, accountID string, amount int, now time.Time) (*domain.Account, bool, error) {
	granted := false
	acct, err := m.update(ctx, accountID, func(a *domain.Account) error {
		if !a.DailyRewardAvailable(now) {
			return nil
		}
		claimed := now.UTC()
		a.TokenBalance += amount
		a.DailyRewardClaimedAt = &claimed
		granted = true
		return nil
	})
	return acct, granted, err
}

func (m *MemoryStore) AddTokens(ctx context.Context, accountID string, amount int) (*domain.Account, error) {
	return m.update(ctx, accountID, func(a *domain.Account) error {
		a.TokenBalance += amount
		return nil
	})
}

func (m *MemoryStore) AdjustTokens(ctx context.Context, accountID string, delta int) (*domain.Account, error) {
	return m.update(ctx, accountID, func(a *domain.Account) error {
		a.TokenBalance = max(a.TokenBalance+delta, 0)
		return nil
	})
}

// update runs fn under the account lock. fn mutates a working copy that is
// committed only when it returns nil.
func (m *MemoryStore) update(ctx context.Context, accountID string, fn func(*domain.Account) error) (*domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := m.entry(accountID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	working := e.acct
	if err := fn(&working); err != nil {
		return nil, err
	}
	if working != e.acct {
		working.UpdatedAt = time.Now().UTC()
		e.acct = working
	}
	out := e.acct
	return &out, nil
}

var _ domain.AccountStore = (*MemoryStore)(nil)
