// Package ledger meters paid operations against per-account token balances
// and the free-tier allowance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sorapixel/internal/domain"
	"sorapixel/internal/infra"
)

// Options configures a Service.
type Options struct {
	Pricing           domain.PricingTable
	FreeLimit         int
	DailyRewardTokens int
	Cache             BalanceCache
	Metrics           *infra.Metrics
	Logger            *infra.Logger
	Now               func() time.Time
}

// Service is the credit ledger. All mutations go through the store in a
// single atomic step and invalidate the cached snapshot of that account.
type Service struct {
	store        domain.AccountStore
	pricing      domain.PricingTable
	freeLimit    int
	rewardTokens int
	cache        BalanceCache
	metrics      *infra.Metrics
	logger       zerolog.Logger
	now          func() time.Time
}

// Deduction is the result of a successful CheckAndDeduct.
type Deduction struct {
	Charge  domain.Charge
	Balance domain.Balance
}

// Reward is the result of ClaimDailyReward.
type Reward struct {
	Granted     bool `json:"granted"`
	TokensAdded int  `json:"tokens_added"`
	NewBalance  int  `json:"new_balance"`
}

func New(store domain.AccountStore, opts Options) *Service {
	pricing := opts.Pricing
	if pricing == nil {
		pricing = domain.DefaultPricing
	}
	freeLimit := opts.FreeLimit
	if freeLimit < 0 {
		freeLimit = 0
	}
	reward := opts.DailyRewardTokens
	if reward <= 0 {
		reward = 2
	}
	cache := opts.Cache
	if cache == nil {
		cache = noopCache{}
	}
	logger := infra.NopLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:        store,
		pricing:      pricing,
		freeLimit:    freeLimit,
		rewardTokens: reward,
		cache:        cache,
		metrics:      opts.Metrics,
		logger:       logger,
		now:          now,
	}
}

// Pricing exposes the read-only price table.
func (s *Service) Pricing() domain.PricingTable {
	return s.pricing
}

// OpenAccount creates the account with an opening token balance if it does
// not already exist.
func (s *Service) OpenAccount(ctx context.Context, accountID string, tokens int) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return domain.Invalid("account_id", "required")
	}
	if tokens < 0 {
		return domain.Invalid("tokens", "must not be negative")
	}
	return s.store.Create(ctx, accountID, tokens, s.freeLimit)
}

// GetBalance returns a read-only snapshot, served from cache when fresh.
func (s *Service) GetBalance(ctx context.Context, accountID string) (domain.Balance, error) {
	b, gen, ok := s.cache.Get(ctx, accountID)
	if ok {
		return b, nil
	}
	acct, err := s.store.Get(ctx, accountID)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("ledger: get balance: %w", err)
	}
	b = acct.Snapshot(s.now())
	// Dropped by the cache if a mutation invalidated the account meanwhile.
	s.cache.Set(ctx, accountID, b, gen)
	return b, nil
}

// CheckAndDeduct charges units of kind before any generator call is made.
// On insufficient funds it returns *domain.InsufficientBalanceError and the
// account is left unchanged.
func (s *Service) CheckAndDeduct(ctx context.Context, accountID string, kind domain.OperationKind, units int) (Deduction, error) {
	charge, err := s.pricing.Charge(kind, units)
	if err != nil {
		return Deduction{}, err
	}
	acct, err := s.store.Deduct(ctx, accountID, charge)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			s.metrics.LedgerOp("deduct", "insufficient")
			s.logger.Info().Str("account_id", accountID).Str("kind", string(kind)).Err(err).Msg("ledger: deduction rejected")
			return Deduction{}, err
		}
		s.metrics.LedgerOp("deduct", "error")
		return Deduction{}, fmt.Errorf("ledger: deduct: %w", err)
	}
	s.cache.Invalidate(ctx, accountID)
	s.metrics.LedgerOp("deduct", "ok")
	s.logger.Debug().
		Str("account_id", accountID).
		Str("kind", string(kind)).
		Int("units", units).
		Int("balance_after", acct.TokenBalance).
		Int("free_used", acct.FreeUsed).
		Msg("ledger: deducted")
	return Deduction{Charge: charge, Balance: acct.Snapshot(s.now())}, nil
}

// ClaimDailyReward grants the daily tokens at most once per rolling window.
func (s *Service) ClaimDailyReward(ctx context.Context, accountID string) (Reward, error) {
	acct, granted, err := s.store.ClaimDailyReward(ctx, accountID, s.rewardTokens, s.now())
	if err != nil {
		s.metrics.LedgerOp("daily_reward", "error")
		return Reward{}, fmt.Errorf("ledger: claim daily reward: %w", err)
	}
	if !granted {
		s.metrics.LedgerOp("daily_reward", "already_claimed")
		return Reward{Granted: false, NewBalance: acct.TokenBalance}, nil
	}
	s.cache.Invalidate(ctx, accountID)
	s.metrics.LedgerOp("daily_reward", "ok")
	return Reward{Granted: true, TokensAdded: s.rewardTokens, NewBalance: acct.TokenBalance}, nil
}

// AddTokens credits a positive amount unconditionally.
func (s *Service) AddTokens(ctx context.Context, accountID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, domain.Invalid("amount", "must be positive")
	}
	acct, err := s.store.AddTokens(ctx, accountID, amount)
	if err != nil {
		s.metrics.LedgerOp("add", "error")
		return 0, fmt.Errorf("ledger: add tokens: %w", err)
	}
	s.cache.Invalidate(ctx, accountID)
	s.metrics.LedgerOp("add", "ok")
	s.logger.Info().Str("account_id", accountID).Int("amount", amount).Int("balance", acct.TokenBalance).Msg("ledger: tokens added")
	return acct.TokenBalance, nil
}

// AdjustTokens applies delta and floors the balance at zero. Over-subtraction
// is not an error.
func (s *Service) AdjustTokens(ctx context.Context, accountID string, delta int) (int, error) {
	acct, err := s.store.AdjustTokens(ctx, accountID, delta)
	if err != nil {
		s.metrics.LedgerOp("adjust", "error")
		return 0, fmt.Errorf("ledger: adjust tokens: %w", err)
	}
	s.cache.Invalidate(ctx, accountID)
	s.metrics.LedgerOp("adjust", "ok")
	s.logger.Info().Str("account_id", accountID).Int("delta", delta).Int("balance", acct.TokenBalance).Msg("ledger: tokens adjusted")
	return acct.TokenBalance, nil
}
