package domain

import "time"

// DailyRewardWindow is the rolling window during which only one daily
// reward may be claimed.
const DailyRewardWindow = 24 * time.Hour

// Account is the billing identity that owns the token balance and free-tier
// counters. Only the ledger mutates it.
type Account struct {
	ID                   string
	TokenBalance         int
	FreeUsed             int
	FreeLimit            int
	DailyRewardClaimedAt *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsFreeTier reports whether free allowance remains.
func (a Account) IsFreeTier() bool {
	return a.FreeUsed < a.FreeLimit
}

// FreeRemaining returns the unused free allowance, never negative.
func (a Account) FreeRemaining() int {
	if a.FreeUsed >= a.FreeLimit {
		return 0
	}
	return a.FreeLimit - a.FreeUsed
}

// DailyRewardAvailable reports whether a reward can be claimed at now.
func (a Account) DailyRewardAvailable(now time.Time) bool {
	if a.DailyRewardClaimedAt == nil {
		return true
	}
	return !now.Before(a.DailyRewardClaimedAt.Add(DailyRewardWindow))
}

// Balance is the read-only snapshot returned by the ledger.
type Balance struct {
	AccountID            string `json:"account_id"`
	TokenBalance         int    `json:"token_balance"`
	FreeUsed             int    `json:"free_used"`
	FreeLimit            int    `json:"free_limit"`
	IsFreeTier           bool   `json:"is_free_tier"`
	DailyRewardAvailable bool   `json:"daily_reward_available"`
}

// Snapshot converts the account into a Balance evaluated at now.
func (a Account) Snapshot(now time.Time) Balance {
	return Balance{
		AccountID:            a.ID,
		TokenBalance:         a.TokenBalance,
		FreeUsed:             a.FreeUsed,
		FreeLimit:            a.FreeLimit,
		IsFreeTier:           a.IsFreeTier(),
		DailyRewardAvailable: a.DailyRewardAvailable(now),
	}
}
