package domain

import (
	"context"
	"time"
)

// AccountStore persists accounts. Every mutating method must be atomic for a
// single account; implementations never take cross-account locks.
type AccountStore interface {
	Get(ctx context.Context, accountID string) (*Account, error)
	// Create inserts the account if absent. Existing accounts are untouched.
	Create(ctx context.Context, accountID string, tokens, freeLimit int) error
	// Deduct applies c, spending free allowance first when eligible, or
	// returns *InsufficientBalanceError without mutating.
	Deduct(ctx context.Context, accountID string, c Charge) (*Account, error)
	// ClaimDailyReward adds amount tokens when the window has elapsed. The
	// bool is false when a reward was already claimed inside the window.
	ClaimDailyReward(ctx context.Context, accountID string, amount int, now time.Time) (*Account, bool, error)
	AddTokens(ctx context.Context, accountID string, amount int) (*Account, error)
	// AdjustTokens adds delta, flooring the balance at zero.
	AdjustTokens(ctx context.Context, accountID string, delta int) (*Account, error)
}

// UsageStore appends audit records.
type UsageStore interface {
	InsertJob(ctx context.Context, job *GenerationJob) error
	InsertArtifact(ctx context.Context, artifact *ArtifactImage) error
}
