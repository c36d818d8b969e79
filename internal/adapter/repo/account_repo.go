package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"sorapixel/internal/domain"
	"sorapixel/internal/infra"
	"sorapixel/internal/sqlinline"
)

// AccountRepositoryPG implements domain.AccountStore on PostgreSQL. Each
// mutation is one conditional UPDATE, so the row lock taken by Postgres is the
// per-account serialization point.
type AccountRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewAccountRepository creates a new AccountRepositoryPG.
func NewAccountRepository(sql infra.SQLExecutor) *AccountRepositoryPG {
	return &AccountRepositoryPG{sql: sql}
}

// Get fetches an account by id.
func (r *AccountRepositoryPG) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	return scanAccount(r.sql.QueryRow(ctx, sqlinline.QSelectAccount, accountID))
}

// Create inserts a new account with an opening balance.
func (r *AccountRepositoryPG) Create(ctx context.Context, accountID string, tokens, freeLimit int) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QInsertAccount, accountID, tokens, freeLimit); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

// Deduct applies the charge or reports the balance that made it fail.
func (r *AccountRepositoryPG) Deduct(ctx context.Context, accountID string, c domain.Charge) (*domain.Account, error) {
	acct, err := scanAccount(r.sql.QueryRow(ctx, sqlinline.QDeductCharge, accountID, c.Units, c.UnitTokens, c.FreeEligible))
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	// Zero rows: either the account is missing or the guard rejected it.
	current, getErr := r.Get(ctx, accountID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, domain.NewInsufficientBalance(current.TokenBalance, requiredTokens(*current, c))
}

// ClaimDailyReward grants amount tokens if the rolling window elapsed.
func (r *AccountRepositoryPG) ClaimDailyReward(ctx context.Context, accountID string, amount int, now time.Time) (*domain.Account, bool, error) {
	acct, err := scanAccount(r.sql.QueryRow(ctx, sqlinline.QClaimDailyReward, accountID, amount, now.UTC()))
	if err == nil {
		return acct, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	current, getErr := r.Get(ctx, accountID)
	if getErr != nil {
		return nil, false, getErr
	}
	return current, false, nil
}

// AddTokens unconditionally credits amount.
func (r *AccountRepositoryPG) AddTokens(ctx context.Context, accountID string, amount int) (*domain.Account, error) {
	return scanAccount(r.sql.QueryRow(ctx, sqlinline.QAddTokens, accountID, amount))
}

// AdjustTokens applies delta with a floor of zero.
func (r *AccountRepositoryPG) AdjustTokens(ctx context.Context, accountID string, delta int) (*domain.Account, error) {
	return scanAccount(r.sql.QueryRow(ctx, sqlinline.QAdjustTokens, accountID, delta))
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var (
		acct      domain.Account
		claimedAt *time.Time
	)
	if err := row.Scan(
		&acct.ID,
		&acct.TokenBalance,
		&acct.FreeUsed,
		&acct.FreeLimit,
		&claimedAt,
		&acct.CreatedAt,
		&acct.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	acct.DailyRewardClaimedAt = claimedAt
	return &acct, nil
}

// requiredTokens is the token part of c after the free allowance of acct.
func requiredTokens(acct domain.Account, c domain.Charge) int {
	units := c.Units
	if c.FreeEligible {
		free := acct.FreeRemaining()
		if free > units {
			free = units
		}
		units -= free
	}
	return units * c.UnitTokens
}
