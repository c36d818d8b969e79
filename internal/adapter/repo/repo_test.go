package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"sorapixel/internal/domain"
	"sorapixel/internal/sqlinline"
)

type stubRow struct {
	scan func(dest ...any) error
}

func (r stubRow) Scan(dest ...any) error {
	if r.scan == nil {
		return pgx.ErrNoRows
	}
	return r.scan(dest...)
}

// stubSQL emulates the account statements against one in-memory row.
type stubSQL struct {
	mu      sync.Mutex
	account *domain.Account
	execs   []string
	args    [][]any
}

func (s *stubSQL) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.execs = append(s.execs, query)
	s.args = append(s.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (s *stubSQL) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (s *stubSQL) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil || args[0].(string) != s.account.ID {
		return stubRow{}
	}
	a := s.account
	switch query {
	case sqlinline.QSelectAccount:
	case sqlinline.QDeductCharge:
		c := domain.Charge{Units: args[1].(int), UnitTokens: args[2].(int), FreeEligible: args[3].(bool)}
		need := requiredTokens(*a, c)
		if a.TokenBalance < need {
			return stubRow{}
		}
		a.FreeUsed += c.Units - need/max(c.UnitTokens, 1)
		a.TokenBalance -= need
	case sqlinline.QClaimDailyReward:
		now := args[2].(time.Time)
		if !a.DailyRewardAvailable(now) {
			return stubRow{}
		}
		a.TokenBalance += args[1].(int)
		a.DailyRewardClaimedAt = &now
	case sqlinline.QAddTokens:
		a.TokenBalance += args[1].(int)
	case sqlinline.QAdjustTokens:
		a.TokenBalance = max(a.TokenBalance+args[1].(int), 0)
	default:
		return stubRow{scan: func(...any) error { return errors.New("unexpected query") }}
	}
	snapshot := *a
	return stubRow{scan: func(dest ...any) error {
		*dest[0].(*string) = snapshot.ID
		*dest[1].(*int) = snapshot.TokenBalance
		*dest[2].(*int) = snapshot.FreeUsed
		*dest[3].(*int) = snapshot.FreeLimit
		*dest[4].(**time.Time) = snapshot.DailyRewardClaimedAt
		*dest[5].(*time.Time) = snapshot.CreatedAt
		*dest[6].(*time.Time) = snapshot.UpdatedAt
		return nil
	}}
}

func TestAccountRepositoryDeductInsufficientReportsBalance(t *testing.T) {
	sql := &stubSQL{account: &domain.Account{ID: "acct-1", TokenBalance: 6, FreeLimit: 9, FreeUsed: 9}}
	repo := NewAccountRepository(sql)

	_, err := repo.Deduct(context.Background(), "acct-1", domain.Charge{Kind: domain.OpRecolorSingle, Units: 1, UnitTokens: 7})
	var insufficient *domain.InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if insufficient.Current != 6 || insufficient.Required != 7 || insufficient.Code != domain.InsufficientBalanceCode {
		t.Fatalf("unexpected error payload: %+v", insufficient)
	}
	if sql.account.TokenBalance != 6 {
		t.Fatalf("balance mutated: %d", sql.account.TokenBalance)
	}
}

func TestAccountRepositoryDeductMissingAccount(t *testing.T) {
	repo := NewAccountRepository(&stubSQL{})
	_, err := repo.Deduct(context.Background(), "ghost", domain.Charge{Units: 1, UnitTokens: 1})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountRepositoryDeductFreeFirst(t *testing.T) {
	sql := &stubSQL{account: &domain.Account{ID: "acct-1", TokenBalance: 10, FreeLimit: 9, FreeUsed: 8}}
	repo := NewAccountRepository(sql)

	acct, err := repo.Deduct(context.Background(), "acct-1", domain.Charge{Kind: domain.OpPack, Units: 3, UnitTokens: 1, FreeEligible: true})
	if err != nil {
		t.Fatalf("Deduct returned error: %v", err)
	}
	if acct.FreeUsed != 9 || acct.TokenBalance != 8 {
		t.Fatalf("expected 1 free + 2 tokens, got free_used=%d balance=%d", acct.FreeUsed, acct.TokenBalance)
	}
}

func TestAccountRepositoryClaimDailyRewardOnceInWindow(t *testing.T) {
	sql := &stubSQL{account: &domain.Account{ID: "acct-1"}}
	repo := NewAccountRepository(sql)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if _, granted, err := repo.ClaimDailyReward(context.Background(), "acct-1", 2, now); err != nil || !granted {
		t.Fatalf("first claim: granted=%v err=%v", granted, err)
	}
	acct, granted, err := repo.ClaimDailyReward(context.Background(), "acct-1", 2, now.Add(23*time.Hour))
	if err != nil {
		t.Fatalf("second claim error: %v", err)
	}
	if granted {
		t.Fatal("second claim inside window must not be granted")
	}
	if acct.TokenBalance != 2 {
		t.Fatalf("balance mismatch: got %d want 2", acct.TokenBalance)
	}
}

func TestAccountRepositoryAdjustFloorsAtZero(t *testing.T) {
	sql := &stubSQL{account: &domain.Account{ID: "acct-1", TokenBalance: 3}}
	repo := NewAccountRepository(sql)
	acct, err := repo.AdjustTokens(context.Background(), "acct-1", -10)
	if err != nil {
		t.Fatalf("AdjustTokens returned error: %v", err)
	}
	if acct.TokenBalance != 0 {
		t.Fatalf("expected floor at zero, got %d", acct.TokenBalance)
	}
}

func TestUsageRepositoryInsertJobDefaultsMetadata(t *testing.T) {
	sql := &stubSQL{}
	repo := NewUsageRepository(sql)
	job := &domain.GenerationJob{
		ID:        "7f0b6f8e-55b8-4c39-9a39-7d3b1a8b2f10",
		AccountID: "acct-1",
		Kind:      domain.JobRecolor,
		Status:    domain.JobStatusCompleted,
		Usage:     domain.TokenUsage{Input: 10, Output: 20, Total: 30},
		ModelUsed: "gemini-2.5-flash-image",
	}
	if err := repo.InsertJob(context.Background(), job); err != nil {
		t.Fatalf("InsertJob returned error: %v", err)
	}
	if len(sql.execs) != 1 || sql.execs[0] != sqlinline.QInsertGenerationJob {
		t.Fatalf("unexpected statements: %v", sql.execs)
	}
	if got := string(sql.args[0][8].([]byte)); got != "{}" {
		t.Fatalf("metadata mismatch: got %s", got)
	}
	if sql.args[0][9].(time.Time).IsZero() {
		t.Fatal("created_at should default to now")
	}
}
