package domain

import (
	"errors"
	"testing"
	"time"
)

func TestDailyRewardAvailable(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-23 * time.Hour)
	old := now.Add(-24 * time.Hour)

	tests := []struct {
		name      string
		claimedAt *time.Time
		want      bool
	}{
		{name: "never claimed", claimedAt: nil, want: true},
		{name: "claimed inside window", claimedAt: &recent, want: false},
		{name: "window elapsed exactly", claimedAt: &old, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Account{DailyRewardClaimedAt: tt.claimedAt}
			if got := a.DailyRewardAvailable(now); got != tt.want {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestPricingCharge(t *testing.T) {
	c, err := DefaultPricing.Charge(OpListing, 4)
	if err != nil {
		t.Fatalf("Charge returned error: %v", err)
	}
	if c.Total() != 20 || c.FreeEligible {
		t.Fatalf("unexpected charge: %+v", c)
	}
	if _, err := DefaultPricing.Charge(OpListing, 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := DefaultPricing.Charge("teleport", 1); err == nil {
		t.Fatal("expected unknown kind error")
	}
}

func TestInsufficientBalanceErrorMatchesSentinel(t *testing.T) {
	err := error(NewInsufficientBalance(3, 10))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatal("expected errors.Is to match ErrInsufficientBalance")
	}
	var typed *InsufficientBalanceError
	if !errors.As(err, &typed) || typed.Code != "INSUFFICIENT_TOKENS" {
		t.Fatalf("unexpected typed error: %#v", typed)
	}
}

func TestAspectRatioByIDFallsBackToSquare(t *testing.T) {
	r, ok := AspectRatioByID("story-9-16")
	if !ok || r.Width != 1080 || r.Height != 1920 {
		t.Fatalf("unexpected ratio: %+v", r)
	}
	r, ok = AspectRatioByID("unknown")
	if ok || r.ID != "square" {
		t.Fatalf("expected square fallback, got %+v ok=%v", r, ok)
	}
	if c, _ := AspectRatioByID("circle"); !c.Circular {
		t.Fatal("circle ratio must be circular")
	}
}
