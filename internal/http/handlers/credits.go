package handlers

import (
	"net/http"

	"sorapixel/internal/domain"
	"sorapixel/internal/middleware"
	"sorapixel/internal/pipeline"
)

type tokenAmountRequest struct {
	AccountID string `json:"account_id" validate:"required,max=128"`
	Amount    int    `json:"amount" validate:"required"`
}

// Credits returns the caller's balance snapshot.
func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	b, err := a.Ledger.GetBalance(r.Context(), middleware.AccountIDFromContext(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, b)
}

func (a *App) DailyReward(w http.ResponseWriter, r *http.Request) {
	reward, err := a.Ledger.ClaimDailyReward(r.Context(), middleware.AccountIDFromContext(r.Context()))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, reward)
}

func (a *App) Bundles(w http.ResponseWriter, r *http.Request) {
	a.ok(w, map[string]any{"bundles": domain.TokenBundles})
}

// Catalog lists the style presets and output ratios clients can request.
func (a *App) Catalog(w http.ResponseWriter, r *http.Request) {
	a.ok(w, map[string]any{
		"styles":        domain.Styles,
		"aspect_ratios": domain.AspectRatios,
		"jewelry_types": pipeline.JewelryTypes,
	})
}

// AdminAddTokens credits an account; amount must be positive.
func (a *App) AdminAddTokens(w http.ResponseWriter, r *http.Request) {
	var body tokenAmountRequest
	if err := a.decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Ledger.OpenAccount(r.Context(), body.AccountID, 0); err != nil {
		a.fail(w, r, err)
		return
	}
	balance, err := a.Ledger.AddTokens(r.Context(), body.AccountID, body.Amount)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"account_id": body.AccountID, "token_balance": balance})
}

// AdminAdjustTokens applies a signed delta to an existing account.
func (a *App) AdminAdjustTokens(w http.ResponseWriter, r *http.Request) {
	var body tokenAmountRequest
	if err := a.decode(w, r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	balance, err := a.Ledger.AdjustTokens(r.Context(), body.AccountID, body.Amount)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.ok(w, map[string]any{"account_id": body.AccountID, "token_balance": balance})
}
