package domain

import "fmt"

// OperationKind names a costed client operation.
type OperationKind string

const (
	OpStudio            OperationKind = "studio"
	OpPack              OperationKind = "pack"
	OpRecolorSingle     OperationKind = "recolor_single"
	OpRecolorAll        OperationKind = "recolor_all"
	OpHDUpscale         OperationKind = "hd_upscale"
	OpListing           OperationKind = "listing"
	OpListingRegenerate OperationKind = "listing_regenerate"
	OpInfo              OperationKind = "info"
	OpTryOn             OperationKind = "tryon"
)

// Price describes how an operation is charged.
type Price struct {
	// Tokens charged per unit.
	Tokens int
	// FreeEligible operations consume the free allowance before tokens.
	FreeEligible bool
}

// PricingTable maps operation kinds to prices. It is read-only after startup.
type PricingTable map[OperationKind]Price

// DefaultPricing mirrors the published price list.
var DefaultPricing = PricingTable{
	OpStudio:            {Tokens: 1, FreeEligible: true},
	OpPack:              {Tokens: 1, FreeEligible: true},
	OpRecolorSingle:     {Tokens: 7},
	OpRecolorAll:        {Tokens: 20},
	OpHDUpscale:         {Tokens: 10},
	OpListing:           {Tokens: 5},
	OpListingRegenerate: {Tokens: 5},
	OpInfo:              {Tokens: 1, FreeEligible: true},
	OpTryOn:             {Tokens: 1, FreeEligible: true},
}

// Charge is a fully resolved ledger debit decided before generation starts.
type Charge struct {
	Kind         OperationKind
	Units        int
	UnitTokens   int
	FreeEligible bool
}

// Total returns the token cost if no free allowance is applied.
func (c Charge) Total() int {
	return c.Units * c.UnitTokens
}

// Charge resolves the debit for units of kind.
func (p PricingTable) Charge(kind OperationKind, units int) (Charge, error) {
	price, ok := p[kind]
	if !ok {
		return Charge{}, fmt.Errorf("pricing: unknown operation %q", kind)
	}
	if units <= 0 {
		return Charge{}, Invalid("units", "must be positive")
	}
	return Charge{Kind: kind, Units: units, UnitTokens: price.Tokens, FreeEligible: price.FreeEligible}, nil
}

// TokenBundle is a purchasable token package.
type TokenBundle struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Tokens   int    `json:"tokens"`
	PriceINR int    `json:"price_inr"`
}

var TokenBundles = []TokenBundle{
	{ID: "50_tokens", Name: "50 Tokens", Tokens: 50, PriceINR: 500},
	{ID: "100_tokens", Name: "100 Tokens", Tokens: 100, PriceINR: 800},
	{ID: "200_tokens", Name: "200 Tokens", Tokens: 200, PriceINR: 1500},
	{ID: "500_tokens", Name: "500 Tokens", Tokens: 500, PriceINR: 3000},
}
