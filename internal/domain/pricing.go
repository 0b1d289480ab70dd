package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ─── Pricing ────────────────────────────────────────────────────────────────
// Fixed pricing: one currency unit buys 100 credits, billed to the cent.

const (
	// CreditsPerPack is how many credits one currency unit buys.
	CreditsPerPack = 100

	// AmountScale is the number of decimal places money is kept to.
	AmountScale = 2
)

// PriceForCredits returns the purchase amount for n credits.
func PriceForCredits(n int64) decimal.Decimal {
	return decimal.NewFromInt(n).Div(decimal.NewFromInt(CreditsPerPack)).Round(AmountScale)
}

// ValidatePurchase checks amount against the fixed pricing formula for n credits.
func ValidatePurchase(n int64, amount decimal.Decimal) error {
	if n <= 0 {
		return fmt.Errorf("%w: credits must be positive, got %d", ErrInvalidAmount, n)
	}
	want := PriceForCredits(n)
	if !amount.Equal(want) {
		return fmt.Errorf("%w: %d credits cost %s, got %s", ErrInvalidAmount, n, want.StringFixed(AmountScale), amount.StringFixed(AmountScale))
	}
	return nil
}

// ToMinorUnits converts an amount to integer cents for storage.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(AmountScale).Round(0).IntPart()
}

// FromMinorUnits converts stored integer cents back to an amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -AmountScale)
}
