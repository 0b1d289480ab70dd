package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

// ─── Status Machine Tests ───────────────────────────────────────────────────

func TestTransactionStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from TransactionStatus
		to   TransactionStatus
		want bool
	}{
		{StatusPending, StatusCompleted, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusRefunded, false},
		{StatusCompleted, StatusRefunded, true},
		{StatusCompleted, StatusCompleted, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusCompleted, false},
		{StatusRefunded, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransactionStatus_IsTerminal(t *testing.T) {
	if StatusPending.IsTerminal() {
		t.Error("Pending should not be terminal")
	}
	for _, s := range []TransactionStatus{StatusCompleted, StatusFailed, StatusRefunded} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestTransactionType_Valid(t *testing.T) {
	if !TxPurchase.Valid() || !TxUsage.Valid() || !TxRefund.Valid() || !TxBonus.Valid() {
		t.Error("known types should be valid")
	}
	if TransactionType("Gift").Valid() {
		t.Error("unknown type should be invalid")
	}
}

func TestCreditTransaction_ExternalID(t *testing.T) {
	var tx CreditTransaction
	if got := tx.ExternalID(); got != "" {
		t.Errorf("ExternalID() = %q, want empty", got)
	}
	ext := "txn_01"
	tx.ExternalTransactionID = &ext
	if got := tx.ExternalID(); got != ext {
		t.Errorf("ExternalID() = %q, want %q", got, ext)
	}
}

// ─── Pricing Tests ──────────────────────────────────────────────────────────

func TestPriceForCredits(t *testing.T) {
	tests := []struct {
		credits int64
		want    string
	}{
		{100, "1.00"},
		{500, "5.00"},
		{1000, "10.00"},
		{150, "1.50"},
		{100000, "1000.00"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := PriceForCredits(tt.credits)
			if got.StringFixed(AmountScale) != tt.want {
				t.Errorf("PriceForCredits(%d) = %s, want %s", tt.credits, got.StringFixed(2), tt.want)
			}
		})
	}
}

func TestValidatePurchase(t *testing.T) {
	if err := ValidatePurchase(500, decimal.RequireFromString("5.00")); err != nil {
		t.Errorf("ValidatePurchase(500, 5.00) error: %v", err)
	}
	if err := ValidatePurchase(500, decimal.RequireFromString("4.99")); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("ValidatePurchase(500, 4.99) = %v, want ErrInvalidAmount", err)
	}
	if err := ValidatePurchase(0, decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("ValidatePurchase(0, 0) = %v, want ErrInvalidAmount", err)
	}
}

func TestMinorUnits_RoundTrip(t *testing.T) {
	amount := decimal.RequireFromString("10.25")
	cents := ToMinorUnits(amount)
	if cents != 1025 {
		t.Fatalf("ToMinorUnits(10.25) = %d, want 1025", cents)
	}
	if back := FromMinorUnits(cents); !back.Equal(amount) {
		t.Errorf("FromMinorUnits(1025) = %s, want 10.25", back)
	}
}
