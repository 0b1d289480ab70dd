package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ─── Credit Transaction Types ───────────────────────────────────────────────
// These live in domain because they represent core business rules.
// Storage backends persist them; the app layer drives their lifecycle.

// TransactionType represents the business reason for a credit movement.
type TransactionType string

const (
	TxPurchase TransactionType = "Purchase"
	TxUsage    TransactionType = "Usage"
	TxRefund   TransactionType = "Refund"
	TxBonus    TransactionType = "Bonus"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxPurchase, TxUsage, TxRefund, TxBonus:
		return true
	}
	return false
}

// TransactionStatus is the lifecycle state of a ledger entry.
//
//	Pending ──► Completed ──► Refunded
//	   │
//	   └──────► Failed
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "Pending"
	StatusCompleted TransactionStatus = "Completed"
	StatusFailed    TransactionStatus = "Failed"
	StatusRefunded  TransactionStatus = "Refunded"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether no further webhook-driven transition is allowed.
func (s TransactionStatus) IsTerminal() bool {
	return s != StatusPending
}

// CanTransition reports whether moving from s to next is a legal edge.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted:
		return next == StatusRefunded
	}
	return false
}

// CreditTransaction is a single row in the credit ledger.
// Rows are never deleted; they form the audit trail behind every balance change.
type CreditTransaction struct {
	ID                    uuid.UUID         `json:"id"`
	UserID                uuid.UUID         `json:"user_id"`
	CreditsChange         int64             `json:"credits_change"`
	Amount                decimal.Decimal   `json:"amount"`
	Type                  TransactionType   `json:"type"`
	Status                TransactionStatus `json:"status"`
	Description           string            `json:"description,omitempty"`
	ExternalTransactionID *string           `json:"external_transaction_id,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
}

// ExternalID returns the provider transaction id, or "" if none is attached yet.
func (t CreditTransaction) ExternalID() string {
	if t.ExternalTransactionID == nil {
		return ""
	}
	return *t.ExternalTransactionID
}

// Completion is the outcome of LedgerStore.CompleteAndCredit.
// Credited is false when the transaction had already been completed.
type Completion struct {
	Transaction CreditTransaction
	Credited    bool
}
