package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// LedgerStore is durable storage for user balances and credit transactions.
type LedgerStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)

	// CreatePendingTransaction opens a Pending ledger entry for an existing user.
	// Purchase amounts are checked against the fixed pricing formula.
	CreatePendingTransaction(ctx context.Context, userID uuid.UUID, creditsChange int64, amount decimal.Decimal, typ TransactionType) (*CreditTransaction, error)

	// AttachExternalID records the provider's id on a transaction.
	// Uniqueness is enforced by the storage layer.
	AttachExternalID(ctx context.Context, txID uuid.UUID, externalID string) error

	// FindByExternalID returns nil, nil when no transaction owns externalID.
	FindByExternalID(ctx context.Context, externalID string) (*CreditTransaction, error)

	// CompleteAndCredit atomically moves a Pending transaction to Completed and
	// applies it to the owner's balance. Already-completed is a no-op success.
	CompleteAndCredit(ctx context.Context, txID uuid.UUID) (Completion, error)

	ListTransactions(ctx context.Context, userID uuid.UUID) ([]CreditTransaction, error)

	// ExpireUnattachedPending fails Pending rows without an external id created
	// before cutoff and returns how many were expired.
	ExpireUnattachedPending(ctx context.Context, cutoff time.Time) (int64, error)
}

// PaymentProvider opens checkout sessions at the external payment processor.
type PaymentProvider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*ProviderCheckout, error)
}

// CheckoutRequest is what the provider needs to open a checkout.
// UserID and Credits travel as opaque metadata echoed back in webhooks.
type CheckoutRequest struct {
	UserID  uuid.UUID
	Credits int64
	Amount  decimal.Decimal
}

// ProviderCheckout is the provider's answer to a checkout request.
type ProviderCheckout struct {
	TransactionID string
	CheckoutURL   string
}

// AlertSink receives payments that could not be matched to a credit grant.
type AlertSink interface {
	RecordAlert(ctx context.Context, a Alert) error
}
