package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Ledger errors
	ErrUserNotFound        = errors.New("user not found")
	ErrUserExists          = errors.New("user already exists")
	ErrTransactionNotFound = errors.New("credit transaction not found")
	ErrInvalidAmount       = errors.New("amount does not match pricing")
	ErrDuplicateExternalID = errors.New("external transaction id already attached")
	ErrInvalidTransition   = errors.New("illegal transaction status transition")
	ErrInsufficientCredits = errors.New("insufficient credits")

	// Checkout errors
	ErrInvalidQuantity     = errors.New("credit quantity out of range")
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// Webhook errors
	ErrAuthentication    = errors.New("webhook signature invalid")
	ErrMalformedPayload  = errors.New("webhook payload malformed")
	ErrMissingMetadata   = errors.New("webhook custom data missing or malformed")
	ErrMetadataMismatch  = errors.New("webhook custom data does not match ledger")
	ErrOrphanTransaction = errors.New("completed payment has no pending transaction")
)
