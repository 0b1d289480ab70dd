package domain

import "time"

// AlertKind classifies a reconciliation alert.
type AlertKind string

const (
	AlertOrphanTransaction AlertKind = "orphan_transaction"
	AlertMissingMetadata   AlertKind = "missing_metadata"
	AlertMetadataMismatch  AlertKind = "metadata_mismatch"
	AlertTerminalPayment   AlertKind = "terminal_transaction"
)

// Alert records a payment the provider reported as received that did not
// produce a credit grant. Operators reconcile these by hand.
type Alert struct {
	ID                    int64     `json:"id"`
	Kind                  AlertKind `json:"kind"`
	ExternalTransactionID string    `json:"external_transaction_id,omitempty"`
	EventType             string    `json:"event_type,omitempty"`
	Detail                string    `json:"detail"`
	Payload               string    `json:"payload,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}
