package paddle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/emailfixer/creditd/internal/domain"
)

// Event types the reconciler acts on.
const (
	EventTransactionCompleted = "transaction.completed"
	EventTransactionUpdated   = "transaction.updated"
)

// StatusCompleted is the only transaction status that grants credits.
const StatusCompleted = "completed"

// Event is a Paddle webhook notification. Data is decoded only for event
// types creditd understands; for anything else it is nil and RawData holds
// the undecoded payload.
type Event struct {
	EventID    string          `json:"event_id,omitempty"`
	EventType  string          `json:"event_type"`
	OccurredAt *time.Time      `json:"occurred_at,omitempty"`
	RawData    json.RawMessage `json:"data"`
	Data       *Transaction    `json:"-"`
}

// Transaction is the subset of a Paddle transaction creditd reads.
// CustomData stays raw: it is merchant-supplied and its shape is checked by
// DecodeCustomData, not by the envelope decoder.
type Transaction struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	CustomerID   string          `json:"customer_id,omitempty"`
	CurrencyCode string          `json:"currency_code,omitempty"`
	CustomData   json.RawMessage `json:"custom_data,omitempty"`
	Checkout     *Checkout       `json:"checkout,omitempty"`
	Details      *Details        `json:"details,omitempty"`
}

// CustomData is the opaque metadata attached at checkout and echoed back.
type CustomData struct {
	UserID       string `json:"user_id"`
	CreditsCount int64  `json:"credits_count"`
}

// Checkout holds the hosted checkout link.
type Checkout struct {
	URL string `json:"url"`
}

// Details carries transaction totals.
type Details struct {
	Totals *Totals `json:"totals,omitempty"`
}

// Totals are amounts in the currency's minor unit, as strings.
type Totals struct {
	Subtotal     string `json:"subtotal"`
	Total        string `json:"total"`
	CurrencyCode string `json:"currency_code"`
}

// ErrNoCustomData is returned by DecodeCustomData when nothing was echoed.
var ErrNoCustomData = errors.New("custom_data absent")

// ParseEvent decodes an already-authenticated webhook body. Only the envelope
// is required for every event; the transaction object must be present and
// carry an id only when the event type is one creditd acts on.
func ParseEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if ev.EventType == "" {
		return nil, fmt.Errorf("%w: missing event_type", domain.ErrMalformedPayload)
	}
	if !ev.Understood() {
		return &ev, nil
	}

	if isNull(ev.RawData) {
		return nil, fmt.Errorf("%w: missing transaction data", domain.ErrMalformedPayload)
	}
	var tx Transaction
	if err := json.Unmarshal(ev.RawData, &tx); err != nil {
		return nil, fmt.Errorf("%w: transaction data: %v", domain.ErrMalformedPayload, err)
	}
	if tx.ID == "" {
		return nil, fmt.Errorf("%w: missing transaction id", domain.ErrMalformedPayload)
	}
	ev.Data = &tx
	return &ev, nil
}

// Understood reports whether creditd acts on this event type.
func (e *Event) Understood() bool {
	return e.EventType == EventTransactionCompleted || e.EventType == EventTransactionUpdated
}

// TransactionID returns the provider transaction id, or "" when the data was
// not decoded.
func (e *Event) TransactionID() string {
	if e.Data == nil {
		return ""
	}
	return e.Data.ID
}

// DecodeCustomData decodes the echoed checkout metadata. A missing or null
// object yields ErrNoCustomData; a wrongly typed one yields a decode error.
func (t *Transaction) DecodeCustomData() (CustomData, error) {
	var cd CustomData
	if isNull(t.CustomData) {
		return cd, ErrNoCustomData
	}
	if err := json.Unmarshal(t.CustomData, &cd); err != nil {
		return CustomData{}, fmt.Errorf("custom_data unreadable: %w", err)
	}
	return cd, nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
