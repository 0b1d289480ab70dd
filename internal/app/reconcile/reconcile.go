// Package reconcile turns authenticated payment webhooks into credit grants.
//
// Delivery is at-least-once and may be concurrent for the same provider
// transaction. The ledger's conditional Pending→Completed write decides which
// delivery credits the user; every other delivery is acknowledged as a
// duplicate with zero credits added.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emailfixer/creditd/internal/domain"
	"github.com/emailfixer/creditd/internal/infra/logging"
	"github.com/emailfixer/creditd/internal/infra/observability"
	"github.com/emailfixer/creditd/internal/infra/paddle"
)

// Result describes what a delivery did.
type Result struct {
	Success               bool   `json:"success"`
	EventType             string `json:"event_type"`
	ExternalTransactionID string `json:"transaction_id,omitempty"`
	UserID                string `json:"user_id,omitempty"`
	CreditsAdded          int64  `json:"credits_added"`
	Duplicate             bool   `json:"duplicate"`
	Ignored               bool   `json:"ignored,omitempty"`
}

// Reconciler applies webhook events to the ledger.
type Reconciler struct {
	store  domain.LedgerStore
	alerts domain.AlertSink
	tracer *observability.Tracer
	log    zerolog.Logger
}

// New creates a reconciler. alerts and tracer may be nil.
func New(store domain.LedgerStore, alerts domain.AlertSink, tracer *observability.Tracer, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		alerts: alerts,
		tracer: tracer,
		log:    logging.Component(log, "reconcile"),
	}
}

// Handle processes one webhook body. The caller must have verified its
// signature. Unknown events and non-completed statuses are acknowledged
// without touching the ledger.
//
// Errors: ErrMalformedPayload, ErrMissingMetadata, ErrOrphanTransaction,
// ErrMetadataMismatch, ErrInvalidTransition, or a storage error.
func (r *Reconciler) Handle(ctx context.Context, raw []byte) (res *Result, err error) {
	ctx, span := r.tracer.Start(ctx, "webhook.reconcile", nil)
	defer func() {
		r.tracer.End(span, err)
		observability.WebhooksReceived.WithLabelValues(outcome(res, err)).Inc()
	}()

	ev, err := paddle.ParseEvent(raw)
	if err != nil {
		return nil, err
	}
	span.SetAttr("event_type", ev.EventType)

	res = &Result{EventType: ev.EventType}
	if !ev.Understood() {
		r.log.Debug().Str("event_type", ev.EventType).Msg("ignoring unhandled event type")
		res.Success, res.Ignored = true, true
		return res, nil
	}

	span.SetAttr("external_transaction_id", ev.Data.ID)
	res.ExternalTransactionID = ev.Data.ID
	log := r.log.With().
		Str("event_type", ev.EventType).
		Str("external_transaction_id", ev.Data.ID).
		Logger()
	if sp := observability.SpanFromContext(ctx); sp != nil {
		log = log.With().Str("trace_id", sp.TraceID).Logger()
	}

	if ev.Data.Status != paddle.StatusCompleted {
		log.Debug().Str("status", ev.Data.Status).Msg("transaction not completed yet")
		res.Success, res.Ignored = true, true
		return res, nil
	}

	userID, credits, err := metadata(ev.Data)
	if err != nil {
		r.alert(ctx, log, domain.AlertMissingMetadata, ev, raw, err.Error())
		return nil, fmt.Errorf("%w: %v", domain.ErrMissingMetadata, err)
	}
	res.UserID = userID.String()

	tx, err := r.store.FindByExternalID(ctx, ev.Data.ID)
	if err != nil {
		return nil, fmt.Errorf("find transaction: %w", err)
	}
	if tx == nil {
		r.alert(ctx, log, domain.AlertOrphanTransaction, ev, raw,
			fmt.Sprintf("no pending transaction for user %s, %d credits", userID, credits))
		return nil, fmt.Errorf("%w: %s", domain.ErrOrphanTransaction, ev.Data.ID)
	}

	if tx.UserID != userID || tx.CreditsChange != credits {
		detail := fmt.Sprintf("ledger has user %s, %d credits; webhook says user %s, %d credits",
			tx.UserID, tx.CreditsChange, userID, credits)
		r.alert(ctx, log, domain.AlertMetadataMismatch, ev, raw, detail)
		return nil, fmt.Errorf("%w: %s", domain.ErrMetadataMismatch, detail)
	}

	c, err := r.store.CompleteAndCredit(ctx, tx.ID)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// Paid at the provider, but the row was already failed or refunded.
		r.alert(ctx, log, domain.AlertTerminalPayment, ev, raw,
			fmt.Sprintf("transaction %s is %s, %d credits not granted", tx.ID, tx.Status, tx.CreditsChange))
		return nil, fmt.Errorf("complete transaction %s: %w", tx.ID, err)
	}
	if err != nil {
		log.Error().Err(err).Str("transaction_id", tx.ID.String()).Str("status", string(tx.Status)).
			Msg("could not complete transaction")
		return nil, fmt.Errorf("complete transaction %s: %w", tx.ID, err)
	}

	res.Success = true
	res.UserID = c.Transaction.UserID.String()
	if !c.Credited {
		res.Duplicate = true
		log.Info().Str("transaction_id", tx.ID.String()).Msg("duplicate delivery, already credited")
		return res, nil
	}

	res.CreditsAdded = c.Transaction.CreditsChange
	span.SetAttr("credits_added", strconv.FormatInt(res.CreditsAdded, 10))
	observability.CreditsGranted.Add(float64(res.CreditsAdded))
	log.Info().
		Str("transaction_id", tx.ID.String()).
		Str("user_id", res.UserID).
		Int64("credits_added", res.CreditsAdded).
		Msg("credits granted")
	return res, nil
}

// metadata validates the custom_data echoed back by the provider. Any
// problem with it, including a wrongly typed field, is reported here so the
// caller can raise an alert.
func metadata(t *paddle.Transaction) (uuid.UUID, int64, error) {
	cd, err := t.DecodeCustomData()
	if err != nil {
		return uuid.Nil, 0, err
	}
	userID, err := uuid.Parse(cd.UserID)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, 0, fmt.Errorf("user_id %q is not a valid id", cd.UserID)
	}
	if cd.CreditsCount <= 0 {
		return uuid.Nil, 0, fmt.Errorf("credits_count %d is not positive", cd.CreditsCount)
	}
	return userID, cd.CreditsCount, nil
}

// alert records a payment that needs an operator. Recording failures are
// logged; they never mask the reconciliation error returned to the caller.
func (r *Reconciler) alert(ctx context.Context, log zerolog.Logger, kind domain.AlertKind, ev *paddle.Event, raw []byte, detail string) {
	observability.ReconciliationAlerts.WithLabelValues(string(kind)).Inc()
	log.Error().Str("alert", string(kind)).Str("detail", detail).Msg("payment needs manual reconciliation")

	if r.alerts == nil {
		return
	}
	err := r.alerts.RecordAlert(ctx, domain.Alert{
		Kind:                  kind,
		ExternalTransactionID: ev.TransactionID(),
		EventType:             ev.EventType,
		Detail:                detail,
		Payload:               string(raw),
		CreatedAt:             time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Msg("could not record reconciliation alert")
	}
}

func outcome(res *Result, err error) string {
	switch {
	case err != nil:
		switch {
		case errors.Is(err, domain.ErrMalformedPayload):
			return "malformed"
		case errors.Is(err, domain.ErrMissingMetadata):
			return "missing_metadata"
		case errors.Is(err, domain.ErrOrphanTransaction):
			return "orphan"
		case errors.Is(err, domain.ErrMetadataMismatch):
			return "mismatch"
		case errors.Is(err, domain.ErrInvalidTransition):
			return "terminal"
		}
		return "error"
	case res == nil:
		return "error"
	case res.Ignored:
		return "ignored"
	case res.Duplicate:
		return "duplicate"
	}
	return "credited"
}
