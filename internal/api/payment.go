package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/emailfixer/creditd/internal/domain"
	"github.com/emailfixer/creditd/internal/infra/observability"
	"github.com/emailfixer/creditd/internal/security"
)

// ─── Payment API ────────────────────────────────────────────────────────────
//
// POST /api/payment/checkout                 open a checkout for a credit pack
// POST /api/payment/webhook                  payment provider notifications
// GET  /api/payment/transactions/{userID}    ledger history, newest first

type checkoutRequest struct {
	UserID       string `json:"user_id"`
	CreditsCount int64  `json:"credits_count"`
}

type checkoutResponse struct {
	CheckoutURL   string `json:"checkout_url"`
	TransactionID string `json:"transaction_id"`
	LedgerID      string `json:"ledger_transaction_id"`
	Amount        string `json:"amount"`
	CreditsCount  int64  `json:"credits_count"`
}

// handleCheckout creates a checkout.
// POST /api/payment/checkout
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}

	res, err := s.checkout.CreateCheckout(r.Context(), userID, req.CreditsCount)
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
		return
	case errors.Is(err, domain.ErrProviderUnavailable):
		writeError(w, http.StatusServiceUnavailable, "payment provider unavailable, try again")
		return
	case err != nil:
		s.log.Error().Err(err).Str("user_id", userID.String()).Msg("checkout failed")
		writeError(w, http.StatusInternalServerError, "checkout failed")
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		CheckoutURL:   res.CheckoutURL,
		TransactionID: res.ExternalTransactionID,
		LedgerID:      res.TransactionID.String(),
		Amount:        res.Amount.StringFixed(domain.AmountScale),
		CreditsCount:  res.CreditsCount,
	})
}

// handleWebhook authenticates and reconciles a provider notification. The
// signature is checked against the exact raw bytes before anything is parsed.
// POST /api/payment/webhook
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			observability.WebhooksReceived.WithLabelValues("too_large").Inc()
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if len(raw) == 0 {
		observability.WebhooksReceived.WithLabelValues("empty").Inc()
		writeError(w, http.StatusBadRequest, "missing body")
		return
	}

	header := r.Header.Get(security.HeaderName)
	if header == "" {
		observability.WebhooksReceived.WithLabelValues("unsigned").Inc()
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("webhook without signature")
		writeError(w, http.StatusBadRequest, "missing signature")
		return
	}
	if !s.auth.Scheme.Verify(raw, header, s.auth.Secret) {
		observability.WebhooksReceived.WithLabelValues("unauthorized").Inc()
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("webhook signature rejected")
		writeError(w, http.StatusUnauthorized, domain.ErrAuthentication.Error())
		return
	}

	res, err := s.reconciler.Handle(r.Context(), raw)
	if err != nil {
		if isReconcileRejection(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error().Err(err).Msg("webhook processing failed")
		writeError(w, http.StatusInternalServerError, "webhook processing failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func isReconcileRejection(err error) bool {
	for _, target := range []error{
		domain.ErrMalformedPayload,
		domain.ErrMissingMetadata,
		domain.ErrMetadataMismatch,
		domain.ErrOrphanTransaction,
		domain.ErrInvalidTransition,
		domain.ErrTransactionNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

type transactionView struct {
	ID                    string  `json:"id"`
	CreditsChange         int64   `json:"credits_change"`
	Amount                string  `json:"amount"`
	Type                  string  `json:"type"`
	Status                string  `json:"status"`
	Description           string  `json:"description"`
	ExternalTransactionID string  `json:"external_transaction_id,omitempty"`
	CreatedAt             string  `json:"created_at"`
	CompletedAt           *string `json:"completed_at,omitempty"`
}

func toTransactionView(t domain.CreditTransaction) transactionView {
	v := transactionView{
		ID:                    t.ID.String(),
		CreditsChange:         t.CreditsChange,
		Amount:                t.Amount.StringFixed(domain.AmountScale),
		Type:                  string(t.Type),
		Status:                string(t.Status),
		Description:           t.Description,
		ExternalTransactionID: t.ExternalID(),
		CreatedAt:             t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if t.CompletedAt != nil {
		c := t.CompletedAt.UTC().Format(time.RFC3339)
		v.CompletedAt = &c
	}
	return v
}

// handleTransactions lists a user's ledger.
// GET /api/payment/transactions/{userID}
func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	if _, err := s.ledger.GetUser(r.Context(), userID); err != nil {
		s.writeLedgerError(w, err)
		return
	}
	txs, err := s.ledger.ListTransactions(r.Context(), userID)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	out := make([]transactionView, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionView(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      userID.String(),
		"transactions": out,
	})
}

func (s *Server) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, domain.ErrInsufficientCredits):
		writeError(w, http.StatusConflict, "insufficient credits")
	default:
		s.log.Error().Err(err).Msg("ledger error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
