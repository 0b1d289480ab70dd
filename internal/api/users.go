package api

import (
	"encoding/json"
	"net/http"

	"github.com/emailfixer/creditd/internal/domain"
	"github.com/emailfixer/creditd/internal/infra/observability"
)

// handleBalance returns a user's credit balance.
// GET /api/users/{userID}/balance
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	u, err := s.ledger.GetUser(r.Context(), userID)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":           u.ID.String(),
		"credits_available": u.CreditsAvailable,
		"credits_used":      u.CreditsUsed,
		"total_spent":       u.TotalSpent.StringFixed(domain.AmountScale),
	})
}

type usageRequest struct {
	Credits int64 `json:"credits"`
}

// handleUsage debits credits for performed validations.
// POST /api/users/{userID}/usage
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Credits <= 0 {
		writeError(w, http.StatusBadRequest, "credits must be a positive integer")
		return
	}

	tx, err := s.ledger.ConsumeCredits(r.Context(), userID, req.Credits)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	observability.CreditsConsumed.Add(float64(req.Credits))

	u, err := s.ledger.GetUser(r.Context(), userID)
	if err != nil {
		s.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id":    tx.ID.String(),
		"credits_consumed":  req.Credits,
		"credits_available": u.CreditsAvailable,
	})
}
