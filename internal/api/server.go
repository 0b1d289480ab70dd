// Package api provides the creditd HTTP server: checkout creation, the payment
// webhook, and read access to balances and ledger history.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/emailfixer/creditd/internal/app/checkout"
	"github.com/emailfixer/creditd/internal/app/reconcile"
	"github.com/emailfixer/creditd/internal/domain"
	"github.com/emailfixer/creditd/internal/infra/logging"
	"github.com/emailfixer/creditd/internal/infra/observability"
	"github.com/emailfixer/creditd/internal/security"
)

// maxWebhookBody caps webhook payloads. Paddle events are a few KiB.
const maxWebhookBody = 1 << 20

// Ledger is the read and usage side of the credit store.
type Ledger interface {
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	ListTransactions(ctx context.Context, userID uuid.UUID) ([]domain.CreditTransaction, error)
	ConsumeCredits(ctx context.Context, userID uuid.UUID, n int64) (*domain.CreditTransaction, error)
}

// WebhookAuth verifies inbound webhook signatures.
type WebhookAuth struct {
	Scheme security.Scheme
	Secret []byte
}

// Server is the creditd HTTP API server.
type Server struct {
	ledger         Ledger
	checkout       *checkout.Initiator
	reconciler     *reconcile.Reconciler
	auth           WebhookAuth
	tracer         *observability.Tracer
	log            zerolog.Logger
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(ledger Ledger, initiator *checkout.Initiator, reconciler *reconcile.Reconciler, auth WebhookAuth, log zerolog.Logger) *Server {
	return &Server{
		ledger:     ledger,
		checkout:   initiator,
		reconciler: reconciler,
		auth:       auth,
		log:        logging.Component(log, "api"),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetTracer exposes recent spans on /api/debug/spans.
func (s *Server) SetTracer(t *observability.Tracer) { s.tracer = t }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/api/payment", func(r chi.Router) {
		r.Post("/checkout", s.handleCheckout)
		r.Post("/webhook", s.handleWebhook)
		r.Get("/transactions/{userID}", s.handleTransactions)
	})

	r.Route("/api/users/{userID}", func(r chi.Router) {
		r.Get("/balance", s.handleBalance)
		r.Post("/usage", s.handleUsage)
	})

	if s.tracer != nil {
		r.Get("/api/debug/spans", s.handleSpans)
		r.Delete("/api/debug/spans", s.handleResetSpans)
	}

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type pinger interface{ Ping() error }
	if p, ok := s.ledger.(pinger); ok {
		if err := p.Ping(); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSpans returns recent spans.
// GET /api/debug/spans?limit=N
func (s *Server) handleSpans(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	writeJSON(w, http.StatusOK, s.tracer.Spans(limit))
}

// handleResetSpans drops recorded spans.
// DELETE /api/debug/spans
func (s *Server) handleResetSpans(w http.ResponseWriter, r *http.Request) {
	s.tracer.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// requestLogger logs each request and counts it by route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		reqID := middleware.GetReqID(r.Context())
		if reqID != "" {
			r = r.WithContext(observability.WithTraceID(r.Context(), reqID))
		}

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		observability.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()

		ev := s.log.Info()
		if status >= 500 {
			ev = s.log.Error()
		} else if status >= 400 {
			ev = s.log.Warn()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", reqID).
			Msg("request")
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

// userIDParam parses the {userID} route parameter.
func userIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return uuid.Nil, false
	}
	return id, true
}
