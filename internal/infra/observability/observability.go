// Package observability holds creditd's Prometheus metrics and a small
// in-process span recorder used to inspect recent checkout and webhook
// activity through /api/debug/spans.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ═══════════════════════════════════════════════════════════════════════════
// Spans
// ═══════════════════════════════════════════════════════════════════════════

// SpanStatus indicates success/failure.
type SpanStatus string

const (
	SpanOK    SpanStatus = "ok"
	SpanError SpanStatus = "error"
)

// Span is one timed operation, optionally nested under a parent.
type Span struct {
	TraceID   string            `json:"trace_id"`
	SpanID    string            `json:"span_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Operation string            `json:"operation"`
	StartTime time.Time         `json:"start_time"`
	Duration  time.Duration     `json:"duration_ns"`
	Status    SpanStatus        `json:"status"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}

// SetAttr annotates the span. Safe on a nil span.
func (s *Span) SetAttr(key, value string) {
	if s == nil {
		return
	}
	if s.Attrs == nil {
		s.Attrs = make(map[string]string)
	}
	s.Attrs[key] = value
}

// ─── Tracer ─────────────────────────────────────────────────────────────────

// Tracer keeps the most recent finished spans in a bounded buffer.
type Tracer struct {
	mu       sync.Mutex
	spans    []Span
	maxSpans int
	enabled  bool
}

// TracerConfig configures the tracer.
type TracerConfig struct {
	Enabled  bool
	MaxSpans int // buffer size (default 1_000)
}

// DefaultTracerConfig returns production defaults.
func DefaultTracerConfig() TracerConfig {
	return TracerConfig{
		Enabled:  true,
		MaxSpans: 1_000,
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) *Tracer {
	if cfg.MaxSpans <= 0 {
		cfg.MaxSpans = DefaultTracerConfig().MaxSpans
	}
	return &Tracer{
		spans:    make([]Span, 0, cfg.MaxSpans),
		maxSpans: cfg.MaxSpans,
		enabled:  cfg.Enabled,
	}
}

// Start begins a span. The returned context carries the span so that spans
// started from it become children. A nil Tracer returns a detached span.
func (t *Tracer) Start(ctx context.Context, operation string, attrs map[string]string) (context.Context, *Span) {
	span := &Span{
		SpanID:    uuid.NewString(),
		Operation: operation,
		StartTime: time.Now(),
		Status:    SpanOK,
		Attrs:     attrs,
	}
	if parent, ok := ctx.Value(spanKey{}).(*Span); ok {
		span.TraceID = parent.TraceID
		span.ParentID = parent.SpanID
	} else if id, ok := ctx.Value(traceKey{}).(string); ok {
		span.TraceID = id
	} else {
		span.TraceID = uuid.NewString()
	}
	return context.WithValue(ctx, spanKey{}, span), span
}

// End finishes a span and records it. A non-nil err marks the span failed.
func (t *Tracer) End(span *Span, err error) {
	if t == nil || !t.enabled || span == nil {
		return
	}
	span.Duration = time.Since(span.StartTime)
	if err != nil {
		span.Status = SpanError
		span.SetAttr("error", err.Error())
		TraceErrors.Inc()
	}
	SpansRecorded.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.spans) >= t.maxSpans {
		t.spans = t.spans[1:]
	}
	t.spans = append(t.spans, *span)
}

// Spans returns up to limit of the most recent spans, oldest first.
func (t *Tracer) Spans(limit int) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.spans) {
		limit = len(t.spans)
	}
	out := make([]Span, limit)
	copy(out, t.spans[len(t.spans)-limit:])
	return out
}

// SpanCount returns the number of recorded spans.
func (t *Tracer) SpanCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.spans)
}

// Reset clears all recorded spans.
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = t.spans[:0]
}

// ─── Context Helpers ────────────────────────────────────────────────────────

type (
	spanKey  struct{}
	traceKey struct{}
)

// WithTraceID seeds the trace id for root spans started from ctx, typically
// the HTTP request id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// SpanFromContext returns the active span, or nil.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

// ═══════════════════════════════════════════════════════════════════════════
// Prometheus Metrics
// ═══════════════════════════════════════════════════════════════════════════

// ─── Checkout ───────────────────────────────────────────────────────────────

// CheckoutsCreated counts checkouts that reached the provider and were attached.
var CheckoutsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "creditd",
	Subsystem: "checkout",
	Name:      "created_total",
	Help:      "Checkouts created at the payment provider.",
})

// CheckoutsRejected counts checkouts refused before any external call.
var CheckoutsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "creditd",
	Subsystem: "checkout",
	Name:      "rejected_total",
	Help:      "Checkouts rejected by reason.",
}, []string{"reason"})

// CheckoutsOrphaned counts pending rows left unattached after a provider failure.
var CheckoutsOrphaned = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "creditd",
	Subsystem: "checkout",
	Name:      "orphaned_total",
	Help:      "Pending transactions left without an external id after a provider failure.",
})

// ProviderLatency tracks payment provider round trips.
var ProviderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "creditd",
	Subsystem: "provider",
	Name:      "request_seconds",
	Help:      "Payment provider request latency.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
})

// ─── Webhooks ───────────────────────────────────────────────────────────────

// WebhooksReceived counts webhook deliveries by outcome.
var WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "creditd",
	Subsystem: "webhook",
	Name:      "received_total",
	Help:      "Webhook deliveries by outcome.",
}, []string{"outcome"})

// CreditsGranted counts credits added by reconciled purchases.
var CreditsGranted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "creditd",
	Subsystem: "ledger",
	Name:      "credits_granted_total",
	Help:      "Credits granted by completed purchases.",
})

// CreditsConsumed counts credits spent through the usage endpoint.
var CreditsConsumed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "creditd",
	Subsystem: "ledger",
	Name:      "credits_consumed_total",
	Help:      "Credits consumed by email validations.",
})

// ReconciliationAlerts counts payments needing manual attention, by kind.
var ReconciliationAlerts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "creditd",
	Name:      "reconciliation_alerts_total",
	Help:      "Payments that could not be matched to a credit grant.",
}, []string{"kind"})

// SweeperExpired counts pending transactions failed by the sweeper.
var SweeperExpired = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "creditd",
	Subsystem: "sweeper",
	Name:      "expired_total",
	Help:      "Unattached pending transactions marked failed.",
})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// HTTPRequests counts API requests by route pattern and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "creditd",
	Subsystem: "http",
	Name:      "requests_total",
	Help:      "HTTP requests by route and status.",
}, []string{"method", "route", "status"})

// ─── Traces ─────────────────────────────────────────────────────────────────

// SpansRecorded tracks total spans recorded.
var SpansRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "creditd",
	Subsystem: "traces",
	Name:      "spans_recorded_total",
	Help:      "Total trace spans recorded.",
})

// TraceErrors tracks error spans.
var TraceErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "creditd",
	Subsystem: "traces",
	Name:      "error_spans_total",
	Help:      "Total trace spans with error status.",
})
