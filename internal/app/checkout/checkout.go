// Package checkout opens paid checkouts for email credits.
//
// A checkout is recorded as a Pending ledger row before the payment provider
// is contacted, then linked to the provider's transaction id. The webhook
// reconciler later completes the row exactly once.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/emailfixer/creditd/internal/domain"
	"github.com/emailfixer/creditd/internal/infra/logging"
	"github.com/emailfixer/creditd/internal/infra/observability"
)

// Config controls checkout limits.
type Config struct {
	MinCredits      int64         // smallest purchasable amount (default: 100)
	MaxCredits      int64         // largest purchasable amount (default: 100000)
	ProviderTimeout time.Duration // bound on the provider call (default: 15s)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MinCredits:      100,
		MaxCredits:      100_000,
		ProviderTimeout: 15 * time.Second,
	}
}

// Result is returned to the caller so the user can be redirected to pay.
type Result struct {
	TransactionID         uuid.UUID       `json:"transaction_id"`
	ExternalTransactionID string          `json:"external_transaction_id"`
	CheckoutURL           string          `json:"checkout_url"`
	Amount                decimal.Decimal `json:"amount"`
	CreditsCount          int64           `json:"credits_count"`
}

// Initiator creates checkouts.
type Initiator struct {
	cfg      Config
	store    domain.LedgerStore
	provider domain.PaymentProvider
	tracer   *observability.Tracer
	log      zerolog.Logger
}

// New creates a checkout initiator. tracer may be nil.
func New(cfg Config, store domain.LedgerStore, provider domain.PaymentProvider, tracer *observability.Tracer, log zerolog.Logger) *Initiator {
	def := DefaultConfig()
	if cfg.MinCredits <= 0 {
		cfg.MinCredits = def.MinCredits
	}
	if cfg.MaxCredits <= 0 {
		cfg.MaxCredits = def.MaxCredits
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = def.ProviderTimeout
	}
	return &Initiator{
		cfg:      cfg,
		store:    store,
		provider: provider,
		tracer:   tracer,
		log:      logging.Component(log, "checkout"),
	}
}

// CreateCheckout validates the request, records a Pending purchase and asks
// the provider for a checkout URL.
//
// Errors: ErrInvalidQuantity, ErrUserNotFound, ErrProviderUnavailable. When
// the provider fails the Pending row stays unattached; the sweeper expires it.
func (i *Initiator) CreateCheckout(ctx context.Context, userID uuid.UUID, credits int64) (res *Result, err error) {
	ctx, span := i.tracer.Start(ctx, "checkout.create", map[string]string{
		"user_id": userID.String(),
		"credits": strconv.FormatInt(credits, 10),
	})
	defer func() { i.tracer.End(span, err) }()

	if err := i.checkQuantity(credits); err != nil {
		observability.CheckoutsRejected.WithLabelValues("quantity").Inc()
		return nil, err
	}

	if _, err := i.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			observability.CheckoutsRejected.WithLabelValues("unknown_user").Inc()
		}
		return nil, err
	}

	amount := domain.PriceForCredits(credits)
	tx, err := i.store.CreatePendingTransaction(ctx, userID, credits, amount, domain.TxPurchase)
	if err != nil {
		return nil, fmt.Errorf("create pending transaction: %w", err)
	}
	span.SetAttr("transaction_id", tx.ID.String())

	pctx, cancel := context.WithTimeout(ctx, i.cfg.ProviderTimeout)
	start := time.Now()
	pc, err := i.provider.CreateCheckout(pctx, domain.CheckoutRequest{
		UserID:  userID,
		Credits: credits,
		Amount:  amount,
	})
	cancel()
	observability.ProviderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.CheckoutsOrphaned.Inc()
		i.log.Warn().Err(err).
			Str("transaction_id", tx.ID.String()).
			Str("user_id", userID.String()).
			Int64("credits", credits).
			Msg("payment provider failed, pending transaction left unattached")
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	if err := i.store.AttachExternalID(ctx, tx.ID, pc.TransactionID); err != nil {
		observability.CheckoutsOrphaned.Inc()
		i.log.Error().Err(err).
			Str("transaction_id", tx.ID.String()).
			Str("external_transaction_id", pc.TransactionID).
			Msg("could not attach provider transaction id")
		return nil, fmt.Errorf("attach external id: %w", err)
	}

	observability.CheckoutsCreated.Inc()
	i.log.Info().
		Str("transaction_id", tx.ID.String()).
		Str("external_transaction_id", pc.TransactionID).
		Str("user_id", userID.String()).
		Int64("credits", credits).
		Str("amount", amount.StringFixed(domain.AmountScale)).
		Msg("checkout created")

	return &Result{
		TransactionID:         tx.ID,
		ExternalTransactionID: pc.TransactionID,
		CheckoutURL:           pc.CheckoutURL,
		Amount:                amount,
		CreditsCount:          credits,
	}, nil
}

func (i *Initiator) checkQuantity(credits int64) error {
	if credits < i.cfg.MinCredits || credits > i.cfg.MaxCredits {
		return fmt.Errorf("%w: %d not in [%d, %d]", domain.ErrInvalidQuantity, credits, i.cfg.MinCredits, i.cfg.MaxCredits)
	}
	return nil
}
