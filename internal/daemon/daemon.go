package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emailfixer/creditd/internal/api"
	"github.com/emailfixer/creditd/internal/app/checkout"
	"github.com/emailfixer/creditd/internal/app/reconcile"
	"github.com/emailfixer/creditd/internal/domain"
	"github.com/emailfixer/creditd/internal/infra/observability"
	"github.com/emailfixer/creditd/internal/infra/paddle"
	"github.com/emailfixer/creditd/internal/infra/postgres"
	"github.com/emailfixer/creditd/internal/infra/sqlite"
	"github.com/emailfixer/creditd/internal/security"
)

// Store is everything creditd needs from a ledger backend.
type Store interface {
	domain.LedgerStore
	domain.AlertSink
	CreateUser(ctx context.Context, email, displayName string) (*domain.User, error)
	ConsumeCredits(ctx context.Context, userID uuid.UUID, n int64) (*domain.CreditTransaction, error)
	ListAlerts(ctx context.Context, limit int) ([]domain.Alert, error)
	Ping() error
	Close() error
}

var (
	_ Store = (*sqlite.DB)(nil)
	_ Store = (*postgres.Store)(nil)
)

// OpenStore opens the configured ledger backend.
func OpenStore(ctx context.Context, cfg DatabaseConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		dir := cfg.Path
		if dir == "" {
			dir = Home()
		}
		db, err := sqlite.Open(dir)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// SweeperSettings converts the [sweeper] section. Zero values take defaults.
func (c Config) SweeperSettings() reconcile.SweeperConfig {
	return reconcile.SweeperConfig{
		Interval: mustDuration(c.Sweeper.Interval),
		MaxAge:   mustDuration(c.Sweeper.MaxAge),
	}
}

// Daemon is a running creditd instance.
type Daemon struct {
	cfg     Config
	log     zerolog.Logger
	store   Store
	server  *api.Server
	sweeper *reconcile.Sweeper
}

// New opens the store and wires every component.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Daemon, error) {
	if err := cfg.ValidateServe(); err != nil {
		return nil, err
	}
	store, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	d, err := newWithStore(cfg, store, paddle.NewClient(paddle.Config{
		BaseURL: cfg.Paddle.BaseURL,
		APIKey:  cfg.Paddle.APIKey,
		PriceID: cfg.Paddle.PriceID,
		Timeout: mustDuration(cfg.Paddle.Timeout),
	}), log)
	if err != nil {
		store.Close()
		return nil, err
	}
	return d, nil
}

func newWithStore(cfg Config, store Store, provider domain.PaymentProvider, log zerolog.Logger) (*Daemon, error) {
	scheme, err := security.SchemeByName(cfg.Paddle.SignatureScheme)
	if err != nil {
		return nil, err
	}
	tracer := observability.NewTracer(observability.DefaultTracerConfig())

	initiator := checkout.New(checkout.Config{
		MinCredits:      cfg.Credits.Min,
		MaxCredits:      cfg.Credits.Max,
		ProviderTimeout: mustDuration(cfg.Paddle.Timeout),
	}, store, provider, tracer, log)
	reconciler := reconcile.New(store, store, tracer, log)

	srv := api.NewServer(store, initiator, reconciler, api.WebhookAuth{
		Scheme: scheme,
		Secret: []byte(cfg.Paddle.WebhookSecret),
	}, log)
	srv.SetTracer(tracer)
	if cfg.Metrics.Enabled {
		srv.EnableMetrics()
	}

	d := &Daemon{cfg: cfg, log: log, store: store, server: srv}
	if cfg.Sweeper.Enabled {
		d.sweeper = reconcile.NewSweeper(cfg.SweeperSettings(), store, log)
	}
	return d, nil
}

// Handler returns the HTTP handler.
func (d *Daemon) Handler() http.Handler { return d.server.Handler() }

// Run serves HTTP and runs the sweeper until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.API.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.cfg.API.Addr(), err)
	}
	return d.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		if d.sweeper != nil {
			d.sweeper.Run(ctx)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		d.log.Info().Str("addr", ln.Addr().String()).Str("driver", d.cfg.Database.Driver).Msg("creditd listening")
		errCh <- httpSrv.Serve(ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		d.log.Warn().Err(err).Msg("http shutdown")
	}
	<-sweepDone
	d.log.Info().Msg("creditd stopped")

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

// Close releases the store.
func (d *Daemon) Close() error {
	return d.store.Close()
}
