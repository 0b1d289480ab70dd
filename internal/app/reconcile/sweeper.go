package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/emailfixer/creditd/internal/domain"
	"github.com/emailfixer/creditd/internal/infra/logging"
	"github.com/emailfixer/creditd/internal/infra/observability"
)

// SweeperConfig controls expiry of abandoned checkouts.
type SweeperConfig struct {
	Interval time.Duration // how often to sweep (default: 10m)
	MaxAge   time.Duration // unattached pending rows older than this fail (default: 1h)
}

// DefaultSweeperConfig returns production defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval: 10 * time.Minute,
		MaxAge:   time.Hour,
	}
}

// Sweeper fails Pending purchases that never received a provider id, which
// happens when the provider call in checkout failed or timed out.
type Sweeper struct {
	cfg   SweeperConfig
	store domain.LedgerStore
	log   zerolog.Logger
	now   func() time.Time
}

// NewSweeper creates a sweeper.
func NewSweeper(cfg SweeperConfig, store domain.LedgerStore, log zerolog.Logger) *Sweeper {
	def := DefaultSweeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	return &Sweeper{
		cfg:   cfg,
		store: store,
		log:   logging.Component(log, "sweeper"),
		now:   time.Now,
	}
}

// RunOnce expires stale rows and returns how many were failed.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.MaxAge)
	n, err := s.store.ExpireUnattachedPending(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.SweeperExpired.Add(float64(n))
		s.log.Info().Int64("expired", n).Time("cutoff", cutoff).Msg("expired abandoned checkouts")
	}
	return n, nil
}

// Run sweeps every Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}
