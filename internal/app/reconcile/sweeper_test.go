package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/emailfixer/creditd/internal/domain"
)

func TestSweeper_RunOnce(t *testing.T) {
	_, db := newTestReconciler(t)
	ctx := context.Background()

	_, attached := pendingPurchase(t, db, 100, "ext-paid-later")
	u, _ := db.CreateUser(ctx, "abandoned@example.com", "Abandoned")
	abandoned, err := db.CreatePendingTransaction(ctx, u.ID, 200, domain.PriceForCredits(200), domain.TxPurchase)
	if err != nil {
		t.Fatalf("CreatePendingTransaction() error: %v", err)
	}

	s := NewSweeper(SweeperConfig{MaxAge: time.Hour}, db, zerolog.Nop())

	// Nothing is old enough yet.
	if n, err := s.RunOnce(ctx); err != nil || n != 0 {
		t.Fatalf("RunOnce() = %d, %v; want 0, nil", n, err)
	}

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err := s.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if n != 1 {
		t.Errorf("expired = %d, want 1", n)
	}

	got, _ := db.GetTransaction(ctx, abandoned.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("abandoned status = %s, want Failed", got.Status)
	}
	got, _ = db.GetTransaction(ctx, attached.ID)
	if got.Status != domain.StatusPending {
		t.Errorf("attached status = %s, want Pending", got.Status)
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	_, db := newTestReconciler(t)
	s := NewSweeper(SweeperConfig{Interval: 10 * time.Millisecond}, db, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestNewSweeper_Defaults(t *testing.T) {
	s := NewSweeper(SweeperConfig{}, nil, zerolog.Nop())
	if s.cfg != DefaultSweeperConfig() {
		t.Errorf("cfg = %+v, want %+v", s.cfg, DefaultSweeperConfig())
	}
}
