package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/emailfixer/creditd/internal/domain"
)

// These tests need a live database:
//
//	CREDITD_TEST_POSTGRES_DSN=postgres://localhost/creditd_test go test ./internal/infra/postgres
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("CREDITD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CREDITD_TEST_POSTGRES_DSN not set")
	}
	s, err := Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PurchaseLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, uuid.NewString()+"@example.com", "pg")
	if err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}
	tx, err := s.CreatePendingTransaction(ctx, u.ID, 1000, domain.PriceForCredits(1000), domain.TxPurchase)
	if err != nil {
		t.Fatalf("CreatePendingTransaction() error: %v", err)
	}
	ext := "pg-" + uuid.NewString()
	if err := s.AttachExternalID(ctx, tx.ID, ext); err != nil {
		t.Fatalf("AttachExternalID() error: %v", err)
	}

	other, _ := s.CreatePendingTransaction(ctx, u.ID, 100, domain.PriceForCredits(100), domain.TxPurchase)
	if err := s.AttachExternalID(ctx, other.ID, ext); !errors.Is(err, domain.ErrDuplicateExternalID) {
		t.Errorf("duplicate attach = %v, want ErrDuplicateExternalID", err)
	}

	found, err := s.FindByExternalID(ctx, ext)
	if err != nil || found == nil || found.ID != tx.ID {
		t.Fatalf("FindByExternalID() = %v, %v", found, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	credited := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.CompleteAndCredit(ctx, tx.ID)
			if err != nil {
				t.Errorf("CompleteAndCredit() error: %v", err)
				return
			}
			if c.Credited {
				mu.Lock()
				credited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if credited != 1 {
		t.Errorf("credited = %d, want 1", credited)
	}

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser() error: %v", err)
	}
	if got.CreditsAvailable != 1000 || got.TotalSpent.StringFixed(2) != "10.00" {
		t.Errorf("balance = %d / %s, want 1000 / 10.00", got.CreditsAvailable, got.TotalSpent.StringFixed(2))
	}
}

func TestStore_UnknownUser(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreatePendingTransaction(context.Background(), uuid.New(), 100, domain.PriceForCredits(100), domain.TxPurchase)
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Errorf("CreatePendingTransaction() = %v, want ErrUserNotFound", err)
	}
}
