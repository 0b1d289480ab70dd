package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/emailfixer/creditd/internal/domain"
	"github.com/emailfixer/creditd/internal/security"
)

type stubProvider struct{}

func (stubProvider) CreateCheckout(ctx context.Context, req domain.CheckoutRequest) (*domain.ProviderCheckout, error) {
	return &domain.ProviderCheckout{TransactionID: "txn_daemon", CheckoutURL: "https://pay.example/txn_daemon"}, nil
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database.Path = t.TempDir()
	cfg.Paddle.APIKey = "key"
	cfg.Paddle.PriceID = "pri"
	cfg.Paddle.WebhookSecret = "whsec_daemon"
	cfg.API.Port = 0
	return cfg
}

func newTestDaemon(t *testing.T, cfg Config) *Daemon {
	t.Helper()
	store, err := OpenStore(context.Background(), cfg.Database)
	if err != nil {
		t.Fatalf("OpenStore() error: %v", err)
	}
	d, err := newWithStore(cfg, store, stubProvider{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("newWithStore() error: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestNew_RejectsIncompleteConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Path = t.TempDir()
	if _, err := New(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Error("New() should fail without paddle secrets")
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	if _, err := OpenStore(context.Background(), DatabaseConfig{Driver: "mysql"}); err == nil {
		t.Error("OpenStore() should reject unknown drivers")
	}
}

func TestDaemon_PurchaseFlow(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg)
	h := d.Handler()
	ctx := context.Background()

	u, err := d.store.CreateUser(ctx, "flow@example.com", "Flow")
	if err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/payment/checkout",
		strings.NewReader(fmt.Sprintf(`{"user_id":%q,"credits_count":1000}`, u.ID))))
	if w.Code != http.StatusOK {
		t.Fatalf("checkout: %d %s", w.Code, w.Body.String())
	}

	body := []byte(fmt.Sprintf(
		`{"event_type":"transaction.completed","data":{"id":"txn_daemon","status":"completed","custom_data":{"user_id":%q,"credits_count":1000}}}`, u.ID))
	sig := security.PaddleScheme{}.Sign(body, []byte(cfg.Paddle.WebhookSecret))
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", strings.NewReader(string(body)))
		req.Header.Set(security.HeaderName, sig)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("webhook #%d: %d %s", i, w.Code, w.Body.String())
		}
	}

	got, err := d.store.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser() error: %v", err)
	}
	if got.CreditsAvailable != 1000 || got.TotalSpent.StringFixed(2) != "10.00" {
		t.Errorf("balance = %d / %s, want 1000 / 10.00", got.CreditsAvailable, got.TotalSpent.StringFixed(2))
	}
}

func TestDaemon_ServeAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sweeper.Interval = "10ms"
	d := newTestDaemon(t, cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(b), "ok") {
		t.Errorf("health = %d %s", resp.StatusCode, b)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not stop")
	}
}
