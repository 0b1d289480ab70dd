package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/emailfixer/creditd/internal/daemon"
	"github.com/emailfixer/creditd/internal/domain"
	"github.com/emailfixer/creditd/internal/security"
)

// run executes the root command with a fresh CREDITD_HOME-relative config.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func setHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("CREDITD_HOME", home)
	t.Setenv("CREDITD_PADDLE_WEBHOOK_SECRET", "whsec_cli")
	return home
}

var uuidRe = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

func TestUsersCreateShow(t *testing.T) {
	setHome(t)

	out, err := run(t, "", "users", "create", "--email", "Ada@Example.com", "--name", "Ada")
	if err != nil {
		t.Fatalf("users create: %v (%s)", err, out)
	}
	id := uuidRe.FindString(out)
	if id == "" {
		t.Fatalf("no user id in %q", out)
	}

	out, err = run(t, "", "users", "show", id)
	if err != nil {
		t.Fatalf("users show: %v", err)
	}
	for _, want := range []string{"ada@example.com", "Available:  0 credits", "Spent:      $0.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("users show output missing %q:\n%s", want, out)
		}
	}

	if _, err := run(t, "", "users", "show", uuid.NewString()); err == nil {
		t.Error("users show for unknown id should fail")
	}
	if _, err := run(t, "", "users", "create", "--email", ""); err == nil {
		t.Error("users create without --email should fail")
	}
}

func TestTransactionsAndSweep(t *testing.T) {
	home := setHome(t)
	ctx := context.Background()

	store, err := daemon.OpenStore(ctx, daemon.DatabaseConfig{Path: home})
	if err != nil {
		t.Fatal(err)
	}
	u, _ := store.CreateUser(ctx, "ledger@example.com", "")
	tx, _ := store.CreatePendingTransaction(ctx, u.ID, 300, domain.PriceForCredits(300), domain.TxPurchase)
	store.Close()

	out, err := run(t, "", "transactions", u.ID.String())
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if !strings.Contains(out, "Pending") || !strings.Contains(out, "+300") || !strings.Contains(out, "3.00") {
		t.Errorf("transactions output:\n%s", out)
	}

	// Too young to expire with the default max age.
	out, err = run(t, "", "sweep")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "Expired 0") {
		t.Errorf("sweep output = %q", out)
	}

	out, err = run(t, "", "sweep", "--max-age", "1ns")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "Expired 1") {
		t.Errorf("sweep output = %q", out)
	}

	store, _ = daemon.OpenStore(ctx, daemon.DatabaseConfig{Path: home})
	defer store.Close()
	txs, _ := store.ListTransactions(ctx, u.ID)
	if len(txs) != 1 || txs[0].ID != tx.ID || txs[0].Status != domain.StatusFailed {
		t.Errorf("ledger = %+v, want the purchase Failed", txs)
	}
}

func TestAlerts(t *testing.T) {
	home := setHome(t)
	out, err := run(t, "", "alerts")
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	if !strings.Contains(out, "No reconciliation alerts") {
		t.Errorf("alerts output = %q", out)
	}

	ctx := context.Background()
	store, _ := daemon.OpenStore(ctx, daemon.DatabaseConfig{Path: home})
	store.RecordAlert(ctx, domain.Alert{
		Kind:                  domain.AlertOrphanTransaction,
		ExternalTransactionID: "txn_orphan",
		EventType:             "transaction.completed",
		Detail:                "no pending transaction",
	})
	store.Close()

	out, err = run(t, "", "alerts", "--limit", "5")
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	if !strings.Contains(out, "orphan_transaction") || !strings.Contains(out, "txn_orphan") {
		t.Errorf("alerts output:\n%s", out)
	}
}

func TestSign(t *testing.T) {
	home := setHome(t)
	body := `{"event_type":"transaction.completed","data":{"id":"txn_1"}}`

	out, err := run(t, body, "sign", "--scheme", "base64", "--secret", "s3cret")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	want := security.HeaderName + ": " + security.Base64HMAC{}.Sign([]byte(body), []byte("s3cret"))
	if strings.TrimSpace(out) != want {
		t.Errorf("sign output = %q, want %q", out, want)
	}

	path := filepath.Join(home, "event.json")
	os.WriteFile(path, []byte(body), 0600)
	out, err = run(t, "", "sign", "--scheme", "paddle", "--secret", "", path)
	if err != nil {
		t.Fatalf("sign file: %v", err)
	}
	header := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), security.HeaderName+":"))
	if !(security.PaddleScheme{Tolerance: security.DefaultTolerance}).Verify([]byte(body), header, []byte("whsec_cli")) {
		t.Errorf("signature %q does not verify with the configured secret", header)
	}
}
