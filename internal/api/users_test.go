package api

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/emailfixer/creditd/internal/domain"
)

func TestUsage(t *testing.T) {
	f := setupServer(t)
	ctx := context.Background()
	u := f.user(t)
	tx, _ := f.db.CreatePendingTransaction(ctx, u.ID, 200, domain.PriceForCredits(200), domain.TxPurchase)
	if _, err := f.db.CompleteAndCredit(ctx, tx.ID); err != nil {
		t.Fatalf("CompleteAndCredit: %v", err)
	}
	path := "/api/users/" + u.ID.String() + "/usage"

	w := f.do(http.MethodPost, path, []byte(`{"credits":150}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["credits_available"]; got != float64(50) {
		t.Errorf("credits_available = %v, want 50", got)
	}

	if w := f.do(http.MethodPost, path, []byte(`{"credits":51}`), nil); w.Code != http.StatusConflict {
		t.Errorf("overdraw: expected 409, got %d", w.Code)
	}

	bal := decode(t, f.do(http.MethodGet, "/api/users/"+u.ID.String()+"/balance", nil, nil))
	if bal["credits_available"] != float64(50) || bal["credits_used"] != float64(150) {
		t.Errorf("balance = %v, want 50 available / 150 used", bal)
	}
}

func TestUsage_Errors(t *testing.T) {
	f := setupServer(t)
	u := f.user(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"bad id", "/api/users/xyz/usage", `{"credits":1}`, http.StatusBadRequest},
		{"zero", "/api/users/" + u.ID.String() + "/usage", `{"credits":0}`, http.StatusBadRequest},
		{"negative", "/api/users/" + u.ID.String() + "/usage", `{"credits":-3}`, http.StatusBadRequest},
		{"not json", "/api/users/" + u.ID.String() + "/usage", `credits`, http.StatusBadRequest},
		{"unknown user", "/api/users/" + uuid.NewString() + "/usage", `{"credits":1}`, http.StatusNotFound},
		{"empty balance", "/api/users/" + u.ID.String() + "/usage", `{"credits":1}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, tt.path, []byte(tt.body), nil)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestBalance_NotFound(t *testing.T) {
	f := setupServer(t)
	w := f.do(http.MethodGet, "/api/users/"+uuid.NewString()+"/balance", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	resp := decode(t, w)
	e, _ := resp["error"].(map[string]any)
	if e == nil || e["type"] != "error" || !strings.Contains(e["message"].(string), "not found") {
		t.Errorf("error body = %v", resp)
	}
}
