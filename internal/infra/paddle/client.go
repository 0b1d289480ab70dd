// Package paddle talks to the Paddle Billing API and decodes its webhooks.
package paddle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emailfixer/creditd/internal/domain"
)

// DefaultBaseURL is Paddle's production API.
const DefaultBaseURL = "https://api.paddle.com"

// Config controls the API client.
type Config struct {
	BaseURL string
	APIKey  string
	PriceID string        // catalog price of a single credit
	Timeout time.Duration // per request (default: 10s)
}

// Client opens checkout transactions at Paddle.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ domain.PaymentProvider = (*Client)(nil)

// NewClient creates a Paddle API client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// ─── Wire Types ─────────────────────────────────────────────────────────────

type createTransactionRequest struct {
	Items      []transactionItem `json:"items"`
	CustomData CustomData        `json:"custom_data"`
}

type transactionItem struct {
	PriceID  string `json:"price_id"`
	Quantity int64  `json:"quantity"`
}

type transactionResponse struct {
	Data *Transaction `json:"data"`
}

type errorResponse struct {
	Error struct {
		Type   string `json:"type"`
		Code   string `json:"code"`
		Detail string `json:"detail"`
	} `json:"error"`
}

// CreateCheckout creates a Paddle transaction for req and returns its
// checkout URL. The configured price is per credit, so the line quantity is
// the credit count. The user id and credit count ride along as custom_data,
// which Paddle echoes back on every webhook for the transaction.
func (c *Client) CreateCheckout(ctx context.Context, req domain.CheckoutRequest) (*domain.ProviderCheckout, error) {
	body, err := json.Marshal(createTransactionRequest{
		Items: []transactionItem{{
			PriceID:  c.cfg.PriceID,
			Quantity: req.Credits,
		}},
		CustomData: CustomData{
			UserID:       req.UserID.String(),
			CreditsCount: req.Credits,
		},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("paddle request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read paddle response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		if json.Unmarshal(raw, &e) == nil && e.Error.Detail != "" {
			return nil, fmt.Errorf("paddle returned %d: %s (%s)", resp.StatusCode, e.Error.Detail, e.Error.Code)
		}
		return nil, fmt.Errorf("paddle returned %d", resp.StatusCode)
	}

	var out transactionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode paddle response: %w", err)
	}
	if out.Data == nil || out.Data.ID == "" {
		return nil, fmt.Errorf("paddle response missing transaction id")
	}
	if out.Data.Checkout == nil || out.Data.Checkout.URL == "" {
		return nil, fmt.Errorf("paddle response missing checkout url")
	}
	return &domain.ProviderCheckout{
		TransactionID: out.Data.ID,
		CheckoutURL:   out.Data.Checkout.URL,
	}, nil
}
