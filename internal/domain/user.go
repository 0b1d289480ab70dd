package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User owns a prepaid credit balance.
type User struct {
	ID               uuid.UUID       `json:"id"`
	Email            string          `json:"email"`
	DisplayName      string          `json:"display_name,omitempty"`
	CreditsAvailable int64           `json:"credits_available"`
	CreditsUsed      int64           `json:"credits_used"`
	TotalSpent       decimal.Decimal `json:"total_spent"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
