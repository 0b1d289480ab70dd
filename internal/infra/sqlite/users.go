package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/emailfixer/creditd/internal/domain"
)

// ─── User Operations ────────────────────────────────────────────────────────

// CreateUser inserts a user with an empty balance.
func (db *DB) CreateUser(ctx context.Context, email, displayName string) (*domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, fmt.Errorf("email must not be empty")
	}
	now := time.Now().UTC()
	u := &domain.User{
		ID:          uuid.New(),
		Email:       email,
		DisplayName: displayName,
		TotalSpent:  decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID.String(), u.Email, u.DisplayName, formatTime(now), formatTime(now))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserExists, email)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser returns a user by id.
func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var (
		u                      domain.User
		idStr                  string
		spentCents             int64
		createdStr, updatedStr string
	)
	err := db.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, credits_available, credits_used, total_spent_cents, created_at, updated_at
		FROM users WHERE id = ?
	`, id.String()).Scan(&idStr, &u.Email, &u.DisplayName, &u.CreditsAvailable, &u.CreditsUsed,
		&spentCents, &createdStr, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	u.ID = uuid.MustParse(idStr)
	u.TotalSpent = domain.FromMinorUnits(spentCents)
	u.CreatedAt = parseTime(createdStr)
	u.UpdatedAt = parseTime(updatedStr)
	return &u, nil
}

// ConsumeCredits debits n credits for validation usage and records a Completed
// Usage entry. The balance check and decrement are one conditional update on
// the same row the webhook path credits.
func (db *DB) ConsumeCredits(ctx context.Context, userID uuid.UUID, n int64) (*domain.CreditTransaction, error) {
	if n <= 0 {
		return nil, fmt.Errorf("credits to consume must be positive, got %d", n)
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE users SET
			credits_available = credits_available - ?,
			credits_used      = credits_used + ?,
			updated_at        = ?
		WHERE id = ? AND credits_available >= ?
	`, n, n, formatTime(now), userID.String(), n)
	if err != nil {
		return nil, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID.String()).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: need %d", domain.ErrInsufficientCredits, n)
	}

	t := &domain.CreditTransaction{
		ID:            uuid.New(),
		UserID:        userID,
		CreditsChange: -n,
		Amount:        decimal.Zero,
		Type:          domain.TxUsage,
		Status:        domain.StatusCompleted,
		Description:   describe(domain.TxUsage, -n),
		CreatedAt:     now,
		CompletedAt:   &now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, credits_change, amount_cents, type, status, description, created_at, completed_at)
		VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?)
	`, t.ID.String(), userID.String(), t.CreditsChange, string(domain.TxUsage), string(domain.StatusCompleted),
		t.Description, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert usage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}
