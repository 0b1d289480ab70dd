// Package postgres is the PostgreSQL ledger store, built on pgx.
// It implements the same contract as the embedded SQLite store and is
// selected with database.driver = "postgres".
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/emailfixer/creditd/internal/domain"
)

var _ domain.LedgerStore = (*Store)(nil)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store is a pgx-backed ledger store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and runs migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping() error {
	return s.pool.Ping(context.Background())
}

// Migrations returns the schema statements, applied in order.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id                UUID PRIMARY KEY,
			email             TEXT NOT NULL UNIQUE,
			display_name      TEXT NOT NULL DEFAULT '',
			credits_available BIGINT NOT NULL DEFAULT 0 CHECK (credits_available >= 0),
			credits_used      BIGINT NOT NULL DEFAULT 0 CHECK (credits_used >= 0),
			total_spent       NUMERIC(12,2) NOT NULL DEFAULT 0 CHECK (total_spent >= 0),
			created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id                      UUID PRIMARY KEY,
			user_id                 UUID NOT NULL REFERENCES users(id),
			credits_change          BIGINT NOT NULL,
			amount                  NUMERIC(12,2) NOT NULL DEFAULT 0,
			type                    TEXT NOT NULL,
			status                  TEXT NOT NULL DEFAULT 'Pending',
			description             TEXT NOT NULL DEFAULT '',
			external_transaction_id TEXT,
			created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at            TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_tx_external ON credit_transactions(external_transaction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_tx_user ON credit_transactions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_tx_status ON credit_transactions(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS reconciliation_alerts (
			id                      BIGSERIAL PRIMARY KEY,
			kind                    TEXT NOT NULL,
			external_transaction_id TEXT NOT NULL DEFAULT '',
			event_type              TEXT NOT NULL DEFAULT '',
			detail                  TEXT NOT NULL,
			payload                 TEXT NOT NULL DEFAULT '',
			created_at              TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range Migrations() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const selectTransaction = `
	SELECT id, user_id, credits_change, amount::text, type, status, description,
	       external_transaction_id, created_at, completed_at
	FROM credit_transactions`

func scanTransaction(row pgx.Row) (*domain.CreditTransaction, error) {
	var (
		t           domain.CreditTransaction
		amount      string
		typ, status string
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.CreditsChange, &amount, &typ, &status, &t.Description,
		&t.ExternalTransactionID, &t.CreatedAt, &t.CompletedAt); err != nil {
		return nil, err
	}
	t.Amount = decimal.RequireFromString(amount)
	t.Type = domain.TransactionType(typ)
	t.Status = domain.TransactionStatus(status)
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ─── Users ──────────────────────────────────────────────────────────────────

// CreateUser inserts a user with an empty balance.
func (s *Store) CreateUser(ctx context.Context, email, displayName string) (*domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, fmt.Errorf("email must not be empty")
	}
	now := time.Now().UTC()
	u := &domain.User{ID: uuid.New(), Email: email, DisplayName: displayName, TotalSpent: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, email, display_name, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)
	`, u.ID, u.Email, u.DisplayName, now)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserExists, email)
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	var spent string
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, display_name, credits_available, credits_used, total_spent::text, created_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreditsAvailable, &u.CreditsUsed, &spent, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	u.TotalSpent = decimal.RequireFromString(spent)
	return &u, nil
}

// ConsumeCredits debits n credits and records a Completed Usage entry.
func (s *Store) ConsumeCredits(ctx context.Context, userID uuid.UUID, n int64) (*domain.CreditTransaction, error) {
	if n <= 0 {
		return nil, fmt.Errorf("credits to consume must be positive, got %d", n)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE users SET credits_available = credits_available - $1, credits_used = credits_used + $1, updated_at = $2
		WHERE id = $3 AND credits_available >= $1
	`, n, now, userID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
		}
		return nil, fmt.Errorf("%w: need %d", domain.ErrInsufficientCredits, n)
	}

	t := &domain.CreditTransaction{
		ID: uuid.New(), UserID: userID, CreditsChange: -n, Amount: decimal.Zero,
		Type: domain.TxUsage, Status: domain.StatusCompleted,
		Description: fmt.Sprintf("Used %d email credits", n), CreatedAt: now, CompletedAt: &now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO credit_transactions (id, user_id, credits_change, amount, type, status, description, created_at, completed_at)
		VALUES ($1, $2, $3, 0, $4, $5, $6, $7, $7)
	`, t.ID, userID, t.CreditsChange, string(domain.TxUsage), string(domain.StatusCompleted), t.Description, now)
	if err != nil {
		return nil, fmt.Errorf("insert usage: %w", err)
	}
	return t, tx.Commit(ctx)
}

// ─── Ledger ─────────────────────────────────────────────────────────────────

// CreatePendingTransaction opens a Pending ledger entry for an existing user.
func (s *Store) CreatePendingTransaction(ctx context.Context, userID uuid.UUID, creditsChange int64, amount decimal.Decimal, typ domain.TransactionType) (*domain.CreditTransaction, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown transaction type %q", typ)
	}
	if typ == domain.TxPurchase {
		if err := domain.ValidatePurchase(creditsChange, amount); err != nil {
			return nil, err
		}
	}
	now := time.Now().UTC()
	t := &domain.CreditTransaction{
		ID: uuid.New(), UserID: userID, CreditsChange: creditsChange,
		Amount: amount.Round(domain.AmountScale), Type: typ, Status: domain.StatusPending,
		Description: fmt.Sprintf("%s of %d email credits", typ, creditsChange), CreatedAt: now,
	}

	// INSERT ... SELECT only inserts when the user exists.
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO credit_transactions (id, user_id, credits_change, amount, type, status, description, created_at)
		SELECT $1, id, $2, $3::numeric, $4, $5, $6, $7 FROM users WHERE id = $8
	`, t.ID, creditsChange, t.Amount.StringFixed(domain.AmountScale), string(typ), string(domain.StatusPending),
		t.Description, now, userID)
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
	}
	return t, nil
}

// AttachExternalID records the provider transaction id on a ledger entry.
func (s *Store) AttachExternalID(ctx context.Context, txID uuid.UUID, externalID string) error {
	if externalID == "" {
		return fmt.Errorf("external id must not be empty")
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE credit_transactions SET external_transaction_id = $1
		WHERE id = $2 AND (external_transaction_id IS NULL OR external_transaction_id = $1)
	`, externalID, txID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateExternalID, externalID)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	existing, err := scanTransaction(s.pool.QueryRow(ctx, selectTransaction+` WHERE id = $1`, txID))
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, txID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: transaction %s already has %s", domain.ErrDuplicateExternalID, txID, existing.ExternalID())
}

// FindByExternalID returns the transaction owning externalID, or nil.
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*domain.CreditTransaction, error) {
	t, err := scanTransaction(s.pool.QueryRow(ctx, selectTransaction+` WHERE external_transaction_id = $1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// CompleteAndCredit flips Pending to Completed with UPDATE ... RETURNING and
// credits the owner in the same transaction.
func (s *Store) CompleteAndCredit(ctx context.Context, txID uuid.UUID) (domain.Completion, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Completion{}, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	t, err := scanTransaction(tx.QueryRow(ctx, `
		UPDATE credit_transactions SET status = $1, completed_at = $2
		WHERE id = $3 AND status = $4
		RETURNING id, user_id, credits_change, amount::text, type, status, description,
		          external_transaction_id, created_at, completed_at
	`, string(domain.StatusCompleted), now, txID, string(domain.StatusPending)))
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := scanTransaction(tx.QueryRow(ctx, selectTransaction+` WHERE id = $1`, txID))
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Completion{}, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, txID)
		}
		if err != nil {
			return domain.Completion{}, err
		}
		if current.Status == domain.StatusCompleted {
			return domain.Completion{Transaction: *current}, nil
		}
		return domain.Completion{}, fmt.Errorf("%w: %s is %s", domain.ErrInvalidTransition, txID, current.Status)
	}
	if err != nil {
		return domain.Completion{}, fmt.Errorf("complete transaction: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE users SET credits_available = credits_available + $1, total_spent = total_spent + $2::numeric, updated_at = $3
		WHERE id = $4
	`, t.CreditsChange, t.Amount.StringFixed(domain.AmountScale), now, t.UserID)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("credit user: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return domain.Completion{}, fmt.Errorf("%w: %s", domain.ErrUserNotFound, t.UserID)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Completion{}, err
	}
	return domain.Completion{Transaction: *t, Credited: true}, nil
}

// ListTransactions returns a user's ledger, newest first.
func (s *Store) ListTransactions(ctx context.Context, userID uuid.UUID) ([]domain.CreditTransaction, error) {
	rows, err := s.pool.Query(ctx, selectTransaction+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.CreditTransaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

// ExpireUnattachedPending fails Pending rows that never got a provider id.
func (s *Store) ExpireUnattachedPending(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE credit_transactions SET status = $1, completed_at = now()
		WHERE status = $2 AND external_transaction_id IS NULL AND created_at < $3
	`, string(domain.StatusFailed), string(domain.StatusPending), cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ─── Alerts ─────────────────────────────────────────────────────────────────

// RecordAlert stores a payment that did not produce a credit grant.
func (s *Store) RecordAlert(ctx context.Context, a domain.Alert) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reconciliation_alerts (kind, external_transaction_id, event_type, detail, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, string(a.Kind), a.ExternalTransactionID, a.EventType, a.Detail, a.Payload, a.CreatedAt)
	return err
}

// ListAlerts returns the most recent alerts, newest first.
func (s *Store) ListAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, external_transaction_id, event_type, detail, payload, created_at
		FROM reconciliation_alerts ORDER BY id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Alert{}
	for rows.Next() {
		var a domain.Alert
		var kind string
		if err := rows.Scan(&a.ID, &kind, &a.ExternalTransactionID, &a.EventType, &a.Detail, &a.Payload, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = domain.AlertKind(kind)
		result = append(result, a)
	}
	return result, rows.Err()
}
