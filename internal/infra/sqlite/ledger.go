package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/emailfixer/creditd/internal/domain"
)

var _ domain.LedgerStore = (*DB)(nil)

const selectTransaction = `
	SELECT id, user_id, credits_change, amount_cents, type, status, description,
	       external_transaction_id, created_at, completed_at
	FROM credit_transactions`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.CreditTransaction, error) {
	var (
		t            domain.CreditTransaction
		id, userID   string
		amountCents  int64
		typ, status  string
		externalID   sql.NullString
		createdStr   string
		completedStr sql.NullString
	)
	if err := row.Scan(&id, &userID, &t.CreditsChange, &amountCents, &typ, &status, &t.Description,
		&externalID, &createdStr, &completedStr); err != nil {
		return nil, err
	}
	t.ID = uuid.MustParse(id)
	t.UserID = uuid.MustParse(userID)
	t.Amount = domain.FromMinorUnits(amountCents)
	t.Type = domain.TransactionType(typ)
	t.Status = domain.TransactionStatus(status)
	t.CreatedAt = parseTime(createdStr)
	if externalID.Valid {
		ext := externalID.String
		t.ExternalTransactionID = &ext
	}
	if completedStr.Valid {
		c := parseTime(completedStr.String)
		t.CompletedAt = &c
	}
	return &t, nil
}

// ─── Ledger Operations ──────────────────────────────────────────────────────

// CreatePendingTransaction opens a Pending ledger entry for an existing user.
func (db *DB) CreatePendingTransaction(ctx context.Context, userID uuid.UUID, creditsChange int64, amount decimal.Decimal, typ domain.TransactionType) (*domain.CreditTransaction, error) {
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
		ID:            uuid.New(),
		UserID:        userID,
		CreditsChange: creditsChange,
		Amount:        amount.Round(domain.AmountScale),
		Type:          typ,
		Status:        domain.StatusPending,
		Description:   describe(typ, creditsChange),
		CreatedAt:     now,
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID.String()).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, user_id, credits_change, amount_cents, type, status, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID.String(), userID.String(), creditsChange, domain.ToMinorUnits(t.Amount), string(typ),
		string(domain.StatusPending), t.Description, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

// AttachExternalID records the provider transaction id on a ledger entry.
// Re-attaching the same id is a no-op.
func (db *DB) AttachExternalID(ctx context.Context, txID uuid.UUID, externalID string) error {
	if externalID == "" {
		return fmt.Errorf("external id must not be empty")
	}
	res, err := db.db.ExecContext(ctx, `
		UPDATE credit_transactions SET external_transaction_id = ?
		WHERE id = ? AND (external_transaction_id IS NULL OR external_transaction_id = ?)
	`, externalID, txID.String(), externalID)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateExternalID, externalID)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	existing, err := scanTransaction(db.db.QueryRowContext(ctx, selectTransaction+` WHERE id = ?`, txID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, txID)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: transaction %s already has %s", domain.ErrDuplicateExternalID, txID, existing.ExternalID())
}

// FindByExternalID returns the transaction owning externalID, or nil if none does.
func (db *DB) FindByExternalID(ctx context.Context, externalID string) (*domain.CreditTransaction, error) {
	t, err := scanTransaction(db.db.QueryRowContext(ctx, selectTransaction+` WHERE external_transaction_id = ?`, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

// GetTransaction returns a transaction by its internal id.
func (db *DB) GetTransaction(ctx context.Context, txID uuid.UUID) (*domain.CreditTransaction, error) {
	t, err := scanTransaction(db.db.QueryRowContext(ctx, selectTransaction+` WHERE id = ?`, txID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, txID)
	}
	return t, err
}

// CompleteAndCredit moves a Pending transaction to Completed and credits the
// owner in one database transaction. The status flip is a conditional update,
// so of any number of concurrent callers exactly one applies the balance change.
func (db *DB) CompleteAndCredit(ctx context.Context, txID uuid.UUID) (domain.Completion, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Completion{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE credit_transactions SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.StatusCompleted), formatTime(now), txID.String(), string(domain.StatusPending))
	if err != nil {
		return domain.Completion{}, fmt.Errorf("complete transaction: %w", err)
	}
	flipped, err := res.RowsAffected()
	if err != nil {
		return domain.Completion{}, err
	}

	t, err := scanTransaction(tx.QueryRowContext(ctx, selectTransaction+` WHERE id = ?`, txID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Completion{}, fmt.Errorf("%w: %s", domain.ErrTransactionNotFound, txID)
	}
	if err != nil {
		return domain.Completion{}, err
	}

	if flipped == 0 {
		if t.Status == domain.StatusCompleted {
			return domain.Completion{Transaction: *t}, nil
		}
		return domain.Completion{}, fmt.Errorf("%w: %s is %s", domain.ErrInvalidTransition, txID, t.Status)
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE users SET
			credits_available = credits_available + ?,
			total_spent_cents = total_spent_cents + ?,
			updated_at        = ?
		WHERE id = ?
	`, t.CreditsChange, domain.ToMinorUnits(t.Amount), formatTime(now), t.UserID.String())
	if err != nil {
		return domain.Completion{}, fmt.Errorf("credit user: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return domain.Completion{}, fmt.Errorf("%w: %s", domain.ErrUserNotFound, t.UserID)
	}

	if err := tx.Commit(); err != nil {
		return domain.Completion{}, err
	}
	return domain.Completion{Transaction: *t, Credited: true}, nil
}

// ListTransactions returns a user's ledger, newest first.
func (db *DB) ListTransactions(ctx context.Context, userID uuid.UUID) ([]domain.CreditTransaction, error) {
	rows, err := db.db.QueryContext(ctx, selectTransaction+` WHERE user_id = ? ORDER BY created_at DESC`, userID.String())
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
func (db *DB) ExpireUnattachedPending(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.db.ExecContext(ctx, `
		UPDATE credit_transactions SET status = ?, completed_at = ?
		WHERE status = ? AND external_transaction_id IS NULL AND created_at < ?
	`, string(domain.StatusFailed), formatTime(time.Now()), string(domain.StatusPending), formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func describe(typ domain.TransactionType, credits int64) string {
	switch typ {
	case domain.TxPurchase:
		return fmt.Sprintf("Purchase of %d email credits", credits)
	case domain.TxUsage:
		return fmt.Sprintf("Used %d email credits", -credits)
	case domain.TxBonus:
		return fmt.Sprintf("Bonus of %d email credits", credits)
	}
	return string(typ)
}
