package sqlite

import (
	"context"
	"time"

	"github.com/emailfixer/creditd/internal/domain"
)

// ─── Reconciliation Alerts ──────────────────────────────────────────────────

// RecordAlert stores a payment that did not produce a credit grant.
func (db *DB) RecordAlert(ctx context.Context, a domain.Alert) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO reconciliation_alerts (kind, external_transaction_id, event_type, detail, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(a.Kind), a.ExternalTransactionID, a.EventType, a.Detail, a.Payload, formatTime(a.CreatedAt))
	return err
}

// ListAlerts returns the most recent alerts, newest first.
func (db *DB) ListAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, kind, external_transaction_id, event_type, detail, payload, created_at
		FROM reconciliation_alerts ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []domain.Alert{}
	for rows.Next() {
		var a domain.Alert
		var kind, createdStr string
		if err := rows.Scan(&a.ID, &kind, &a.ExternalTransactionID, &a.EventType, &a.Detail, &a.Payload, &createdStr); err != nil {
			return nil, err
		}
		a.Kind = domain.AlertKind(kind)
		a.CreatedAt = parseTime(createdStr)
		result = append(result, a)
	}
	return result, rows.Err()
}
