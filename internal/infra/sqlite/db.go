// Package sqlite is the embedded SQLite ledger store.
// It persists users, credit transactions and reconciliation alerts.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// FileName is the database file created inside the data directory.
const FileName = "creditd.db"

// timeLayout is how timestamps are stored. Fixed width so TEXT sorts correctly.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps the SQLite handle.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database inside dir and runs migrations.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn := "file:" + filepath.Join(dir, FileName) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers. The conditional updates in
	// ledger.go still guard every state change.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{db: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the database handle.
func (db *DB) Close() error {
	return db.db.Close()
}

// Ping checks the database is reachable.
func (db *DB) Ping() error {
	return db.db.Ping()
}

func (db *DB) migrate() error {
	for _, stmt := range LedgerMigrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// LedgerMigrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func LedgerMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS users (
			id                TEXT PRIMARY KEY,
			email             TEXT NOT NULL UNIQUE,
			display_name      TEXT NOT NULL DEFAULT '',
			credits_available INTEGER NOT NULL DEFAULT 0 CHECK(credits_available >= 0),
			credits_used      INTEGER NOT NULL DEFAULT 0 CHECK(credits_used >= 0),
			total_spent_cents INTEGER NOT NULL DEFAULT 0 CHECK(total_spent_cents >= 0),
			created_at        TEXT NOT NULL,
			updated_at        TEXT NOT NULL
		)`,

		// Ledger entries. Never deleted.
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id                      TEXT PRIMARY KEY,
			user_id                 TEXT NOT NULL REFERENCES users(id),
			credits_change          INTEGER NOT NULL,
			amount_cents            INTEGER NOT NULL DEFAULT 0,
			type                    TEXT NOT NULL,
			status                  TEXT NOT NULL DEFAULT 'Pending',
			description             TEXT NOT NULL DEFAULT '',
			external_transaction_id TEXT,
			created_at              TEXT NOT NULL,
			completed_at            TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_tx_external ON credit_transactions(external_transaction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_tx_user ON credit_transactions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_tx_status ON credit_transactions(status, created_at)`,

		// Payments received without a matching credit grant.
		`CREATE TABLE IF NOT EXISTS reconciliation_alerts (
			id                      INTEGER PRIMARY KEY AUTOINCREMENT,
			kind                    TEXT NOT NULL,
			external_transaction_id TEXT NOT NULL DEFAULT '',
			event_type              TEXT NOT NULL DEFAULT '',
			detail                  TEXT NOT NULL,
			payload                 TEXT NOT NULL DEFAULT '',
			created_at              TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created ON reconciliation_alerts(created_at)`,
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
