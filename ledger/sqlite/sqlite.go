package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sirdeggen/bsv-overlay-skill/ledger"
)

// Store is a SQLite-backed implementation of ledger.Store
type Store struct {
	db *sql.DB
}

// Config holds configuration for SQLite
type Config struct {
	DBPath string // Path to SQLite database file
}

// New creates a new SQLite-backed payment ledger
func New(config *Config) (*Store, error) {
	if config.DBPath == "" {
		return nil, fmt.Errorf("DBPath is required")
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the necessary tables
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS received_payments (
		txid         TEXT NOT NULL,
		vout         INTEGER NOT NULL,
		satoshis     INTEGER NOT NULL,
		bundle       BLOB,
		service      TEXT NOT NULL DEFAULT '',
		counterparty TEXT NOT NULL DEFAULT '',
		received_at  INTEGER NOT NULL,
		created_at   INTEGER DEFAULT (strftime('%s', 'now')),

		PRIMARY KEY (txid, vout)
	);

	CREATE INDEX IF NOT EXISTS idx_received_payments_service ON received_payments(service);
	CREATE INDEX IF NOT EXISTS idx_received_payments_counterparty ON received_payments(counterparty);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Append records a verified payment. Re-appending an existing (txid, vout)
// leaves the original row untouched.
func (s *Store) Append(ctx context.Context, rec *ledger.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO received_payments (txid, vout, satoshis, bundle, service, counterparty, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TxID, rec.Vout, rec.Satoshis, rec.Bundle, rec.ServiceID, rec.Counterparty, rec.ReceivedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append payment record: %w", err)
	}
	return nil
}

// Exists reports whether a payment output has already been recorded
func (s *Store) Exists(ctx context.Context, txid string, vout uint32) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM received_payments WHERE txid = ? AND vout = ?`,
		txid, vout,
	).Scan(&one)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query payment record: %w", err)
	}
	return true, nil
}

// List returns all recorded payments in insertion order
func (s *Store) List(ctx context.Context) ([]*ledger.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT txid, vout, satoshis, bundle, service, counterparty, received_at
		 FROM received_payments ORDER BY rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment records: %w", err)
	}
	defer rows.Close()

	var records []*ledger.Record
	for rows.Next() {
		var rec ledger.Record
		var receivedAt int64

		if err := rows.Scan(&rec.TxID, &rec.Vout, &rec.Satoshis, &rec.Bundle,
			&rec.ServiceID, &rec.Counterparty, &receivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment record: %w", err)
		}
		rec.ReceivedAt = time.Unix(receivedAt, 0).UTC()

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment records: %w", err)
	}

	return records, nil
}

// Close releases all database resources
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
