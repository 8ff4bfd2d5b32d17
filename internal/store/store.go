// Package store is the single logical database backing the Entitlement
// Store (M2) and Catalogue Store (M4): users, purchase records, device
// bindings, transaction/notification logs, and published podcast rows.
//
// It uses modernc.org/sqlite (sql.Open("sqlite", dsn)) and a
// single-writer discipline: every mutating method takes mu and finishes
// its write before returning (the upsert and device-binding methods
// inside a short transaction, the others as a single statement); read
// methods take no lock.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite database handle with a write mutex: the
// entitlement store and catalogue store serialize writes through
// single-writer transactions.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates (or attaches to) the SQLite database at path and applies the
// schema migrations idempotently.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single writer, matches our mutex discipline

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return s, nil
}

// OpenWithDB wraps an existing *sql.DB (used by tests against an
// in-memory database).
func OpenWithDB(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS podcasts (
	id TEXT PRIMARY KEY,
	company TEXT NOT NULL,
	channel TEXT NOT NULL,
	audio_key TEXT NOT NULL,
	segments_key TEXT NOT NULL,
	segment_count INTEGER NOT NULL,
	title TEXT NOT NULL,
	title_translation TEXT NOT NULL DEFAULT '',
	subtitle TEXT NOT NULL DEFAULT '',
	timestamp_sec INTEGER NOT NULL,
	language_code TEXT NOT NULL DEFAULT '',
	duration_sec REAL NOT NULL DEFAULT 0,
	raw_audio_url TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_podcasts_channel_ts ON podcasts(company, channel, timestamp_sec DESC, id DESC);

CREATE TABLE IF NOT EXISTS users (
	internal_id TEXT PRIMARY KEY,
	device_uuid TEXT NOT NULL UNIQUE,
	original_transaction_id TEXT,
	is_vip INTEGER NOT NULL DEFAULT 0,
	vip_expire_ms INTEGER
);

CREATE TABLE IF NOT EXISTS purchase_records (
	original_transaction_id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL,
	purchase_date_ms INTEGER NOT NULL,
	expire_date_ms INTEGER,
	status TEXT NOT NULL,
	environment TEXT NOT NULL,
	device_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS device_bindings (
	original_transaction_id TEXT NOT NULL,
	device_uuid TEXT NOT NULL,
	device_name TEXT NOT NULL DEFAULT '',
	bind_time_ms INTEGER NOT NULL,
	last_active_time_ms INTEGER NOT NULL,
	PRIMARY KEY (original_transaction_id, device_uuid)
);

CREATE TABLE IF NOT EXISTS transaction_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	original_transaction_id TEXT NOT NULL,
	transaction_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	device_uuid TEXT NOT NULL,
	jws_token TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS notification_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	notification_uuid TEXT NOT NULL UNIQUE,
	notification_type TEXT NOT NULL,
	subtype TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS purchase_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	original_transaction_id TEXT NOT NULL,
	transaction_id TEXT NOT NULL,
	notification_type TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
