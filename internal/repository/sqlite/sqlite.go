// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database: a single file, no server to run. It backs
// local development, the test suite (":memory:") and small single-instance
// deployments. Production runs on repository/postgres.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so no C compiler is
// needed and cross-compilation keeps working.
//
// ONE CONNECTION:
// SQLite allows a single writer at a time. We cap the pool at one connection,
// which serialises every statement and makes the credit read-modify-write in
// MutateCredits atomic without BEGIN IMMEDIATE tricks. It also keeps ":memory:"
// databases shared: every new connection would otherwise open an empty DB.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New creates a new SQLite database connection and runs migrations.
//
// dbPath examples:
//   - "data/reroom.db"  → file-based database (persistent)
//   - ":memory:"        → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Ping checks database connectivity (used by /health).
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent,
// so it runs on every start.
func (db *DB) migrate() error {
	// auth_user_id UNIQUE is what makes reconciliation safe under concurrent
	// retries: InsertOrFetch relies on ON CONFLICT(auth_user_id).
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS user_profiles (
			id                      TEXT PRIMARY KEY,
			auth_user_id            TEXT NOT NULL UNIQUE,
			email                   TEXT NOT NULL DEFAULT '',
			name                    TEXT NOT NULL DEFAULT '',
			avatar_url              TEXT NOT NULL DEFAULT '',
			provider                TEXT NOT NULL DEFAULT 'email',
			stripe_customer_id      TEXT,
			subscription_status     TEXT NOT NULL DEFAULT 'free',
			subscription_tier       TEXT NOT NULL DEFAULT 'basic',
			subscription_start_date DATETIME,
			subscription_end_date   DATETIME,
			credits_remaining       INTEGER NOT NULL DEFAULT 5 CHECK (credits_remaining >= 0),
			total_credits_purchased INTEGER NOT NULL DEFAULT 0 CHECK (total_credits_purchased >= 0),
			created_at              DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at              DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating user_profiles table: %w", err)
	}

	// credits_log.user_id holds the auth user id. Entries are kept when a
	// profile is deleted, so there is no foreign key.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS credits_log (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			action         TEXT NOT NULL,
			amount         INTEGER NOT NULL,
			description    TEXT NOT NULL DEFAULT '',
			credits_before INTEGER NOT NULL,
			credits_after  INTEGER NOT NULL,
			created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_credits_log_user_created ON credits_log(user_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating credits_log table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS payment_events (
			event_id     TEXT PRIMARY KEY,
			event_type   TEXT NOT NULL,
			processed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating payment_events table: %w", err)
	}

	return nil
}
