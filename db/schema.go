// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Open connects to the database of the given type and verifies the
// connection. SQLite is limited to one connection so writers never
// see "database is locked".
func Open(dbType, url string) (*sql.DB, error) {
	if dbType != "sqlite" && dbType != "postgres" {
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	conn, err := sql.Open(dbType, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dbType == "sqlite" {
		conn.SetMaxOpenConns(1)
		if _, err := conn.Exec(`PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;`); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to configure sqlite: %w", err)
		}
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(25)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return conn, nil
}

// CreateSchema creates all tables needed for the application.
// Safe to call multiple times - uses IF NOT EXISTS.
func CreateSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

const schema = `
-- Events
CREATE TABLE IF NOT EXISTS event (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    commit_seq BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Guests
CREATE TABLE IF NOT EXISTS guest (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    qr_code TEXT UNIQUE
);

-- Attendance (one row per invited guest per event)
CREATE TABLE IF NOT EXISTS attendance (
    guest_id TEXT NOT NULL REFERENCES guest(id) ON DELETE CASCADE,
    event_id TEXT NOT NULL REFERENCES event(id) ON DELETE CASCADE,
    status TEXT NOT NULL DEFAULT 'NOT_ARRIVED' CHECK (status IN ('NOT_ARRIVED', 'CHECKED_IN')),
    checked_in_at TIMESTAMP,
    checked_in_by TEXT,
    method TEXT,
    PRIMARY KEY (guest_id, event_id)
);

CREATE INDEX IF NOT EXISTS idx_attendance_event_status ON attendance(event_id, status);

-- Committed transitions
CREATE TABLE IF NOT EXISTS checkin_transition (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL REFERENCES event(id) ON DELETE CASCADE,
    seq BIGINT NOT NULL,
    action_id TEXT NOT NULL,
    guest_id TEXT NOT NULL,
    guest_name TEXT NOT NULL,
    checked_in_at TIMESTAMP NOT NULL,
    checked_in_by TEXT NOT NULL,
    method TEXT NOT NULL,
    UNIQUE (event_id, seq)
);

-- Idempotency log
CREATE TABLE IF NOT EXISTS idempotency_log (
    event_id TEXT NOT NULL,
    action_id TEXT NOT NULL,
    result TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    expires_at BIGINT NOT NULL,
    PRIMARY KEY (event_id, action_id)
);

CREATE INDEX IF NOT EXISTS idx_idempotency_log_expires ON idempotency_log(expires_at);
`
