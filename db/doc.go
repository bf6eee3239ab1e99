// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package db opens the database and creates the schema.

# Connecting

	conn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)

Supported types are "postgres" (github.com/lib/pq) and "sqlite"
(modernc.org/sqlite). SQLite connections are capped at one so concurrent
writers queue instead of failing.

# Schema Creation

	if err := db.CreateSchema(conn); err != nil {
		log.Fatal(err)
	}

Safe to call multiple times - uses IF NOT EXISTS for all tables and indexes.

# Tables

  - event: event metadata and the per-event commit sequence
  - guest: guest identity and optional QR code
  - attendance: authoritative check-in state per (guest, event)
  - checkin_transition: append-only history of committed check-ins
  - idempotency_log: action_id -> result, expired by expires_at (unix seconds)

# Relationships

	event 1──* attendance *──1 guest
	event 1──* checkin_transition

Guest and event rows are owned by the guest-list service; this schema
only reads them.
*/
package db
