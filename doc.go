// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package main provides the entry point for the doorlist server.

Doorlist keeps venue check-in state consistent across staff devices.
Devices queue scans locally and submit them when online; the server
applies each scan exactly once and streams every commit to all devices
watching the event.

# Starting the Server

The server requires environment variables or CLI flags for configuration.
A .env file in the working directory is loaded first if present.

	STAFF_KEY_SALT=... DATABASE_URL=doorlist.db go run .

Or with flags:

	go run . -p 3318 -t postgres -d "postgres://..." -staff-salt ...

# Configuration

Required settings:

  - DATABASE_URL (-d): SQLite file or PostgreSQL connection string
  - STAFF_KEY_SALT (-staff-salt): Secret for staff key HMAC

Optional settings:

  - PORT (-p): Server port (default: 3318)
  - DATABASE_TYPE (-t): sqlite or postgres (default: sqlite)
  - REDIS_URL (-redis): Fan commits out to other instances
  - IDEMPOTENCY_RETENTION (-retention): How long an action_id is
    remembered (default: 72h, longer than a device's 24h queue age)
  - STATS_INTERVAL (-stats-interval): Periodic stats push (default: 30s)

# Architecture

  - checkin: idempotent check-in transaction and janitor
  - store: SQL access to attendance, transitions and the idempotency log
  - realtime: live session registry, broadcaster, Redis relay
  - handlers: HTTP and WebSocket handlers
  - router: Route definitions using Go 1.22+ routing
  - middleware: staff auth, metrics, CORS, logging, JSON helpers
  - metrics: Prometheus collectors
  - models: Wire and domain types
  - auth: Staff key verification
  - db: Driver selection and schema creation
  - cliparse: Configuration parsing

The device agent lives in cmd/device and is built from:

  - queue: SQLite action queue and guest cache
  - syncer: sync manager and connectivity prober
  - client: HTTP submitter and live subscriber
  - backoff: retry policy and clocks
*/
package main
