// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration
for the server and the device agent.

# Server Configuration

	cfg, err := cliparse.ParseFlags(os.Args[1:])

  - Port (-p, PORT): listen port (default: 3318)
  - DatabaseURL (-d, DATABASE_URL): connection string (required)
  - DatabaseType (-t, DATABASE_TYPE): sqlite or postgres (default: sqlite)
  - StaffKeySalt (--staff-salt, STAFF_KEY_SALT): HMAC secret (required)
  - RedisURL (--redis, REDIS_URL): enables cross-instance fan-out
  - IdempotencyRetention (--retention, IDEMPOTENCY_RETENTION): default 72h
  - StatsInterval (--stats-interval, STATS_INTERVAL): default 30s
  - BackfillLimit (--backfill): default 50

# Device Configuration

	cfg, err := cliparse.ParseDeviceFlags(os.Args[1:])

  - ServerURL (-s, SERVER_URL)
  - EventRef (-e, EVENT_REF): required
  - StaffID (--staff, STAFF_ID): required
  - StaffKey (--key, STAFF_KEY): required
  - QueuePath (-q, QUEUE_PATH): default doorlist-<event>.db
  - SubmitTimeout (--timeout, SUBMIT_TIMEOUT): default 10s
  - ProbeInterval (--probe, PROBE_INTERVAL): default 5s

CLI flags take precedence over environment variables. A .env file is
loaded by the binaries before parsing.
*/
package cliparse
