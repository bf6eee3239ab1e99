// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package handlers contains HTTP request handlers for the doorlist API.

# Handler Types

Each handler is a struct built from the narrow interface it needs:

  - CheckInHandler: check-in submission (CheckInProcessor)
  - EventHandler: stats and backfill reads (EventReader)
  - LiveHandler: WebSocket upgrade into the realtime hub
  - HealthHandler: store reachability (Pinger)

	checkInHandler := handlers.NewCheckInHandler(processor)
	eventHandler := handlers.NewEventHandler(st, cfg)

All staff routes run behind middleware.WithStaff, which puts the
verified staff ID in the request context.

# Check-In Submission

	POST /checkins → Submit

The body is a CheckInAction. Responses:

	200 COMMITTED or DUPLICATE, always with the authoritative record
	422 REJECTED with a reason (guest unknown or not on the list)
	400 malformed JSON or invalid fields
	401 missing or wrong staff key
	500 "internal error"; nothing was changed and the device retries

A retry of the same action_id inside the retention window is answered
from the idempotency log with replayed=true.

# Event State

	GET /events/{event}/stats    → GetStats
	GET /events/{event}/backfill → GetBackfill (limit defaults to config,
	                               capped at MaxBackfillLimit)

Unknown events answer 404.

# Live Updates

	GET /live → Serve

After the upgrade the client sends one subscribe frame; see package
realtime for the protocol.
*/
package handlers
