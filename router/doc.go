// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package router defines HTTP routes for the doorlist API.

# Route Registration

NewRouter creates a configured http.ServeMux with all endpoints:

	mux := router.NewRouter(cfg, st, processor, hub)

# Endpoints

Health and metrics:

	GET /health   - Store reachability, polled by devices
	GET /metrics  - Prometheus exposition

Check-in (staff, requires X-Staff-ID and X-Staff-Key):

	POST /checkins - Submit one CheckInAction

Event state (staff):

	GET /events/{event}/stats           - AggregateStats
	GET /events/{event}/backfill?limit= - Stats, last K transitions, seq

Live updates (staff, WebSocket):

	GET /live - subscribe, then snapshot, checkin_update, stats_update

Staff routes are wrapped with Instrument, WithLogging and WithStaff.
*/
package router
