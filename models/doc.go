// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types shared by the
server and the device agent.

# Request Types

  - CheckInAction: action_id, guest_ref, event_ref, method
  - SubscribeRequest: first frame on the live channel

# Response Types

  - TransitionResult: outcome plus the authoritative check-in data
  - AggregateStats: derived event counters
  - Snapshot: stats plus recent transitions, used for backfill
  - LiveMessage: envelope for snapshot, checkin_update, stats_update, error
  - ErrorResponse: error, message

# Domain Types

  - Guest, AttendanceRecord, Transition (server)
  - CachedGuest, FailedAction (device)

# Constants

Methods:

	MethodQRScan = "QR_SCAN"
	MethodManual = "MANUAL"

Outcomes:

	OutcomeCommitted = "COMMITTED"
	OutcomeDuplicate = "DUPLICATE"
	OutcomeRejected  = "REJECTED"

Attendance:

	StatusNotArrived = "NOT_ARRIVED"
	StatusCheckedIn  = "CHECKED_IN"

Device sync states:

	SyncPending, SyncInFlight, SyncConfirmed, SyncFailed
*/
package models
