// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import "time"

// Check-in method constants
const (
	MethodQRScan = "QR_SCAN"
	MethodManual = "MANUAL"
)

// Device-side sync state constants
const (
	SyncPending   = "PENDING"
	SyncInFlight  = "IN_FLIGHT"
	SyncConfirmed = "CONFIRMED"
	SyncFailed    = "FAILED"
)

// Attendance status constants
const (
	StatusNotArrived = "NOT_ARRIVED"
	StatusCheckedIn  = "CHECKED_IN"
)

// Transition outcome constants
const (
	OutcomeCommitted = "COMMITTED"
	OutcomeDuplicate = "DUPLICATE"
	OutcomeRejected  = "REJECTED"
)

// Live channel message types
const (
	MessageSubscribe     = "subscribe"
	MessageSnapshot      = "snapshot"
	MessageCheckinUpdate = "checkin_update"
	MessageStatsUpdate   = "stats_update"
	MessageError         = "error"
)

// Request types

// CheckInAction is a device-originated intent to check in one guest.
// ActionID is the idempotency key and never changes across retries.
type CheckInAction struct {
	ActionID  string    `json:"action_id" validate:"required,max=64"`
	GuestRef  string    `json:"guest_ref" validate:"required,max=128"`
	EventRef  string    `json:"event_ref" validate:"required,max=64"`
	Method    string    `json:"method" validate:"required,oneof=QR_SCAN MANUAL"`
	CreatedAt time.Time `json:"created_at"`
	SyncState string    `json:"sync_state,omitempty"`
}

// SubscribeRequest is the first frame a client sends on /live
type SubscribeRequest struct {
	Type          string `json:"type"`
	EventRef      string `json:"event_ref"`
	BackfillLimit int    `json:"backfill_limit,omitempty"`
}

// Response types

// TransitionResult is the server's answer to a CheckInAction. For
// COMMITTED and DUPLICATE it always reflects the authoritative record.
type TransitionResult struct {
	Outcome     string     `json:"outcome"`
	ActionID    string     `json:"action_id"`
	EventRef    string     `json:"event_ref"`
	GuestID     string     `json:"guest_id,omitempty"`
	GuestName   string     `json:"guest_name,omitempty"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	CheckedInBy string     `json:"checked_in_by,omitempty"`
	Method      string     `json:"method,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Replayed    bool       `json:"replayed,omitempty"`
}

// AggregateStats is always derived from the attendance table
type AggregateStats struct {
	EventRef       string    `json:"event_ref"`
	TotalGuests    int       `json:"total_guests"`
	CheckedInCount int       `json:"checked_in_count"`
	PendingCount   int       `json:"pending_count"`
	CheckedInRate  float64   `json:"checked_in_rate"`
	ComputedAt     time.Time `json:"computed_at"`
}

// Snapshot is the backfill payload sent on (re)subscribe
type Snapshot struct {
	EventRef    string         `json:"event_ref"`
	Seq         int64          `json:"seq"`
	Stats       AggregateStats `json:"stats"`
	Transitions []Transition   `json:"transitions"`
}

// Domain types

type Guest struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	QRCode *string `json:"qr_code,omitempty"`
}

// AttendanceRecord is the server-owned authoritative state for one
// guest at one event. CheckedInAt, CheckedInBy and Method are written
// once by the first successful transition.
type AttendanceRecord struct {
	GuestID     string     `json:"guest_id"`
	EventID     string     `json:"event_id"`
	GuestName   string     `json:"guest_name"`
	Status      string     `json:"status"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	CheckedInBy *string    `json:"checked_in_by,omitempty"`
	Method      *string    `json:"method,omitempty"`
}

// Transition is one committed NOT_ARRIVED -> CHECKED_IN change.
// Seq increases monotonically per event.
type Transition struct {
	ID          string    `json:"id"`
	EventRef    string    `json:"event_ref"`
	Seq         int64     `json:"seq"`
	ActionID    string    `json:"action_id"`
	GuestID     string    `json:"guest_id"`
	GuestName   string    `json:"guest_name"`
	CheckedInAt time.Time `json:"checked_in_at"`
	CheckedInBy string    `json:"checked_in_by"`
	Method      string    `json:"method"`
}

// LiveMessage is the envelope for every server -> client frame on /live.
// Exactly one of the payload fields is set, matching Type.
type LiveMessage struct {
	Type       string          `json:"type"`
	EventRef   string          `json:"event_ref"`
	Seq        int64           `json:"seq,omitempty"`
	Transition *Transition     `json:"transition,omitempty"`
	Stats      *AggregateStats `json:"stats,omitempty"`
	Snapshot   *Snapshot       `json:"snapshot,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// CachedGuest is the device's last-known view of a guest
type CachedGuest struct {
	EventRef    string     `json:"event_ref"`
	GuestID     string     `json:"guest_id"`
	GuestName   string     `json:"guest_name"`
	Status      string     `json:"status"`
	CheckedInAt *time.Time `json:"checked_in_at,omitempty"`
	CheckedInBy string     `json:"checked_in_by,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// FailedAction is a terminally rejected action kept for the operator
type FailedAction struct {
	Action   CheckInAction `json:"action"`
	Reason   string        `json:"reason"`
	FailedAt time.Time     `json:"failed_at"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
