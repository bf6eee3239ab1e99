// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/doorlist/db"
	"github.com/danielhkuo/doorlist/models"
)

var (
	ErrWrongEvent = errors.New("action belongs to a different event")
	ErrNotFound   = errors.New("action not found")
)

// Entry is a queued action plus its delivery bookkeeping
type Entry struct {
	models.CheckInAction
	Attempts  int
	LastError string
}

// Queue is the device-local durable action queue for one event, plus the
// guest-state cache fed by the live channel. Every write is committed to
// the SQLite file before the call returns.
type Queue struct {
	db       *sql.DB
	eventRef string
	now      func() time.Time
}

// Open opens (or creates) the queue file for an event. Actions left
// IN_FLIGHT by a crash go back to PENDING; the server deduplicates them
// by action_id.
func Open(path, eventRef string) (*Queue, error) {
	if eventRef == "" {
		return nil, errors.New("event reference required")
	}

	conn, err := db.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create queue schema: %w", err)
	}

	res, err := conn.Exec(`
		UPDATE queued_action SET sync_state = $1 WHERE sync_state = $2 AND event_ref = $3
	`, models.SyncPending, models.SyncInFlight, eventRef)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to recover in-flight actions: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("recovered in-flight actions", "count", n, "event_ref", eventRef)
	}

	return &Queue{db: conn, eventRef: eventRef, now: time.Now}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

// EventRef returns the event this queue belongs to
func (q *Queue) EventRef() string {
	return q.eventRef
}

// Capture builds a new action with a fresh action_id and enqueues it
func (q *Queue) Capture(ctx context.Context, guestRef, method string) (models.CheckInAction, error) {
	action := models.CheckInAction{
		ActionID:  uuid.NewString(),
		GuestRef:  guestRef,
		EventRef:  q.eventRef,
		Method:    method,
		CreatedAt: q.now().UTC(),
		SyncState: models.SyncPending,
	}
	if err := q.Enqueue(ctx, action); err != nil {
		return models.CheckInAction{}, err
	}
	return action, nil
}

// Enqueue stores an action as PENDING. Enqueueing an action_id that is
// already queued is a no-op.
func (q *Queue) Enqueue(ctx context.Context, action models.CheckInAction) error {
	if action.EventRef != q.eventRef {
		return fmt.Errorf("%w: %s", ErrWrongEvent, action.EventRef)
	}
	if action.ActionID == "" || action.GuestRef == "" {
		return errors.New("action_id and guest_ref are required")
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = q.now().UTC()
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO queued_action (action_id, guest_ref, event_ref, method, created_at, sync_state)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (action_id) DO NOTHING
	`, action.ActionID, action.GuestRef, action.EventRef, action.Method,
		action.CreatedAt.UnixMicro(), models.SyncPending)
	if err != nil {
		return fmt.Errorf("failed to enqueue action: %w", err)
	}
	return nil
}

// PeekNext returns the oldest PENDING action without changing it
func (q *Queue) PeekNext(ctx context.Context) (Entry, bool, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT action_id, guest_ref, event_ref, method, created_at, sync_state, attempts, last_error
		FROM queued_action
		WHERE sync_state = $1 AND event_ref = $2
		ORDER BY seq
		LIMIT 1
	`, models.SyncPending, q.eventRef)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to peek queue: %w", err)
	}
	return e, true, nil
}

func (q *Queue) MarkInFlight(ctx context.Context, actionID string) error {
	return q.setState(ctx, actionID, models.SyncInFlight)
}

// MarkConfirmed removes an acknowledged action
func (q *Queue) MarkConfirmed(ctx context.Context, actionID string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM queued_action WHERE action_id = $1`, actionID)
	if err != nil {
		return fmt.Errorf("failed to confirm action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed records a failed attempt. A retryable failure keeps the
// action at its place in line; a terminal one moves it to the failure
// list so the rest of the queue can proceed.
func (q *Queue) MarkFailed(ctx context.Context, actionID string, retryable bool, reason string) error {
	if retryable {
		res, err := q.db.ExecContext(ctx, `
			UPDATE queued_action
			SET sync_state = $1, attempts = attempts + 1, last_error = $2
			WHERE action_id = $3
		`, models.SyncPending, reason, actionID)
		if err != nil {
			return fmt.Errorf("failed to record retry: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO failed_action (action_id, guest_ref, event_ref, method, created_at, reason, failed_at)
		SELECT action_id, guest_ref, event_ref, method, created_at, $1, $2
		FROM queued_action WHERE action_id = $3
		ON CONFLICT (action_id) DO NOTHING
	`, reason, q.now().UTC().UnixMicro(), actionID)
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	moved, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM queued_action WHERE action_id = $1`, actionID)
	if err != nil {
		return fmt.Errorf("failed to remove failed action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 && moved == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit failure: %w", err)
	}
	return nil
}

// Pending counts actions not yet confirmed, in flight included
func (q *Queue) Pending(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queued_action WHERE event_ref = $1
	`, q.eventRef).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

// List returns every unconfirmed action in submission order
func (q *Queue) List(ctx context.Context) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT action_id, guest_ref, event_ref, method, created_at, sync_state, attempts, last_error
		FROM queued_action
		WHERE event_ref = $1
		ORDER BY seq
	`, q.eventRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Failures lists terminally rejected actions, oldest first
func (q *Queue) Failures(ctx context.Context) ([]models.FailedAction, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT action_id, guest_ref, event_ref, method, created_at, reason, failed_at
		FROM failed_action
		WHERE event_ref = $1
		ORDER BY failed_at, action_id
	`, q.eventRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	failures := []models.FailedAction{}
	for rows.Next() {
		var f models.FailedAction
		var createdAt, failedAt int64
		if err := rows.Scan(&f.Action.ActionID, &f.Action.GuestRef, &f.Action.EventRef,
			&f.Action.Method, &createdAt, &f.Reason, &failedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		f.Action.CreatedAt = time.UnixMicro(createdAt).UTC()
		f.Action.SyncState = models.SyncFailed
		f.FailedAt = time.UnixMicro(failedAt).UTC()
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// DismissFailure removes an acknowledged failure
func (q *Queue) DismissFailure(ctx context.Context, actionID string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM failed_action WHERE action_id = $1`, actionID)
	if err != nil {
		return fmt.Errorf("failed to dismiss failure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *Queue) setState(ctx context.Context, actionID, state string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE queued_action SET sync_state = $1 WHERE action_id = $2
	`, state, actionID)
	if err != nil {
		return fmt.Errorf("failed to update action state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var e Entry
	var createdAt int64
	var lastError sql.NullString
	err := s.Scan(&e.ActionID, &e.GuestRef, &e.EventRef, &e.Method,
		&createdAt, &e.SyncState, &e.Attempts, &lastError)
	if err != nil {
		return Entry{}, err
	}
	e.CreatedAt = time.UnixMicro(createdAt).UTC()
	e.LastError = lastError.String
	return e, nil
}

// Timestamps are stored as Unix microseconds
const schema = `
CREATE TABLE IF NOT EXISTS queued_action (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    action_id TEXT NOT NULL UNIQUE,
    guest_ref TEXT NOT NULL,
    event_ref TEXT NOT NULL,
    method TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    sync_state TEXT NOT NULL DEFAULT 'PENDING' CHECK (sync_state IN ('PENDING', 'IN_FLIGHT')),
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT
);

CREATE INDEX IF NOT EXISTS idx_queued_action_event ON queued_action(event_ref, sync_state, seq);

CREATE TABLE IF NOT EXISTS failed_action (
    action_id TEXT PRIMARY KEY,
    guest_ref TEXT NOT NULL,
    event_ref TEXT NOT NULL,
    method TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    reason TEXT NOT NULL,
    failed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS guest_cache (
    event_ref TEXT NOT NULL,
    guest_id TEXT NOT NULL,
    guest_name TEXT NOT NULL,
    status TEXT NOT NULL,
    checked_in_at INTEGER,
    checked_in_by TEXT,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (event_ref, guest_id)
);

CREATE TABLE IF NOT EXISTS cache_meta (
    event_ref TEXT PRIMARY KEY,
    seq INTEGER NOT NULL DEFAULT 0
);
`
