// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danielhkuo/doorlist/models"
)

// Rejection reasons returned to devices
const (
	ReasonGuestNotFound = "guest not found"
	ReasonNotOnList     = "guest is not on the list for this event"
)

// Store is the authoritative attendance store. All attendance writes
// go through Apply.
type Store struct {
	db       *sql.DB
	postgres bool
}

func New(db *sql.DB, dbType string) *Store {
	return &Store{db: db, postgres: dbType == "postgres"}
}

// Apply runs one check-in attempt in a single transaction: idempotency
// lookup, guest resolution, conditional update, and idempotency record.
// The returned transition is non-nil only for COMMITTED. Rejections are
// not recorded, so resubmitting a rejected action evaluates it again.
func (s *Store) Apply(ctx context.Context, staffID string, action models.CheckInAction, now, expiresAt time.Time) (models.TransitionResult, *models.Transition, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.TransitionResult{}, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Previously processed action
	var raw string
	err = tx.QueryRowContext(ctx, `
		SELECT result FROM idempotency_log
		WHERE event_id = $1 AND action_id = $2 AND expires_at > $3
	`, action.EventRef, action.ActionID, now.Unix()).Scan(&raw)
	if err == nil {
		var prior models.TransitionResult
		if err := json.Unmarshal([]byte(raw), &prior); err != nil {
			return models.TransitionResult{}, nil, fmt.Errorf("failed to decode idempotency record: %w", err)
		}
		prior.Outcome = models.OutcomeDuplicate
		prior.Replayed = true
		return prior, nil, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.TransitionResult{}, nil, fmt.Errorf("failed to query idempotency log: %w", err)
	}

	result := models.TransitionResult{
		ActionID: action.ActionID,
		EventRef: action.EventRef,
	}

	// Resolve guest_ref by id first, then by QR code
	var guestID, guestName string
	err = tx.QueryRowContext(ctx, `
		SELECT id, name FROM guest
		WHERE id = $1 OR qr_code = $1
		ORDER BY CASE WHEN id = $1 THEN 0 ELSE 1 END
		LIMIT 1
	`, action.GuestRef).Scan(&guestID, &guestName)
	if errors.Is(err, sql.ErrNoRows) {
		result.Outcome = models.OutcomeRejected
		result.Reason = ReasonGuestNotFound
		return result, nil, nil
	}
	if err != nil {
		return models.TransitionResult{}, nil, fmt.Errorf("failed to resolve guest: %w", err)
	}
	result.GuestID = guestID
	result.GuestName = guestName

	var onList bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM attendance WHERE guest_id = $1 AND event_id = $2
		)
	`, guestID, action.EventRef).Scan(&onList)
	if err != nil {
		return models.TransitionResult{}, nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	if !onList {
		result.Outcome = models.OutcomeRejected
		result.Reason = ReasonNotOnList
		return result, nil, nil
	}

	// Conditional transition NOT_ARRIVED -> CHECKED_IN
	res, err := tx.ExecContext(ctx, `
		UPDATE attendance
		SET status = 'CHECKED_IN', checked_in_at = $1, checked_in_by = $2, method = $3
		WHERE guest_id = $4 AND event_id = $5 AND status = 'NOT_ARRIVED'
	`, now, staffID, action.Method, guestID, action.EventRef)
	if err != nil {
		return models.TransitionResult{}, nil, fmt.Errorf("failed to update attendance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return models.TransitionResult{}, nil, fmt.Errorf("failed to read affected rows: %w", err)
	}

	var transition *models.Transition
	if affected == 1 {
		var seq int64
		err = tx.QueryRowContext(ctx, `
			UPDATE event SET commit_seq = commit_seq + 1 WHERE id = $1
			RETURNING commit_seq
		`, action.EventRef).Scan(&seq)
		if err != nil {
			return models.TransitionResult{}, nil, fmt.Errorf("failed to allocate commit sequence: %w", err)
		}

		transition = &models.Transition{
			ID:          uuid.NewString(),
			EventRef:    action.EventRef,
			Seq:         seq,
			ActionID:    action.ActionID,
			GuestID:     guestID,
			GuestName:   guestName,
			CheckedInAt: now,
			CheckedInBy: staffID,
			Method:      action.Method,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO checkin_transition
				(id, event_id, seq, action_id, guest_id, guest_name, checked_in_at, checked_in_by, method)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, transition.ID, transition.EventRef, transition.Seq, transition.ActionID,
			transition.GuestID, transition.GuestName, transition.CheckedInAt,
			transition.CheckedInBy, transition.Method)
		if err != nil {
			return models.TransitionResult{}, nil, fmt.Errorf("failed to record transition: %w", err)
		}

		checkedInAt := now
		result.Outcome = models.OutcomeCommitted
		result.CheckedInAt = &checkedInAt
		result.CheckedInBy = staffID
		result.Method = action.Method
	} else {
		var checkedInAt time.Time
		var checkedInBy, method string
		err = tx.QueryRowContext(ctx, `
			SELECT checked_in_at, checked_in_by, method FROM attendance
			WHERE guest_id = $1 AND event_id = $2
		`, guestID, action.EventRef).Scan(&checkedInAt, &checkedInBy, &method)
		if err != nil {
			return models.TransitionResult{}, nil, fmt.Errorf("failed to read attendance: %w", err)
		}
		checkedInAt = checkedInAt.UTC()
		result.Outcome = models.OutcomeDuplicate
		result.CheckedInAt = &checkedInAt
		result.CheckedInBy = checkedInBy
		result.Method = method
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return models.TransitionResult{}, nil, fmt.Errorf("failed to encode result: %w", err)
	}
	// An unexpired entry for the same action keeps its first result
	_, err = tx.ExecContext(ctx, `
		INSERT INTO idempotency_log (event_id, action_id, result, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id, action_id) DO UPDATE
		SET result = excluded.result, created_at = excluded.created_at, expires_at = excluded.expires_at
		WHERE idempotency_log.expires_at <= $4
	`, action.EventRef, action.ActionID, string(payload), now.Unix(), expiresAt.Unix())
	if err != nil {
		return models.TransitionResult{}, nil, fmt.Errorf("failed to record idempotency entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.TransitionResult{}, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, transition, nil
}

// Stats computes AggregateStats directly from the attendance table
func (s *Store) Stats(ctx context.Context, eventRef string) (models.AggregateStats, error) {
	return stats(ctx, s.db, eventRef)
}

func (s *Store) EventExists(ctx context.Context, eventRef string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM event WHERE id = $1)
	`, eventRef).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query event: %w", err)
	}
	return exists, nil
}

// LatestSeq returns the last committed sequence number for the event
func (s *Store) LatestSeq(ctx context.Context, eventRef string) (int64, error) {
	return latestSeq(ctx, s.db, eventRef)
}

// RecentTransitions returns up to limit transitions, oldest first
func (s *Store) RecentTransitions(ctx context.Context, eventRef string, limit int) ([]models.Transition, error) {
	return recentTransitions(ctx, s.db, eventRef, -1, limit)
}

// Snapshot reads the sequence, stats and recent history for backfill.
// Transitions are bounded by the returned Seq so later commits are
// delivered as live updates.
func (s *Store) Snapshot(ctx context.Context, eventRef string, limit int) (models.Snapshot, error) {
	var opts *sql.TxOptions
	if s.postgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback()

	seq, err := latestSeq(ctx, tx, eventRef)
	if err != nil {
		return models.Snapshot{}, err
	}
	st, err := stats(ctx, tx, eventRef)
	if err != nil {
		return models.Snapshot{}, err
	}
	transitions, err := recentTransitions(ctx, tx, eventRef, seq, limit)
	if err != nil {
		return models.Snapshot{}, err
	}

	return models.Snapshot{
		EventRef:    eventRef,
		Seq:         seq,
		Stats:       st,
		Transitions: transitions,
	}, nil
}

// PruneIdempotency deletes idempotency entries that expired before now
func (s *Store) PruneIdempotency(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_log WHERE expires_at <= $1`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune idempotency log: %w", err)
	}
	return res.RowsAffected()
}

// Ping reports whether the store is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func stats(ctx context.Context, q queryer, eventRef string) (models.AggregateStats, error) {
	st := models.AggregateStats{EventRef: eventRef}
	err := q.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'CHECKED_IN' THEN 1 ELSE 0 END), 0)
		FROM attendance
		WHERE event_id = $1
	`, eventRef).Scan(&st.TotalGuests, &st.CheckedInCount)
	if err != nil {
		return models.AggregateStats{}, fmt.Errorf("failed to compute stats: %w", err)
	}

	st.PendingCount = st.TotalGuests - st.CheckedInCount
	if st.TotalGuests > 0 {
		st.CheckedInRate = float64(st.CheckedInCount) / float64(st.TotalGuests)
	}
	st.ComputedAt = time.Now().UTC()
	return st, nil
}

func latestSeq(ctx context.Context, q queryer, eventRef string) (int64, error) {
	var seq int64
	err := q.QueryRowContext(ctx, `SELECT commit_seq FROM event WHERE id = $1`, eventRef).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read commit sequence: %w", err)
	}
	return seq, nil
}

// recentTransitions returns the newest limit transitions (bounded by
// maxSeq unless it is negative) in ascending seq order
func recentTransitions(ctx context.Context, q queryer, eventRef string, maxSeq int64, limit int) ([]models.Transition, error) {
	if limit <= 0 {
		return []models.Transition{}, nil
	}

	query := `
		SELECT id, event_id, seq, action_id, guest_id, guest_name, checked_in_at, checked_in_by, method
		FROM checkin_transition
		WHERE event_id = $1`
	args := []any{eventRef}
	if maxSeq >= 0 {
		query += ` AND seq <= $2 ORDER BY seq DESC LIMIT $3`
		args = append(args, maxSeq, limit)
	} else {
		query += ` ORDER BY seq DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	transitions := []models.Transition{}
	for rows.Next() {
		var t models.Transition
		if err := rows.Scan(&t.ID, &t.EventRef, &t.Seq, &t.ActionID, &t.GuestID,
			&t.GuestName, &t.CheckedInAt, &t.CheckedInBy, &t.Method); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		t.CheckedInAt = t.CheckedInAt.UTC()
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transitions: %w", err)
	}

	// Oldest first
	for i, j := 0, len(transitions)-1; i < j; i, j = i+1, j-1 {
		transitions[i], transitions[j] = transitions[j], transitions[i]
	}
	return transitions, nil
}
