// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/danielhkuo/doorlist/models"
)

// CacheGuest upserts the device's view of a guest. A guest already
// cached as CHECKED_IN keeps its original check-in fields.
func (q *Queue) CacheGuest(ctx context.Context, g models.CachedGuest) error {
	if g.EventRef == "" {
		g.EventRef = q.eventRef
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = q.now().UTC()
	}

	var checkedInAt sql.NullInt64
	if g.CheckedInAt != nil {
		checkedInAt = sql.NullInt64{Int64: g.CheckedInAt.UnixMicro(), Valid: true}
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO guest_cache (event_ref, guest_id, guest_name, status, checked_in_at, checked_in_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_ref, guest_id) DO UPDATE SET
			guest_name = excluded.guest_name,
			status = CASE WHEN guest_cache.status = 'CHECKED_IN' THEN guest_cache.status ELSE excluded.status END,
			checked_in_at = CASE WHEN guest_cache.status = 'CHECKED_IN' THEN guest_cache.checked_in_at ELSE excluded.checked_in_at END,
			checked_in_by = CASE WHEN guest_cache.status = 'CHECKED_IN' THEN guest_cache.checked_in_by ELSE excluded.checked_in_by END,
			updated_at = excluded.updated_at
	`, g.EventRef, g.GuestID, g.GuestName, g.Status, checkedInAt, g.CheckedInBy, g.UpdatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to cache guest: %w", err)
	}
	return nil
}

// ApplyTransition caches a committed transition and advances the
// cache's high-water seq
func (q *Queue) ApplyTransition(ctx context.Context, t models.Transition) error {
	at := t.CheckedInAt
	if err := q.CacheGuest(ctx, models.CachedGuest{
		EventRef:    t.EventRef,
		GuestID:     t.GuestID,
		GuestName:   t.GuestName,
		Status:      models.StatusCheckedIn,
		CheckedInAt: &at,
		CheckedInBy: t.CheckedInBy,
	}); err != nil {
		return err
	}
	return q.advanceSeq(ctx, t.EventRef, t.Seq)
}

// ApplySnapshot caches every transition in a backfill snapshot
func (q *Queue) ApplySnapshot(ctx context.Context, s models.Snapshot) error {
	for _, t := range s.Transitions {
		if err := q.ApplyTransition(ctx, t); err != nil {
			return err
		}
	}
	return q.advanceSeq(ctx, s.EventRef, s.Seq)
}

// CacheSeq is the highest commit seq the cache has seen
func (q *Queue) CacheSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := q.db.QueryRowContext(ctx, `SELECT seq FROM cache_meta WHERE event_ref = $1`, q.eventRef).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache seq: %w", err)
	}
	return seq, nil
}

// CachedGuest looks up one guest by id
func (q *Queue) CachedGuest(ctx context.Context, guestID string) (models.CachedGuest, bool, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT event_ref, guest_id, guest_name, status, checked_in_at, checked_in_by, updated_at
		FROM guest_cache
		WHERE event_ref = $1 AND guest_id = $2
	`, q.eventRef, guestID)

	g, err := scanCachedGuest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CachedGuest{}, false, nil
	}
	if err != nil {
		return models.CachedGuest{}, false, fmt.Errorf("failed to read cached guest: %w", err)
	}
	return g, true, nil
}

// CachedGuests returns the cached guests of this event by name
func (q *Queue) CachedGuests(ctx context.Context) ([]models.CachedGuest, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT event_ref, guest_id, guest_name, status, checked_in_at, checked_in_by, updated_at
		FROM guest_cache
		WHERE event_ref = $1
		ORDER BY guest_name, guest_id
	`, q.eventRef)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached guests: %w", err)
	}
	defer rows.Close()

	guests := []models.CachedGuest{}
	for rows.Next() {
		g, err := scanCachedGuest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cached guest: %w", err)
		}
		guests = append(guests, g)
	}
	return guests, rows.Err()
}

func (q *Queue) advanceSeq(ctx context.Context, eventRef string, seq int64) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO cache_meta (event_ref, seq) VALUES ($1, $2)
		ON CONFLICT (event_ref) DO UPDATE SET seq = MAX(cache_meta.seq, excluded.seq)
	`, eventRef, seq)
	if err != nil {
		return fmt.Errorf("failed to advance cache seq: %w", err)
	}
	return nil
}

func scanCachedGuest(s scanner) (models.CachedGuest, error) {
	var g models.CachedGuest
	var checkedInAt sql.NullInt64
	var checkedInBy sql.NullString
	var updatedAt int64
	if err := s.Scan(&g.EventRef, &g.GuestID, &g.GuestName, &g.Status,
		&checkedInAt, &checkedInBy, &updatedAt); err != nil {
		return models.CachedGuest{}, err
	}
	if checkedInAt.Valid {
		at := time.UnixMicro(checkedInAt.Int64).UTC()
		g.CheckedInAt = &at
	}
	g.CheckedInBy = checkedInBy.String
	g.UpdatedAt = time.UnixMicro(updatedAt).UTC()
	return g, nil
}
