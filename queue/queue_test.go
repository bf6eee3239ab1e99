// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/doorlist/models"
)

const testEvent = "evt-queue"

func openTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := Open(path, testEvent)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q, path
}

func action(id, guest string) models.CheckInAction {
	return models.CheckInAction{
		ActionID:  id,
		GuestRef:  guest,
		EventRef:  testEvent,
		Method:    models.MethodQRScan,
		CreatedAt: time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC),
	}
}

func TestEnqueueAndPeek(t *testing.T) {
	ctx := context.Background()
	q, _ := openTestQueue(t)

	_, ok, err := q.PeekNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "empty queue has nothing to peek")

	require.NoError(t, q.Enqueue(ctx, action("a1", "G1")))
	require.NoError(t, q.Enqueue(ctx, action("a2", "G2")))

	next, ok, err := q.PeekNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a1", next.ActionID)
	assert.Equal(t, models.SyncPending, next.SyncState)
	assert.Equal(t, 0, next.Attempts)
	assert.True(t, next.CreatedAt.Equal(action("a1", "G1").CreatedAt))

	// Peek does not consume
	again, _, err := q.PeekNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", again.ActionID)

	n, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestEnqueueDuplicateIsNoop(t *testing.T) {
	ctx := context.Background()
	q, _ := openTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, action("a1", "G1")))
	require.NoError(t, q.Enqueue(ctx, action("a1", "G1")))

	n, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEnqueueWrongEvent(t *testing.T) {
	q, _ := openTestQueue(t)

	a := action("a1", "G1")
	a.EventRef = "evt-other"
	err := q.Enqueue(context.Background(), a)
	assert.ErrorIs(t, err, ErrWrongEvent)
}

func TestCapture(t *testing.T) {
	ctx := context.Background()
	q, _ := openTestQueue(t)

	a, err := q.Capture(ctx, "QR-1", models.MethodQRScan)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ActionID)
	assert.Equal(t, testEvent, a.EventRef)

	b, err := q.Capture(ctx, "QR-1", models.MethodQRScan)
	require.NoError(t, err)
	assert.NotEqual(t, a.ActionID, b.ActionID, "each capture is a distinct action")

	n, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInFlightAndConfirm(t *testing.T) {
	ctx := context.Background()
	q, _ := openTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, action("a1", "G1")))
	require.NoError(t, q.Enqueue(ctx, action("a2", "G2")))
	require.NoError(t, q.MarkInFlight(ctx, "a1"))

	// An in-flight action is not handed out again
	next, ok, err := q.PeekNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a2", next.ActionID)

	n, err := q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "in-flight actions are still unsynced")

	require.NoError(t, q.MarkConfirmed(ctx, "a1"))
	n, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, q.MarkConfirmed(ctx, "a1"), ErrNotFound)
	assert.ErrorIs(t, q.MarkInFlight(ctx, "missing"), ErrNotFound)
}

func TestRetryableFailureKeepsPosition(t *testing.T) {
	ctx := context.Background()
	q, _ := openTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, action("a1", "G1")))
	require.NoError(t, q.Enqueue(ctx, action("a2", "G2")))

	require.NoError(t, q.MarkInFlight(ctx, "a1"))
	require.NoError(t, q.MarkFailed(ctx, "a1", true, "connection refused"))
	require.NoError(t, q.MarkInFlight(ctx, "a1"))
	require.NoError(t, q.MarkFailed(ctx, "a1", true, "timeout"))

	next, ok, err := q.PeekNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a1", next.ActionID)
	assert.Equal(t, 2, next.Attempts)
	assert.Equal(t, "timeout", next.LastError)
	assert.Equal(t, models.SyncPending, next.SyncState)
}

func TestTerminalFailureMovesToFailures(t *testing.T) {
	ctx := context.Background()
	q, _ := openTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, action("a1", "G-foreign")))
	require.NoError(t, q.Enqueue(ctx, action("a2", "G2")))

	require.NoError(t, q.MarkInFlight(ctx, "a1"))
	require.NoError(t, q.MarkFailed(ctx, "a1", false, "guest is not on the list for this event"))

	next, ok, err := q.PeekNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a2", next.ActionID, "terminal failure does not block the queue")

	failures, err := q.Failures(ctx)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "a1", failures[0].Action.ActionID)
	assert.Equal(t, "G-foreign", failures[0].Action.GuestRef)
	assert.Equal(t, models.SyncFailed, failures[0].Action.SyncState)
	assert.Equal(t, "guest is not on the list for this event", failures[0].Reason)

	require.NoError(t, q.DismissFailure(ctx, "a1"))
	failures, err = q.Failures(ctx)
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.ErrorIs(t, q.DismissFailure(ctx, "a1"), ErrNotFound)
	assert.ErrorIs(t, q.MarkFailed(ctx, "missing", false, "x"), ErrNotFound)
}

func TestReopenPreservesOrderAndRecoversInFlight(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	q, err := Open(path, testEvent)
	require.NoError(t, err)
	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, q.Enqueue(ctx, action(id, "G-"+id)))
	}
	require.NoError(t, q.MarkInFlight(ctx, "a1"))
	require.NoError(t, q.Close())

	// Simulated restart
	q, err = Open(path, testEvent)
	require.NoError(t, err)
	defer q.Close()

	entries, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i, id := range []string{"a1", "a2", "a3"} {
		assert.Equal(t, id, entries[i].ActionID)
		assert.Equal(t, models.SyncPending, entries[i].SyncState)
	}
}

func TestOpenRequiresEvent(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "queue.db"), "")
	assert.Error(t, err)
}

func TestReopenUnderOtherEventIgnoresActions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	q, err := Open(path, testEvent)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, action("a1", "G1")))
	require.NoError(t, q.Enqueue(ctx, action("a2", "G2")))
	require.NoError(t, q.MarkInFlight(ctx, "a2"))
	require.NoError(t, q.MarkFailed(ctx, "a2", false, "guest not found"))
	require.NoError(t, q.Close())

	other, err := Open(path, "evt-other")
	require.NoError(t, err)

	_, ok, err := other.PeekNext(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "another event's actions must not be drained")

	n, err := other.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	entries, err := other.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	failures, err := other.Failures(ctx)
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.NoError(t, other.Close())

	q, err = Open(path, testEvent)
	require.NoError(t, err)
	defer q.Close()

	n, err = q.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	next, ok, err := q.PeekNext(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a1", next.ActionID)
}
