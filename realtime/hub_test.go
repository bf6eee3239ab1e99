// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/doorlist/models"
)

type fakeSource struct {
	mu          sync.Mutex
	seq         int64
	checkedIn   int
	total       int
	transitions []models.Transition
	statsCalls  atomic.Int32
}

func (f *fakeSource) commit(eventRef string) models.Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.checkedIn++
	t := models.Transition{
		ID:          fmt.Sprintf("t-%d", f.seq),
		EventRef:    eventRef,
		Seq:         f.seq,
		GuestID:     fmt.Sprintf("g-%d", f.seq),
		CheckedInAt: time.Now().UTC(),
		Method:      models.MethodQRScan,
	}
	f.transitions = append(f.transitions, t)
	return t
}

func (f *fakeSource) Stats(ctx context.Context, eventRef string) (models.AggregateStats, error) {
	f.statsCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.AggregateStats{
		EventRef:       eventRef,
		TotalGuests:    f.total,
		CheckedInCount: f.checkedIn,
		PendingCount:   f.total - f.checkedIn,
		ComputedAt:     time.Now().UTC(),
	}, nil
}

func (f *fakeSource) Snapshot(ctx context.Context, eventRef string, limit int) (models.Snapshot, error) {
	st, _ := f.Stats(ctx, eventRef)
	f.mu.Lock()
	defer f.mu.Unlock()
	start := len(f.transitions) - limit
	if start < 0 {
		start = 0
	}
	return models.Snapshot{
		EventRef:    eventRef,
		Seq:         f.seq,
		Stats:       st,
		Transitions: append([]models.Transition(nil), f.transitions[start:]...),
	}, nil
}

func (f *fakeSource) LatestSeq(ctx context.Context, eventRef string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq, nil
}

func recv(t *testing.T, s *Session) models.LiveMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := s.Next(ctx)
	require.True(t, ok, "session %s: no message received", s.ID)
	return msg
}

func expectNothing(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	msg, ok := s.Next(ctx)
	assert.False(t, ok, "session %s: unexpected message %+v", s.ID, msg)
}

func TestPublishFanOut(t *testing.T) {
	src := &fakeSource{total: 10}
	hub := NewHub(src, Options{})
	ctx := context.Background()

	var sessions []*Session
	for i := range 3 {
		s := hub.NewSession(fmt.Sprintf("s%d", i), "evt-1", "staff")
		require.NoError(t, hub.Subscribe(ctx, s))
		sessions = append(sessions, s)
	}
	other := hub.NewSession("other", "evt-2", "staff")
	require.NoError(t, hub.Subscribe(ctx, other))

	tr := src.commit("evt-1")
	hub.PublishTransition(tr)

	for _, s := range sessions {
		msg := recv(t, s)
		assert.Equal(t, models.MessageCheckinUpdate, msg.Type)
		if assert.NotNil(t, msg.Transition) {
			assert.Equal(t, tr.GuestID, msg.Transition.GuestID)
		}
		expectNothing(t, s)
	}
	expectNothing(t, other)
}

func TestPublishOrdering(t *testing.T) {
	src := &fakeSource{}
	hub := NewHub(src, Options{ReorderWindow: time.Second})
	ctx := context.Background()

	s := hub.NewSession("s1", "evt-1", "staff")
	require.NoError(t, hub.Subscribe(ctx, s))

	t1 := src.commit("evt-1")
	t2 := src.commit("evt-1")
	t3 := src.commit("evt-1")

	// Commits race to the broadcaster out of order
	hub.PublishTransition(t3)
	hub.PublishTransition(t1)
	hub.PublishTransition(t2)

	for _, want := range []int64{1, 2, 3} {
		require.Equal(t, want, recv(t, s).Seq)
	}
}

func TestPublishGapFlushesAfterWindow(t *testing.T) {
	src := &fakeSource{}
	hub := NewHub(src, Options{ReorderWindow: 20 * time.Millisecond})
	ctx := context.Background()

	s := hub.NewSession("s1", "evt-1", "staff")
	require.NoError(t, hub.Subscribe(ctx, s))

	src.commit("evt-1") // never published
	t2 := src.commit("evt-1")
	hub.PublishTransition(t2)

	assert.Equal(t, int64(2), recv(t, s).Seq, "held seq 2 is flushed")
}

func TestSlowSessionDropped(t *testing.T) {
	src := &fakeSource{}
	hub := NewHub(src, Options{SendBuffer: 1})
	ctx := context.Background()

	slow := hub.NewSession("slow", "evt-1", "staff")
	fast := NewSession("fast", "evt-1", "staff", 16)
	for _, s := range []*Session{slow, fast} {
		require.NoError(t, hub.Subscribe(ctx, s))
	}

	hub.PublishTransition(src.commit("evt-1"))
	hub.PublishTransition(src.commit("evt-1"))

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		require.FailNow(t, "slow session was not dropped")
	}
	assert.Equal(t, 1, hub.SessionCount("evt-1"))

	for _, want := range []int64{1, 2} {
		assert.Equal(t, want, recv(t, fast).Seq, "fast session")
	}
}

func TestAttachSkipsSnapshotContent(t *testing.T) {
	src := &fakeSource{total: 5}
	hub := NewHub(src, Options{})
	ctx := context.Background()

	early := hub.NewSession("early", "evt-1", "staff")
	require.NoError(t, hub.Subscribe(ctx, early))

	// Two commits land in the store before their broadcasts run
	t1 := src.commit("evt-1")
	t2 := src.commit("evt-1")

	late := hub.NewSession("late", "evt-1", "staff")
	snap, err := hub.Attach(ctx, late, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), snap.Seq)
	require.Len(t, snap.Transitions, 2)

	hub.PublishTransition(t1)
	hub.PublishTransition(t2)
	t3 := src.commit("evt-1")
	hub.PublishTransition(t3)

	for _, want := range []int64{1, 2, 3} {
		assert.Equal(t, want, recv(t, early).Seq, "early session")
	}
	assert.Equal(t, int64(3), recv(t, late).Seq, "late session gets only what its snapshot lacks")
}

func TestStatsLoop(t *testing.T) {
	src := &fakeSource{total: 4}
	hub := NewHub(src, Options{StatsInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	s := hub.NewSession("s1", "evt-1", "staff")
	require.NoError(t, hub.Subscribe(ctx, s))

	hub.PublishTransition(src.commit("evt-1"))

	require.Equal(t, models.MessageCheckinUpdate, recv(t, s).Type, "checkin_update comes first")
	msg := recv(t, s)
	require.Equal(t, models.MessageStatsUpdate, msg.Type)
	assert.Equal(t, 1, msg.Stats.CheckedInCount)
	assert.Equal(t, 3, msg.Stats.PendingCount)

	cancel()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		require.FailNow(t, "sessions stay open after the hub stops")
	}
}

func TestUnsubscribeRemovesRoom(t *testing.T) {
	src := &fakeSource{}
	hub := NewHub(src, Options{})
	ctx := context.Background()

	s := hub.NewSession("s1", "evt-1", "staff")
	require.NoError(t, hub.Subscribe(ctx, s))
	hub.Unsubscribe(s)
	hub.Unsubscribe(s)

	assert.Zero(t, hub.SessionCount("evt-1"), "room not emptied")
	// Publishing to an event without sessions is a no-op
	hub.PublishTransition(src.commit("evt-1"))

	select {
	case <-s.Done():
	default:
		assert.Fail(t, "unsubscribed session still open")
	}
}

func TestConcurrentRegistry(t *testing.T) {
	src := &fakeSource{}
	hub := NewHub(src, Options{SendBuffer: 256})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			s := hub.NewSession(fmt.Sprintf("s%d", i), "evt-1", "staff")
			if !assert.NoError(t, hub.Subscribe(ctx, s)) {
				return
			}
			time.Sleep(time.Millisecond)
			hub.Unsubscribe(s)
		})
	}
	for range 20 {
		wg.Go(func() {
			hub.PublishTransition(src.commit("evt-1"))
		})
	}
	wg.Wait()

	assert.Zero(t, hub.SessionCount("evt-1"), "sessions left behind")
}
