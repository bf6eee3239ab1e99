// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/danielhkuo/doorlist/metrics"
	"github.com/danielhkuo/doorlist/models"
)

const (
	DefaultSendBuffer    = 64
	DefaultReorderWindow = 250 * time.Millisecond
	DefaultStatsInterval = 30 * time.Second
)

var ErrHubClosed = errors.New("hub closed")

// Source is the read side of the attendance store
type Source interface {
	Stats(ctx context.Context, eventRef string) (models.AggregateStats, error)
	Snapshot(ctx context.Context, eventRef string, limit int) (models.Snapshot, error)
	LatestSeq(ctx context.Context, eventRef string) (int64, error)
}

type Options struct {
	StatsInterval time.Duration
	ReorderWindow time.Duration
	SendBuffer    int
}

// Hub is the live session registry and the event broadcaster. Sessions
// are grouped into one room per event; add and remove are the only
// registry mutations.
type Hub struct {
	source Source
	opts   Options

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool

	statsSignal chan struct{}
}

type room struct {
	eventRef string
	sessions map[*Session]struct{}

	// Transitions with seq <= baseSeq predate the room
	baseSeq int64
	lastSeq int64
	pending map[int64]models.Transition
	flush   *time.Timer

	statsDirty bool
}

func NewHub(source Source, opts Options) *Hub {
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	if opts.ReorderWindow <= 0 {
		opts.ReorderWindow = DefaultReorderWindow
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	return &Hub{
		source:      source,
		opts:        opts,
		rooms:       make(map[string]*room),
		statsSignal: make(chan struct{}, 1),
	}
}

// NewSession creates a session using the hub's buffer size
func (h *Hub) NewSession(id, eventRef, staffID string) *Session {
	return NewSession(id, eventRef, staffID, h.opts.SendBuffer)
}

// Subscribe registers the session in its event's room. The room is
// created on first use and seeded with the store's latest seq.
func (h *Hub) Subscribe(ctx context.Context, s *Session) error {
	var seq int64
	seeded := false
	for {
		h.mu.Lock()
		if h.closed {
			h.mu.Unlock()
			return ErrHubClosed
		}
		if _, ok := h.rooms[s.EventRef]; ok || seeded {
			break
		}
		h.mu.Unlock()

		// Store reads stay outside the registry lock
		var err error
		seq, err = h.source.LatestSeq(ctx, s.EventRef)
		if err != nil {
			return fmt.Errorf("failed to read latest seq: %w", err)
		}
		seeded = true
	}
	defer h.mu.Unlock()

	r, ok := h.rooms[s.EventRef]
	if !ok {
		r = &room{
			eventRef: s.EventRef,
			sessions: make(map[*Session]struct{}),
			baseSeq:  seq,
			lastSeq:  seq,
			pending:  make(map[int64]models.Transition),
		}
		h.rooms[s.EventRef] = r
	}
	r.sessions[s] = struct{}{}
	metrics.LiveSessions.Inc()

	slog.Info("live session subscribed",
		"session_id", s.ID,
		"event_ref", s.EventRef,
		"staff_id", s.StaffID,
		"room_size", len(r.sessions),
	)
	return nil
}

// Attach subscribes the session and returns its backfill snapshot.
// Updates already contained in the snapshot are skipped for this session,
// so the caller must write the snapshot before draining Next.
func (h *Hub) Attach(ctx context.Context, s *Session, limit int) (models.Snapshot, error) {
	if err := h.Subscribe(ctx, s); err != nil {
		return models.Snapshot{}, err
	}

	snap, err := h.source.Snapshot(ctx, s.EventRef, limit)
	if err != nil {
		h.Unsubscribe(s)
		return models.Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	s.SetBaseline(snap.Seq)
	return snap, nil
}

// Unsubscribe removes the session and closes it. Safe to call twice.
func (h *Hub) Unsubscribe(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s, "")
}

func (h *Hub) removeLocked(s *Session, reason string) {
	s.Close()

	r, ok := h.rooms[s.EventRef]
	if !ok {
		return
	}
	if _, ok := r.sessions[s]; !ok {
		return
	}
	delete(r.sessions, s)
	metrics.LiveSessions.Dec()
	if reason != "" {
		metrics.LiveSessionsDroppedTotal.WithLabelValues(reason).Inc()
		slog.Warn("live session dropped",
			"session_id", s.ID,
			"event_ref", s.EventRef,
			"reason", reason,
		)
	}

	if len(r.sessions) == 0 {
		if r.flush != nil {
			r.flush.Stop()
		}
		delete(h.rooms, r.eventRef)
	}
}

// Drop removes a session after a delivery failure
func (h *Hub) Drop(s *Session, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s, reason)
}

// PublishTransition delivers a committed transition to every session of
// its room in seq order and schedules a stats update. Never blocks on a
// slow session.
func (h *Hub) PublishTransition(t models.Transition) {
	h.mu.Lock()
	r, ok := h.rooms[t.EventRef]
	if !ok {
		h.mu.Unlock()
		return
	}

	switch {
	case t.Seq <= r.baseSeq:
		// Already part of every snapshot this room has served
	case t.Seq == r.lastSeq+1:
		h.deliverTransitionLocked(r, t)
		r.lastSeq = t.Seq
		h.drainPendingLocked(r)
	case t.Seq > r.lastSeq+1:
		r.pending[t.Seq] = t
		if r.flush == nil {
			eventRef := t.EventRef
			r.flush = time.AfterFunc(h.opts.ReorderWindow, func() {
				h.flushPending(eventRef)
			})
		}
	default:
		// Gap was given up on; late but still unseen
		h.deliverTransitionLocked(r, t)
	}

	r.statsDirty = true
	h.mu.Unlock()

	select {
	case h.statsSignal <- struct{}{}:
	default:
	}
}

func (h *Hub) drainPendingLocked(r *room) {
	for {
		next, ok := r.pending[r.lastSeq+1]
		if !ok {
			break
		}
		delete(r.pending, next.Seq)
		h.deliverTransitionLocked(r, next)
		r.lastSeq = next.Seq
	}
	if len(r.pending) == 0 && r.flush != nil {
		r.flush.Stop()
		r.flush = nil
	}
}

// flushPending delivers held transitions after the reorder window
func (h *Hub) flushPending(eventRef string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[eventRef]
	if !ok {
		return
	}
	r.flush = nil
	if len(r.pending) == 0 {
		return
	}

	seqs := make([]int64, 0, len(r.pending))
	for seq := range r.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	slog.Warn("delivering transitions after sequence gap",
		"event_ref", eventRef,
		"expected_seq", r.lastSeq+1,
		"first_seq", seqs[0],
	)
	for _, seq := range seqs {
		h.deliverTransitionLocked(r, r.pending[seq])
		delete(r.pending, seq)
	}
	r.lastSeq = seqs[len(seqs)-1]
}

func (h *Hub) deliverTransitionLocked(r *room, t models.Transition) {
	tr := t
	h.deliverLocked(r, models.LiveMessage{
		Type:       models.MessageCheckinUpdate,
		EventRef:   t.EventRef,
		Seq:        t.Seq,
		Transition: &tr,
	})
}

func (h *Hub) deliverLocked(r *room, msg models.LiveMessage) {
	for s := range r.sessions {
		if s.enqueue(msg) {
			metrics.BroadcastMessagesTotal.WithLabelValues(msg.Type).Inc()
			continue
		}
		h.removeLocked(s, "slow_consumer")
	}
}

// BroadcastStats recomputes stats for one event and sends them to its room
func (h *Hub) BroadcastStats(ctx context.Context, eventRef string) error {
	st, err := h.source.Stats(ctx, eventRef)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[eventRef]
	if !ok {
		return nil
	}
	h.deliverLocked(r, models.LiveMessage{
		Type:     models.MessageStatsUpdate,
		EventRef: eventRef,
		Stats:    &st,
	})
	return nil
}

// Run is the stats loop. It pushes stats to every room each
// StatsInterval and, coalesced, to rooms that saw a commit. Closes every
// session when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.opts.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			for _, eventRef := range h.roomRefs(false) {
				h.pushStats(ctx, eventRef)
			}
		case <-h.statsSignal:
			for _, eventRef := range h.roomRefs(true) {
				h.pushStats(ctx, eventRef)
			}
		}
	}
}

func (h *Hub) pushStats(ctx context.Context, eventRef string) {
	if err := h.BroadcastStats(ctx, eventRef); err != nil && ctx.Err() == nil {
		slog.Warn("failed to broadcast stats", "event_ref", eventRef, "error", err)
	}
}

// roomRefs lists rooms; dirtyOnly also clears the dirty flags it reads
func (h *Hub) roomRefs(dirtyOnly bool) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	refs := make([]string, 0, len(h.rooms))
	for ref, r := range h.rooms {
		if dirtyOnly {
			if !r.statsDirty {
				continue
			}
			r.statsDirty = false
		}
		refs = append(refs, ref)
	}
	return refs
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for _, r := range h.rooms {
		for s := range r.sessions {
			h.removeLocked(s, "")
		}
	}
}

// SessionCount returns the number of sessions subscribed to the event
func (h *Hub) SessionCount(eventRef string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[eventRef]; ok {
		return len(r.sessions)
	}
	return 0
}
