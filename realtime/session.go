// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/danielhkuo/doorlist/models"
)

// Session is one live connection bound to one event and one staff
// identity. The hub only ever enqueues; a single writer drains Next.
type Session struct {
	ID       string
	EventRef string
	StaffID  string

	send      chan models.LiveMessage
	done      chan struct{}
	closeOnce sync.Once

	// checkin_updates at or below this seq are already in the snapshot
	baseline atomic.Int64
}

func NewSession(id, eventRef, staffID string, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultSendBuffer
	}
	return &Session{
		ID:       id,
		EventRef: eventRef,
		StaffID:  staffID,
		send:     make(chan models.LiveMessage, buffer),
		done:     make(chan struct{}),
	}
}

// SetBaseline marks transitions up to seq as already delivered
func (s *Session) SetBaseline(seq int64) {
	s.baseline.Store(seq)
}

// Done is closed once the session has been dropped or closed
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// enqueue never blocks. It reports false when the buffer is full or the
// session is already closed.
func (s *Session) enqueue(msg models.LiveMessage) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// Next returns the next message to write, skipping checkin_updates the
// snapshot already covered. ok is false once the session is closed or
// ctx is done.
func (s *Session) Next(ctx context.Context) (msg models.LiveMessage, ok bool) {
	for {
		select {
		case <-ctx.Done():
			return models.LiveMessage{}, false
		case <-s.done:
			return models.LiveMessage{}, false
		case msg = <-s.send:
			if msg.Type == models.MessageCheckinUpdate && msg.Seq <= s.baseline.Load() {
				continue
			}
			return msg, true
		}
	}
}
