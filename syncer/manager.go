// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielhkuo/doorlist/backoff"
	"github.com/danielhkuo/doorlist/client"
	"github.com/danielhkuo/doorlist/models"
	"github.com/danielhkuo/doorlist/queue"
)

const (
	DefaultSubmitTimeout = 10 * time.Second
	DefaultMaxAttempts   = 8
	DefaultMaxQueueAge   = 24 * time.Hour
)

var ErrAlreadyRunning = errors.New("sync manager is already running")

// Queue is the durable action queue the manager drains, together with
// the guest cache confirmed results are merged into
type Queue interface {
	PeekNext(ctx context.Context) (queue.Entry, bool, error)
	MarkInFlight(ctx context.Context, actionID string) error
	MarkConfirmed(ctx context.Context, actionID string) error
	MarkFailed(ctx context.Context, actionID string, retryable bool, reason string) error
	Pending(ctx context.Context) (int, error)
	CacheGuest(ctx context.Context, g models.CachedGuest) error
}

type Submitter interface {
	Submit(ctx context.Context, action models.CheckInAction) (models.TransitionResult, error)
}

// Status is what the device UI shows about synchronization
type Status struct {
	IsOnline      bool
	IsSyncing     bool
	UnsyncedCount int
	LastSyncTime  time.Time
	Error         string
}

// Result reports how one action was resolved. Err is set only for
// terminal failures.
type Result struct {
	Action models.CheckInAction
	Result models.TransitionResult
	Err    error
}

type Options struct {
	Policy        backoff.Policy
	Clock         backoff.Clock
	SubmitTimeout time.Duration
	MaxAttempts   int
	MaxQueueAge   time.Duration
	// OnResult is called from the sync goroutine for every resolved action
	OnResult func(Result)
}

// Manager drains a Queue to the server one action at a time, oldest
// first. Only one Run may be active per Manager.
type Manager struct {
	queue     Queue
	submitter Submitter
	opts      Options
	wake      chan struct{}
	running   atomic.Bool

	mu       sync.Mutex
	status   Status
	retryAt  time.Time
	watchers []chan Status
}

func New(q Queue, submitter Submitter, opts Options) *Manager {
	if opts.Policy.Base <= 0 {
		opts.Policy = backoff.DefaultPolicy()
	}
	if opts.Clock == nil {
		opts.Clock = backoff.RealClock()
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = DefaultSubmitTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.MaxQueueAge <= 0 {
		opts.MaxQueueAge = DefaultMaxQueueAge
	}

	return &Manager{
		queue:     q,
		submitter: submitter,
		opts:      opts,
		wake:      make(chan struct{}, 1),
	}
}

// Run drains the queue while online until ctx is done
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	m.refreshCount(ctx)

	for {
		if ctx.Err() != nil {
			m.update(func(s *Status) { s.IsSyncing = false })
			return nil
		}

		if !m.Status().IsOnline {
			m.update(func(s *Status) { s.IsSyncing = false })
			m.sleep(ctx, nil)
			continue
		}

		if wait := m.retryWait(); wait > 0 {
			m.sleep(ctx, m.opts.Clock.After(wait))
			continue
		}

		more, retryIn := m.step(ctx)
		if retryIn > 0 {
			m.mu.Lock()
			m.retryAt = m.opts.Clock.Now().Add(retryIn)
			m.mu.Unlock()
			continue
		}
		if !more {
			m.sleep(ctx, nil)
		}
	}
}

// step submits the head of the queue once. It reports whether the queue
// had anything to submit, and the wait before the next attempt when the
// submission must be retried.
func (m *Manager) step(ctx context.Context) (bool, time.Duration) {
	entry, ok, err := m.queue.PeekNext(ctx)
	if err != nil {
		return m.queueError(ctx, "peek", err)
	}
	if !ok {
		m.update(func(s *Status) { s.IsSyncing = false })
		return false, 0
	}

	if err := m.queue.MarkInFlight(ctx, entry.ActionID); err != nil {
		return m.queueError(ctx, "mark in flight", err)
	}
	m.update(func(s *Status) { s.IsSyncing = true })

	submitCtx, cancel := context.WithTimeout(ctx, m.opts.SubmitTimeout)
	result, err := m.submitter.Submit(submitCtx, entry.CheckInAction)
	cancel()

	// Queue bookkeeping must land even if ctx ended mid-submit
	bookCtx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		m.cacheResult(bookCtx, result)
		if err := m.queue.MarkConfirmed(bookCtx, entry.ActionID); err != nil && !errors.Is(err, queue.ErrNotFound) {
			slog.Error("failed to confirm action", "action_id", entry.ActionID, "error", err)
		}
		slog.Info("action synced",
			"action_id", entry.ActionID,
			"outcome", result.Outcome,
			"replayed", result.Replayed,
			"attempts", entry.Attempts+1,
		)
		m.update(func(s *Status) {
			s.LastSyncTime = m.opts.Clock.Now()
			s.Error = ""
		})
		m.report(Result{Action: entry.CheckInAction, Result: result})

	case !client.IsRetryable(err):
		var terminal *client.TerminalValidationError
		reason := err.Error()
		if errors.As(err, &terminal) {
			reason = terminal.Reason
			if terminal.Result != nil {
				result = *terminal.Result
			}
		}
		if err := m.queue.MarkFailed(bookCtx, entry.ActionID, false, reason); err != nil {
			slog.Error("failed to record rejected action", "action_id", entry.ActionID, "error", err)
		}
		slog.Warn("action rejected", "action_id", entry.ActionID, "guest_ref", entry.GuestRef, "reason", reason)
		m.update(func(s *Status) {
			s.Error = fmt.Sprintf("check-in of %s rejected: %s", entry.GuestRef, reason)
		})
		m.report(Result{Action: entry.CheckInAction, Result: result, Err: err})

	default:
		if err := m.queue.MarkFailed(bookCtx, entry.ActionID, true, err.Error()); err != nil {
			slog.Error("failed to record retry", "action_id", entry.ActionID, "error", err)
		}
		attempts := entry.Attempts + 1
		delay := m.opts.Policy.Delay(attempts)
		age := m.opts.Clock.Now().Sub(entry.CreatedAt)

		if attempts >= m.opts.MaxAttempts || age > m.opts.MaxQueueAge {
			slog.Error("action still unsynced",
				"action_id", entry.ActionID,
				"attempts", attempts,
				"age", age.Round(time.Second),
				"error", err,
			)
			m.update(func(s *Status) {
				s.Error = fmt.Sprintf("sync error: %v (%d attempts)", err, attempts)
			})
		} else {
			slog.Warn("submit failed, will retry",
				"action_id", entry.ActionID,
				"attempts", attempts,
				"retry_in", delay,
				"error", err,
			)
		}
		m.refreshCount(bookCtx)
		return true, delay
	}

	m.refreshCount(bookCtx)
	return true, 0
}

// cacheResult merges an authoritative result into the guest cache. The
// live channel delivers the same transition; the cache never downgrades,
// so whichever arrives first wins.
func (m *Manager) cacheResult(ctx context.Context, result models.TransitionResult) {
	if result.GuestID == "" || result.CheckedInAt == nil {
		return
	}
	err := m.queue.CacheGuest(ctx, models.CachedGuest{
		EventRef:    result.EventRef,
		GuestID:     result.GuestID,
		GuestName:   result.GuestName,
		Status:      models.StatusCheckedIn,
		CheckedInAt: result.CheckedInAt,
		CheckedInBy: result.CheckedInBy,
	})
	if err != nil {
		slog.Warn("failed to cache result", "guest_id", result.GuestID, "error", err)
	}
}

func (m *Manager) queueError(ctx context.Context, op string, err error) (bool, time.Duration) {
	if ctx.Err() != nil {
		return false, 0
	}
	slog.Error("local queue error", "op", op, "error", err)
	m.update(func(s *Status) {
		s.IsSyncing = false
		s.Error = fmt.Sprintf("local queue error: %v", err)
	})
	return true, m.opts.Policy.Delay(1)
}

// SetOnline records connectivity. Going from offline to online retries
// immediately; repeated reports of the same state leave any pending
// backoff in place.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.status.IsOnline != online
	if changed && online {
		m.retryAt = time.Time{}
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	m.update(func(s *Status) { s.IsOnline = online })
	m.signal()
}

// Notify tells the manager the queue grew
func (m *Manager) Notify() {
	m.refreshCount(context.Background())
	m.signal()
}

// ForceSyncNow skips any pending backoff wait
func (m *Manager) ForceSyncNow() {
	m.mu.Lock()
	m.retryAt = time.Time{}
	m.mu.Unlock()
	m.signal()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Watch returns a channel that always holds the latest Status. Slow
// readers skip intermediate values.
func (m *Manager) Watch() <-chan Status {
	ch := make(chan Status, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	ch <- m.status
	m.watchers = append(m.watchers, ch)
	return ch
}

func (m *Manager) update(fn func(*Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fn(&m.status)
	st := m.status
	for _, w := range m.watchers {
		select {
		case <-w:
		default:
		}
		w <- st
	}
}

func (m *Manager) refreshCount(ctx context.Context) {
	n, err := m.queue.Pending(ctx)
	if err != nil {
		slog.Error("failed to count unsynced actions", "error", err)
		return
	}
	m.update(func(s *Status) { s.UnsyncedCount = n })
}

func (m *Manager) report(r Result) {
	if m.opts.OnResult != nil {
		m.opts.OnResult(r)
	}
}

func (m *Manager) retryWait() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retryAt.IsZero() {
		return 0
	}
	return m.retryAt.Sub(m.opts.Clock.Now())
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) sleep(ctx context.Context, timer <-chan time.Time) {
	select {
	case <-ctx.Done():
	case <-m.wake:
	case <-timer:
	}
}
