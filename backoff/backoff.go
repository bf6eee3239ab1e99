// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package backoff

import (
	"math"
	"sync"
	"time"
)

// Policy maps a failed attempt count to the wait before the next attempt
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

// DefaultPolicy waits 1s, 2s, 4s ... capped at 30s
func DefaultPolicy() Policy {
	return Policy{Base: time.Second, Max: 30 * time.Second, Factor: 2}
}

// Delay returns the wait after the given number of failed attempts.
// Attempt 1 waits Base. Zero or negative attempts wait nothing.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}

	d := float64(p.Base) * math.Pow(factor, float64(attempt-1))
	if p.Max > 0 && (d > float64(p.Max) || math.IsInf(d, 1)) {
		return p.Max
	}
	return time.Duration(d)
}

// Clock is the time source for retry loops
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// RealClock returns a Clock backed by package time
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// FakeClock only moves when Advance is called
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	until time.Time
	ch    chan time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{until: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward and fires every timer that came due
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.until.After(c.now) {
			w.ch <- c.now
			continue
		}
		remaining = append(remaining, w)
	}
	c.waiters = remaining
}

// Waiters reports how many timers are pending
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
