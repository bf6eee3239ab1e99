// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyDelays(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
		{500, 30 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicyWithoutGrowth(t *testing.T) {
	p := Policy{Base: 500 * time.Millisecond, Max: time.Second, Factor: 0}
	assert.Equal(t, 500*time.Millisecond, p.Delay(1))
	assert.Equal(t, 500*time.Millisecond, p.Delay(10))
}

func TestFakeClock(t *testing.T) {
	start := time.Date(2025, 6, 1, 19, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	short := c.After(time.Second)
	long := c.After(5 * time.Second)
	require.Equal(t, 2, c.Waiters())

	c.Advance(999 * time.Millisecond)
	select {
	case <-short:
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(time.Millisecond)
	select {
	case fired := <-short:
		assert.Equal(t, start.Add(time.Second), fired)
	default:
		t.Fatal("timer did not fire when due")
	}
	assert.Equal(t, 1, c.Waiters())

	c.Advance(10 * time.Second)
	<-long
	assert.Equal(t, 0, c.Waiters())
	assert.Equal(t, start.Add(11*time.Second), c.Now())

	immediate := c.After(0)
	select {
	case <-immediate:
	default:
		t.Fatal("zero duration should fire immediately")
	}
}
