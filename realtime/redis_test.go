// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielhkuo/doorlist/models"
)

func TestRedisRelayAcrossInstances(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientA, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer clientA.Close()
	clientB, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer clientB.Close()

	src := &fakeSource{}
	channel := "doorlist:test:" + time.Now().Format("150405.000000")
	hubA := NewHub(src, Options{})
	hubB := NewHub(src, Options{})
	relayA := NewRedisRelay(clientA, hubA, channel)
	relayB := NewRedisRelay(clientB, hubB, channel)
	go relayA.Run(ctx)
	go relayB.Run(ctx)
	time.Sleep(100 * time.Millisecond)

	sa := hubA.NewSession("a", "evt-1", "staff")
	sb := hubB.NewSession("b", "evt-1", "staff")
	require.NoError(t, hubA.Subscribe(ctx, sa))
	require.NoError(t, hubB.Subscribe(ctx, sb))

	relayA.PublishTransition(src.commit("evt-1"))

	for _, s := range []*Session{sa, sb} {
		msg := recv(t, s)
		assert.Equal(t, models.MessageCheckinUpdate, msg.Type, "session %s", s.ID)
		assert.Equal(t, int64(1), msg.Seq, "session %s", s.ID)
	}
	// Instance A must not receive its own commit twice
	expectNothing(t, sa)
}
