// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danielhkuo/doorlist/backoff"
	"github.com/danielhkuo/doorlist/models"
)

const (
	liveWriteWait = 10 * time.Second
	// Longer than the server's ping period
	liveReadWait = 90 * time.Second
)

// LiveCache receives the authoritative state pushed by the server
type LiveCache interface {
	ApplySnapshot(ctx context.Context, s models.Snapshot) error
	ApplyTransition(ctx context.Context, t models.Transition) error
}

type LiveOptions struct {
	BackfillLimit int
	Policy        backoff.Policy
	Clock         backoff.Clock
	// OnMessage sees every frame after the cache has been updated
	OnMessage func(models.LiveMessage)
}

// LiveClient keeps a subscription to one event's live channel open,
// reconnecting with backoff. Every (re)connect starts with a snapshot,
// so updates missed while disconnected are recovered.
type LiveClient struct {
	url       string
	header    http.Header
	eventRef  string
	cache     LiveCache
	opts      LiveOptions
	dialer    *websocket.Dialer
	connected atomic.Bool
}

func NewLiveClient(baseURL, staffID, staffKey, eventRef string, cache LiveCache, opts LiveOptions) (*LiveClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path += "/live"

	if opts.Policy.Base <= 0 {
		opts.Policy = backoff.DefaultPolicy()
	}
	if opts.Clock == nil {
		opts.Clock = backoff.RealClock()
	}

	header := http.Header{}
	header.Set("X-Staff-ID", staffID)
	header.Set("X-Staff-Key", staffKey)

	return &LiveClient{
		url:      u.String(),
		header:   header,
		eventRef: eventRef,
		cache:    cache,
		opts:     opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

// Connected reports whether a subscription is currently live
func (c *LiveClient) Connected() bool {
	return c.connected.Load()
}

// Run blocks until ctx is done
func (c *LiveClient) Run(ctx context.Context) error {
	attempt := 0
	for {
		err := c.session(ctx, func() { attempt = 0 })
		c.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}

		attempt++
		delay := c.opts.Policy.Delay(attempt)
		slog.Warn("live channel disconnected", "event_ref", c.eventRef, "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-c.opts.Clock.After(delay):
		}
	}
}

func (c *LiveClient) session(ctx context.Context, subscribed func()) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
	if err := conn.WriteJSON(models.SubscribeRequest{
		Type:          models.MessageSubscribe,
		EventRef:      c.eventRef,
		BackfillLimit: c.opts.BackfillLimit,
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(liveReadWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(liveReadWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(liveWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		var msg models.LiveMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(liveReadWait))

		if msg.Type == models.MessageError {
			return fmt.Errorf("server: %s", msg.Error)
		}
		if msg.Type == models.MessageSnapshot {
			c.connected.Store(true)
			subscribed()
		}
		c.handle(ctx, msg)
	}
}

func (c *LiveClient) handle(ctx context.Context, msg models.LiveMessage) {
	var err error
	switch msg.Type {
	case models.MessageSnapshot:
		if msg.Snapshot != nil {
			err = c.cache.ApplySnapshot(ctx, *msg.Snapshot)
		}
	case models.MessageCheckinUpdate:
		if msg.Transition != nil {
			err = c.cache.ApplyTransition(ctx, *msg.Transition)
		}
	}
	if err != nil {
		slog.Warn("failed to update guest cache", "type", msg.Type, "seq", msg.Seq, "error", err)
	}

	if c.opts.OnMessage != nil {
		c.opts.OnMessage(msg)
	}
}
