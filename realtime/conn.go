// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danielhkuo/doorlist/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	subscribeWait  = 10 * time.Second
	maxMessageSize = 4096
)

var ErrBadSubscribe = errors.New("first message must be a subscribe with an event_ref")

// ConnOptions bounds the backfill a client may ask for
type ConnOptions struct {
	SessionID     string
	StaffID       string
	BackfillLimit int
	MaxBackfill   int
}

// ServeConn runs the live protocol on an upgraded connection: wait for
// subscribe, send the snapshot, then stream room messages until the
// client leaves or the session is dropped.
func (h *Hub) ServeConn(ctx context.Context, conn *websocket.Conn, opts ConnOptions) error {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(subscribeWait))

	var req models.SubscribeRequest
	if err := conn.ReadJSON(&req); err != nil {
		return fmt.Errorf("failed to read subscribe: %w", err)
	}
	if req.Type != models.MessageSubscribe || req.EventRef == "" {
		writeError(conn, "", ErrBadSubscribe.Error())
		return ErrBadSubscribe
	}

	limit := req.BackfillLimit
	if limit <= 0 {
		limit = opts.BackfillLimit
	}
	if opts.MaxBackfill > 0 && limit > opts.MaxBackfill {
		limit = opts.MaxBackfill
	}

	sess := h.NewSession(opts.SessionID, req.EventRef, opts.StaffID)
	snap, err := h.Attach(ctx, sess, limit)
	if err != nil {
		writeError(conn, req.EventRef, "failed to load event state")
		return err
	}
	defer h.Unsubscribe(sess)

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(models.LiveMessage{
		Type:     models.MessageSnapshot,
		EventRef: snap.EventRef,
		Seq:      snap.Seq,
		Snapshot: &snap,
	}); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go h.readPump(conn, sess)
	go h.pingLoop(ctx, conn, sess)

	return h.writePump(ctx, conn, sess)
}

// readPump only services control frames; clients send nothing after
// subscribe. Any read error ends the session.
func (h *Hub) readPump(conn *websocket.Conn, sess *Session) {
	defer h.Unsubscribe(sess)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("live session read error", "session_id", sess.ID, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(ctx context.Context, conn *websocket.Conn, sess *Session) error {
	for {
		msg, ok := sess.Next(ctx)
		if !ok {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return nil
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			h.Drop(sess, "write_error")
			return fmt.Errorf("failed to write live message: %w", err)
		}
	}
}

func (h *Hub) pingLoop(ctx context.Context, conn *websocket.Conn, sess *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.Drop(sess, "ping_failed")
				return
			}
		}
	}
}

func writeError(conn *websocket.Conn, eventRef, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteJSON(models.LiveMessage{
		Type:     models.MessageError,
		EventRef: eventRef,
		Error:    message,
	})
}
