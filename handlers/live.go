// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/danielhkuo/doorlist/cliparse"
	"github.com/danielhkuo/doorlist/middleware"
	"github.com/danielhkuo/doorlist/realtime"
)

type LiveHandler struct {
	hub      *realtime.Hub
	cfg      cliparse.Config
	upgrader websocket.Upgrader
}

func NewLiveHandler(hub *realtime.Hub, cfg cliparse.Config) *LiveHandler {
	return &LiveHandler{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Staff credentials are checked before the upgrade
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve handles GET /live
func (h *LiveHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		slog.Warn("websocket upgrade failed", "error", err, "remote", middleware.GetClientIP(r))
		return
	}

	sessionID := uuid.NewString()
	staffID := middleware.StaffID(r.Context())

	err = h.hub.ServeConn(r.Context(), conn, realtime.ConnOptions{
		SessionID:     sessionID,
		StaffID:       staffID,
		BackfillLimit: h.cfg.BackfillLimit,
		MaxBackfill:   MaxBackfillLimit,
	})
	if err != nil && !errors.Is(err, realtime.ErrBadSubscribe) {
		slog.Info("live session ended", "session_id", sessionID, "staff_id", staffID, "error", err)
		return
	}
	slog.Info("live session ended", "session_id", sessionID, "staff_id", staffID)
}
