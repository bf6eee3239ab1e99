// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/danielhkuo/doorlist/cliparse"
	"github.com/danielhkuo/doorlist/middleware"
	"github.com/danielhkuo/doorlist/models"
)

// MaxBackfillLimit caps how many transitions one backfill may return
const MaxBackfillLimit = 500

type EventReader interface {
	EventExists(ctx context.Context, eventRef string) (bool, error)
	Stats(ctx context.Context, eventRef string) (models.AggregateStats, error)
	Snapshot(ctx context.Context, eventRef string, limit int) (models.Snapshot, error)
}

type EventHandler struct {
	events EventReader
	cfg    cliparse.Config
}

func NewEventHandler(events EventReader, cfg cliparse.Config) *EventHandler {
	return &EventHandler{events: events, cfg: cfg}
}

// GetStats handles GET /events/{event}/stats
func (h *EventHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	eventRef, ok := h.requireEvent(w, r)
	if !ok {
		return
	}

	st, err := h.events.Stats(r.Context(), eventRef)
	if err != nil {
		slog.Error("failed to compute stats", "error", err, "event_ref", eventRef)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, st)
}

// GetBackfill handles GET /events/{event}/backfill?limit=K
// Returns fresh stats, the last K transitions and the seq they cover
func (h *EventHandler) GetBackfill(w http.ResponseWriter, r *http.Request) {
	eventRef, ok := h.requireEvent(w, r)
	if !ok {
		return
	}

	limit := h.cfg.BackfillLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			middleware.ErrorResponse(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	if limit > MaxBackfillLimit {
		limit = MaxBackfillLimit
	}

	snap, err := h.events.Snapshot(r.Context(), eventRef, limit)
	if err != nil {
		slog.Error("failed to load snapshot", "error", err, "event_ref", eventRef)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "internal error")
		return
	}

	middleware.JSONResponse(w, http.StatusOK, snap)
}

func (h *EventHandler) requireEvent(w http.ResponseWriter, r *http.Request) (string, bool) {
	eventRef := r.PathValue("event")
	if eventRef == "" {
		middleware.ErrorResponse(w, http.StatusBadRequest, "event is required")
		return "", false
	}

	exists, err := h.events.EventExists(r.Context(), eventRef)
	if err != nil {
		slog.Error("failed to look up event", "error", err, "event_ref", eventRef)
		middleware.ErrorResponse(w, http.StatusInternalServerError, "internal error")
		return "", false
	}
	if !exists {
		middleware.ErrorResponse(w, http.StatusNotFound, "event not found")
		return "", false
	}
	return eventRef, true
}
