// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package router

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielhkuo/doorlist/cliparse"
	"github.com/danielhkuo/doorlist/handlers"
	"github.com/danielhkuo/doorlist/middleware"
	"github.com/danielhkuo/doorlist/realtime"
	"github.com/danielhkuo/doorlist/store"
)

func NewRouter(cfg cliparse.Config, st *store.Store, processor handlers.CheckInProcessor, hub *realtime.Hub) *http.ServeMux {
	mux := http.NewServeMux()

	// Initialize handlers
	checkInHandler := handlers.NewCheckInHandler(processor)
	eventHandler := handlers.NewEventHandler(st, cfg)
	liveHandler := handlers.NewLiveHandler(hub, cfg)
	healthHandler := handlers.NewHealthHandler(st)

	staff := func(name string, h http.HandlerFunc) http.HandlerFunc {
		return middleware.Instrument(name, middleware.WithLogging(middleware.WithStaff(cfg.StaffKeySalt, h)))
	}

	// Health check and metrics
	mux.HandleFunc("GET /health", middleware.Instrument("health", healthHandler.Health))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Check-in submission (staff devices)
	mux.HandleFunc("POST /checkins", staff("checkins", checkInHandler.Submit))

	// Event state
	mux.HandleFunc("GET /events/{event}/stats", staff("event_stats", eventHandler.GetStats))
	mux.HandleFunc("GET /events/{event}/backfill", staff("event_backfill", eventHandler.GetBackfill))

	// Live updates (WebSocket)
	mux.HandleFunc("GET /live", staff("live", liveHandler.Serve))

	// Root endpoint
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("doorlist API v1"))
	})

	return mux
}
