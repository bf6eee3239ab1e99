// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/danielhkuo/doorlist/checkin"
	"github.com/danielhkuo/doorlist/cliparse"
	"github.com/danielhkuo/doorlist/db"
	"github.com/danielhkuo/doorlist/metrics"
	"github.com/danielhkuo/doorlist/middleware"
	"github.com/danielhkuo/doorlist/realtime"
	"github.com/danielhkuo/doorlist/router"
	"github.com/danielhkuo/doorlist/store"
)

const pruneInterval = 10 * time.Minute

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	dbConn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "error", err, "type", cfg.DatabaseType)
		os.Exit(1)
	}
	defer dbConn.Close()

	// Create schema (tables)
	if err := db.CreateSchema(dbConn); err != nil {
		slog.Error("schema creation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database schema ready", "type", cfg.DatabaseType)

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.New(dbConn, cfg.DatabaseType)
	hub := realtime.NewHub(st, realtime.Options{StatsInterval: cfg.StatsInterval})
	go hub.Run(ctx)

	// Commits reach other instances through Redis when configured
	var publisher checkin.Publisher = hub
	if cfg.RedisURL != "" {
		redisClient, err := realtime.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("redis connection failed", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()

		relay := realtime.NewRedisRelay(redisClient, hub, "")
		go func() {
			if err := relay.Run(ctx); err != nil {
				slog.Error("redis relay stopped", "error", err)
			}
		}()
		publisher = relay
	}

	processor := checkin.NewProcessor(st, publisher, cfg.IdempotencyRetention)
	go checkin.NewJanitor(st, pruneInterval).Run(ctx)

	mux := router.NewRouter(cfg, st, processor, hub)

	server := &http.Server{
		Handler:           middleware.CORS(mux),
		Addr:              ":" + strconv.Itoa(cfg.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Hijacked WebSocket connections are closed by the hub, not Shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
			server.Close()
		}
	}()

	slog.Info("Listening",
		"port", cfg.Port,
		"retention", cfg.IdempotencyRetention,
		"stats_interval", cfg.StatsInterval,
		"redis", cfg.RedisURL != "",
	)
	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		slog.Error("Server closed", "error", err)
	} else {
		slog.Info("Server closed")
	}
}
