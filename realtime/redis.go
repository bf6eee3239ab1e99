// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/danielhkuo/doorlist/models"
)

const DefaultRelayChannel = "doorlist:transitions"

// RedisRelay fans committed transitions out to every server instance
// sharing the data store. Locally committed transitions go straight to
// the local hub; the copy echoed back from Redis is ignored.
type RedisRelay struct {
	client  *redis.Client
	hub     *Hub
	channel string
	origin  string
}

type relayEnvelope struct {
	Origin     string            `json:"origin"`
	Transition models.Transition `json:"transition"`
}

// NewRedisClient parses a redis:// URL and verifies the connection
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func NewRedisRelay(client *redis.Client, hub *Hub, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		client:  client,
		hub:     hub,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

// PublishTransition delivers locally and forwards to other instances.
// A Redis failure only affects remote instances, whose stats loop still
// converges.
func (r *RedisRelay) PublishTransition(t models.Transition) {
	r.hub.PublishTransition(t)

	payload, err := json.Marshal(relayEnvelope{Origin: r.origin, Transition: t})
	if err != nil {
		slog.Error("failed to encode relay message", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		slog.Warn("failed to relay transition",
			"event_ref", t.EventRef,
			"seq", t.Seq,
			"error", err,
		)
	}
}

// Run consumes transitions published by other instances until ctx is done
func (r *RedisRelay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	slog.Info("redis relay subscribed", "channel", r.channel, "origin", r.origin)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.Warn("dropping malformed relay message", "error", err)
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			r.hub.PublishTransition(env.Transition)
		}
	}
}
