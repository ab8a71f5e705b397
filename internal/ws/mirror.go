package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"collabcode/internal/app"
	"collabcode/internal/room"
)

// FeedMessage is the shape published on the external event feed.
type FeedMessage struct {
	RoomID string     `json:"roomId"`
	Event  room.Event `json:"payload"`
}

// RedisMirror publishes every fanned-out room event to a per-room redis
// channel for external consumers (dashboards). Publish-only: the
// coordinator never subscribes, room authority stays in this process.
type RedisMirror struct {
	rdb *redis.Client
	log *slog.Logger
}

// NewRedisMirror connects to redis and verifies connectivity
func NewRedisMirror(ctx context.Context, cfg app.Config, log *slog.Logger) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisMirror{rdb: rdb, log: log}, nil
}

// Publish sends one event to the room's channel. Implements room.Mirror.
func (m *RedisMirror) Publish(ctx context.Context, roomID string, ev room.Event) error {
	raw, err := json.Marshal(FeedMessage{RoomID: roomID, Event: ev})
	if err != nil {
		return err
	}
	return m.rdb.Publish(ctx, channel(roomID), raw).Err()
}

// Close shuts down the redis connection
func (m *RedisMirror) Close() { _ = m.rdb.Close() }

// channel namespacing for room pub/sub
func channel(roomID string) string { return "room:" + roomID }
