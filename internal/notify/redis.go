package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RoomChannel is the Pub/Sub channel carrying events of one room.
func RoomChannel(roomID int64) string {
	if roomID <= 0 {
		return "rooms:events"
	}
	return fmt.Sprintf("room:%d:events", roomID)
}

// RedisPublisher publishes events as JSON on per-room channels.
type RedisPublisher struct {
	client redis.UniversalClient
}

func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, RoomChannel(ev.RoomID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
