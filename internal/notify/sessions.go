package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// SessionCleaner removes per-room ephemeral state kept by the in-room session service.
type SessionCleaner struct {
	client redis.UniversalClient
}

func NewSessionCleaner(client redis.UniversalClient) *SessionCleaner {
	return &SessionCleaner{client: client}
}

// SessionKeys lists the ephemeral keys of a room.
func SessionKeys(roomID int64) []string {
	return []string{
		fmt.Sprintf("room:%d:queue", roomID),
		fmt.Sprintf("room:%d:now_playing", roomID),
	}
}

// CleanupRoom deletes the room's session keys. Missing keys are not an error.
func (c *SessionCleaner) CleanupRoom(ctx context.Context, roomID int64) error {
	if err := c.client.Del(ctx, SessionKeys(roomID)...).Err(); err != nil {
		return fmt.Errorf("cleanup room %d session: %w", roomID, err)
	}
	return nil
}
