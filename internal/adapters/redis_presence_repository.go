package adapters

import (
	"context"
	"time"

	"github.com/go-redis/redis"
)

const lastSeenTTL = 30 * 24 * time.Hour

// RedisPresenceRepository keeps the last-seen timestamp per user.
// Presence is ephemeral, so entries age out on their own.
type RedisPresenceRepository struct {
	client *redis.Client
}

func NewRedisPresenceRepository(client *redis.Client) *RedisPresenceRepository {
	return &RedisPresenceRepository{client: client}
}

func (r *RedisPresenceRepository) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	return r.client.Set("lastseen:"+userID, at.UTC().Format(time.RFC3339), lastSeenTTL).Err()
}

func (r *RedisPresenceRepository) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	val, err := r.client.Get("lastseen:" + userID).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, val)
}
