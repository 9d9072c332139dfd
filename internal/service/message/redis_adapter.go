package message

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter adapts a Redis client to the Publisher interface
type RedisAdapter struct {
	Client *redis.Client
}

// Publish sends a payload to the given channel
func (a *RedisAdapter) Publish(ctx context.Context, channel string, payload []byte) error {
	return a.Client.Publish(ctx, channel, payload).Err()
}
