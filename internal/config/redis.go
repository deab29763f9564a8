package config

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedis connects the state-checkpoint client. Returns nil when no
// REDIS_ADDR is configured; checkpointing is then disabled.
func NewRedis(ctx context.Context, s *Settings) (*redis.Client, error) {
	if s.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     s.RedisAddr,
		Password: s.RedisPassword,
		DB:       s.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect: %w", err)
	}
	return client, nil
}
