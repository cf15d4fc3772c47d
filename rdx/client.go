// Package rdx holds the Redis-backed pieces of the storefront: the client,
// webhook event de-duplication and short-lived locks.
package rdx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"storefront/config"
)

// NewClient connects and pings Redis.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	conn := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return conn, nil
}
