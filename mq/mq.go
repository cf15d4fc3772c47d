// Package mq publishes storefront events over Redis pub/sub and runs the
// workers that consume them.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	PaymentEventsChannel = "payment-events"
	NotificationsChannel = "notifications"
)

// Publisher sends JSON-encoded messages to a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, v any) error
}

// RedisPublisher publishes through a go-redis client.
type RedisPublisher struct {
	conn *redis.Client
}

func NewRedisPublisher(conn *redis.Client) *RedisPublisher {
	return &RedisPublisher{conn: conn}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mq: marshal %s event: %w", channel, err)
	}
	if err := p.conn.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("mq: publish %s: %w", channel, err)
	}
	return nil
}

// LogPublisher writes events to the log. Used when Redis is not configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, channel string, v any) error {
	p.Logger.InfoContext(ctx, "event", "channel", channel, "payload", v)
	return nil
}

// Handler processes one raw message payload.
type Handler func(ctx context.Context, payload []byte) error

// Subscribe runs handle for every message on channel until ctx is done.
// Handler errors are logged and the loop continues.
func Subscribe(ctx context.Context, conn *redis.Client, channel string, logger *slog.Logger, handle Handler) {
	sub := conn.Subscribe(ctx, channel)
	defer sub.Close()
	ch := sub.Channel()

	logger.Info("worker listening", "channel", channel)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := handle(ctx, []byte(msg.Payload)); err != nil {
				logger.ErrorContext(ctx, "worker failed", "channel", channel, "err", err)
			}
		}
	}
}
