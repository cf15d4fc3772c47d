package rdx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper records keys with SETNX so only the first delivery of an event
// is processed.
type Deduper struct {
	conn   *redis.Client
	prefix string
}

func NewDeduper(conn *redis.Client, prefix string) *Deduper {
	return &Deduper{conn: conn, prefix: prefix}
}

// FirstSeen reports true the first time key is seen within ttl.
func (d *Deduper) FirstSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return d.conn.SetNX(ctx, d.prefix+key, time.Now().Unix(), ttl).Result()
}

// Forget drops key so a redelivery is processed again.
func (d *Deduper) Forget(ctx context.Context, key string) error {
	return d.conn.Del(ctx, d.prefix+key).Err()
}
