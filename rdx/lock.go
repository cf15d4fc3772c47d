package rdx

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// release deletes the lock only if it still holds our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out per-key mutual exclusion across instances.
type Locker struct {
	conn   *redis.Client
	prefix string
	logger *slog.Logger
}

func NewLocker(conn *redis.Client, prefix string, logger *slog.Logger) *Locker {
	return &Locker{conn: conn, prefix: prefix, logger: logger}
}

// Acquire takes the lock for ttl. ok is false when another holder has it.
// The returned func releases the lock.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	full := l.prefix + key
	ok, err := l.conn.SetNX(ctx, full, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		// Release even if the caller's context is already done.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := release.Run(rctx, l.conn, []string{full}, token).Err(); err != nil {
			l.logger.Warn("lock release failed", "key", full, "err", err)
		}
	}, true, nil
}
