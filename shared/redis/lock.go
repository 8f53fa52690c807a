package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:identity:"

// releaseScript deletes the lock only when it is still held by the caller's token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// IdentityLocker serialises work per identity across service instances using
// SET NX PX leases.
type IdentityLocker struct {
	client goredis.Cmdable
	ttl    time.Duration
	poll   time.Duration
}

func NewIdentityLocker(client goredis.Cmdable, ttl time.Duration) *IdentityLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &IdentityLocker{client: client, ttl: ttl, poll: 50 * time.Millisecond}
}

// Lock blocks until the lease for key is acquired or ctx is done.
func (l *IdentityLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := lockKeyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("acquire identity lock: %w", err)
		}
		if ok {
			return func() { l.release(redisKey, token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *IdentityLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, goredis.Nil) {
		slog.Warn("release identity lock failed", "key", key, "error", err)
	}
}
