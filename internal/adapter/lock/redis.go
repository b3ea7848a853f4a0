// Package lock provides a Redis lease used to keep one feedback run per
// candidate across server and worker processes.
package lock

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-interviewer/internal/domain"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease never removes a newer holder's lock.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker implements domain.Locker with SET NX PX.
type RedisLocker struct {
	rdb     redis.Cmdable
	prefix  string
	release *redis.Script
}

// NewRedisLocker returns nil when rdb is nil; callers treat a nil locker as absent.
func NewRedisLocker(rdb redis.Cmdable, prefix string) *RedisLocker {
	if rdb == nil {
		return nil
	}
	if prefix == "" {
		prefix = "lock:"
	}
	return &RedisLocker{rdb: rdb, prefix: prefix, release: redis.NewScript(releaseScript)}
}

var _ domain.Locker = (*RedisLocker)(nil)

// Acquire takes the lease for ttl. ok is false when another holder owns it.
// The returned release is safe to call more than once.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if ttl <= 0 {
		return nil, false, fmt.Errorf("op=lock.Acquire: %w: ttl must be positive", domain.ErrInvalidArgument)
	}
	full := l.prefix + key
	token := ulid.MustNew(ulid.Now(), rand.Reader).String()
	ok, err := l.rdb.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("op=lock.Acquire: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var once sync.Once
	return func() { once.Do(func() { l.unlock(full, token) }) }, true, nil
}

func (l *RedisLocker) unlock(full, token string) {
	rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.release.Run(rctx, l.rdb, []string{full}, token).Err(); err != nil {
		slog.Warn("lock release failed", slog.String("key", full), slog.Any("error", err))
	}
}
