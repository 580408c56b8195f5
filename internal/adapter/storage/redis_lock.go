package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/citydeal/seckill/internal/port"
)

const lockKeyPrefix = "lock:"

// tokenPrefix distinguishes this process instance; the per-acquisition
// suffix distinguishes callers within it.
var tokenPrefix = uuid.NewString() + "-"

var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLock implements port.Locker with set-if-absent acquisition and a
// compare-then-delete release so only the holder can clear the lock.
type RedisLock struct {
	client *redis.Client
}

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

func (l *RedisLock) Acquire(ctx context.Context, resource string, ttl time.Duration) (string, error) {
	token := tokenPrefix + uuid.NewString()

	ok, err := l.client.SetNX(ctx, lockKeyPrefix+resource, token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock %s: %w", resource, err)
	}
	if !ok {
		return "", port.ErrLockHeld
	}
	return token, nil
}

// Release deletes the lock only when the stored token still matches. The
// check and the delete run in one script evaluation; without that, a
// holder whose TTL expired could delete a lock re-acquired by another
// caller between its GET and DEL.
func (l *RedisLock) Release(ctx context.Context, resource, token string) error {
	if err := unlockScript.Run(ctx, l.client, []string{lockKeyPrefix + resource}, token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", resource, err)
	}
	return nil
}
