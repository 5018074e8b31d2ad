package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLock is a best-effort leader lock for the cleanup sweep. A nil
// receiver grants every TryLock so single-replica deployments can skip
// Redis entirely.
type RedisLock struct {
	client redis.UniversalClient
	key    string
	token  string
}

// NewRedisLock constructs a lock on the given key. token should be unique
// per process so one replica cannot release another's lock.
func NewRedisLock(client redis.UniversalClient, key, token string) *RedisLock {
	return &RedisLock{client: client, key: key, token: token}
}

// TryLock attempts to become leader for ttl. It never blocks.
func (l *RedisLock) TryLock(ctx context.Context, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return true, nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	ok, err := l.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return ok, nil
}

// unlockScript releases the key only when this process still owns it.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Unlock releases the lock if still held by this process.
func (l *RedisLock) Unlock(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	if err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
