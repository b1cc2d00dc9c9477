package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes score-and-merge for one hint cluster. Resolution is the
// only operation in the engine requiring mutual exclusion; everything else is
// append-only or read-mostly.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LockKey derives a stable lock key from the non-empty hint values of an
// event, hashed so raw identifiers never appear in lock names.
func LockKey(tenantID string, hints []string) string {
	values := make([]string, 0, len(hints))
	for _, h := range hints {
		if h != "" {
			values = append(values, h)
		}
	}
	sort.Strings(values)

	hash := sha256.New()
	for _, v := range values {
		hash.Write([]byte(v))
		hash.Write([]byte{0})
	}
	return fmt.Sprintf("idlock:%s:%s", tenantID, hex.EncodeToString(hash.Sum(nil))[:32])
}

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX + token-checked release.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a locker. The TTL bounds how long a crashed holder
// can stall a hint cluster.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, retry: 25 * time.Millisecond}
}

// Acquire blocks until the lock is held or the context is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}
