package normalizer

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shardie-github/castor-sub009/internal/domain"
)

// RedisDeduper reserves (source, external_dedup_key) pairs with SET NX. The
// reservation TTL only bounds Redis memory; the event log's replacing merge
// on event_id is the durable backstop for late duplicates.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper on an existing Redis client.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

// Reserve claims the key, returning false if it was already taken.
func (d *RedisDeduper) Reserve(ctx context.Context, tenantID string, source domain.EventSource, key string) (bool, error) {
	redisKey := dedupKey(tenantID, source, key)
	ok, err := d.client.SetNX(ctx, redisKey, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup reserve %s: %w", redisKey, err)
	}
	return ok, nil
}

// Release frees a reservation whose event never reached the log, so the
// queue redelivery is not misread as a duplicate.
func (d *RedisDeduper) Release(ctx context.Context, tenantID string, source domain.EventSource, key string) error {
	redisKey := dedupKey(tenantID, source, key)
	if err := d.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("dedup release %s: %w", redisKey, err)
	}
	return nil
}

func dedupKey(tenantID string, source domain.EventSource, key string) string {
	return fmt.Sprintf("dedup:%s:%s:%s", tenantID, source, key)
}
