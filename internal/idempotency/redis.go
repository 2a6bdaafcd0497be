package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "notify:idem:"

// RedisStore keeps idempotency records in Redis with a per-key TTL, so the
// dedup window survives process restarts and is shared across instances.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Check(ctx context.Context, key string) (Record, bool, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("idempotency check: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, false, fmt.Errorf("idempotency check: decode record: %w", err)
	}
	return rec, true, nil
}

func (s *RedisStore) MarkProcessed(ctx context.Context, key string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("idempotency mark: encode record: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency mark: %w", err)
	}
	return nil
}

// PurgeExpired is a no-op: Redis evicts expired keys itself.
func (s *RedisStore) PurgeExpired(context.Context) (int, error) {
	return 0, nil
}
