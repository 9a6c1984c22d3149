package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore namespaces keys under a prefix. With a non-zero TTL every write
// refreshes the key's expiry, which suits a session-scoped secret cache.
type RedisStore struct {
	rdb   *redis.Client
	keyNS string
	ttl   time.Duration
}

func NewRedisStore(rdb *redis.Client, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "licensing:kv:"
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

func (r *RedisStore) key(k string) string { return r.keyNS + k }

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.rdb.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	return r.rdb.Set(ctx, r.key(key), value, r.ttl).Err()
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
