package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores session blobs in Redis.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisBackend initializes a Redis-backed Backend. A zero ttl keeps keys forever.
func NewRedisBackend(addr, prefix string, ttl time.Duration) *RedisBackend {
	return &RedisBackend{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		ttl:    ttl,
	}
}

// Close closes the Redis client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// Ping checks connectivity.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Save writes the blob to Redis.
func (b *RedisBackend) Save(ctx context.Context, key string, payload []byte) error {
	return b.client.Set(ctx, b.prefix+key, payload, b.ttl).Err()
}

// Load reads the blob from Redis.
func (b *RedisBackend) Load(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return val, true, nil
}

// Delete removes the key.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.prefix+key).Err()
}
