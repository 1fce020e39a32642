package draft

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores drafts in Redis. Entries also get a TTL so Redis drops
// drafts nobody comes back to.
type RedisBackend struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisBackend creates a Redis-backed draft backend. A ttl of zero stores
// entries without expiry.
func NewRedisBackend(client redis.Cmdable, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl}
}

// Get returns the value stored under key.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return raw, true, nil
}

// Put stores value under key. Redis OOM replies map to ErrStorageFull.
func (b *RedisBackend) Put(ctx context.Context, key string, value []byte) error {
	if err := b.client.Set(ctx, key, value, b.ttl).Err(); err != nil {
		if isRedisOOM(err) {
			return fmt.Errorf("redis set %q: %v: %w", key, err, ErrStorageFull)
		}
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Keys scans for keys starting with prefix.
func (b *RedisBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := b.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %q: %w", prefix, err)
	}
	slices.Sort(keys)
	return keys, nil
}

// HealthCheck pings Redis.
func (b *RedisBackend) HealthCheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the client when it owns a connection pool.
func (b *RedisBackend) Close() error {
	if c, ok := b.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func isRedisOOM(err error) bool {
	return strings.HasPrefix(err.Error(), "OOM ")
}
