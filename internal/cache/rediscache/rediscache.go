// Package rediscache keeps cached collector profiles, live positions and the
// tracking rate-limit counters in Redis.
package rediscache

import (
	"context"
	"time"

	"github.com/BearBump/PickupBox/internal/cache"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key so one Redis can serve several deployments.
const DefaultPrefix = "pickupbox:"

type RedisCache struct {
	c      *redis.Client
	prefix string
}

var _ cache.BytesCache = (*RedisCache)(nil)

func New(addr string) *RedisCache {
	return &RedisCache{
		c: redis.NewClient(&redis.Options{
			Addr:         addr,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		}),
		prefix: DefaultPrefix,
	}
}

// WithPrefix replaces the key namespace. An empty prefix stores raw keys.
func (r *RedisCache) WithPrefix(prefix string) *RedisCache {
	r.prefix = prefix
	return r
}

// RateLimiter returns a limiter sharing this client and namespace.
// Closing it leaves the cache open.
func (r *RedisCache) RateLimiter() *RateLimiter {
	return &RateLimiter{c: r.c, prefix: r.prefix}
}

// Ping is the readiness probe of the API process.
func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.c.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis ping")
	}
	return nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "redis get %s", key)
	}
	return val, true, nil
}

// Set stores value; ttl <= 0 keeps the entry until it is deleted.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.c.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.c.Del(ctx, r.prefix+key).Err(); err != nil {
		return errors.Wrapf(err, "redis del %s", key)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.c.Close()
}
