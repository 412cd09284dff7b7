package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter counts hits per key inside a window. Callers put the window
// bucket into the key, so every replica of the API shares one counter.
type RateLimiter struct {
	c      *redis.Client
	prefix string
	owned  bool
}

// NewRateLimiter opens a dedicated client. Prefer RedisCache.RateLimiter
// when a cache is already connected.
func NewRateLimiter(addr string) *RateLimiter {
	return &RateLimiter{
		c:      redis.NewClient(&redis.Options{Addr: addr}),
		prefix: DefaultPrefix,
		owned:  true,
	}
}

// Allow counts one hit and reports whether it is within limit, together with
// the hits seen so far. The counter expires one window after its first hit.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	if window <= 0 {
		return false, 0, errors.Errorf("rate limit window must be positive, got %s", window)
	}
	k := rl.prefix + key

	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.TTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrapf(err, "redis ratelimit %s", key)
	}
	n := incr.Val()
	// first hit, or a counter left without expiry by an earlier failure
	if n == 1 || ttl.Val() < 0 {
		if err := rl.c.Expire(ctx, k, window).Err(); err != nil {
			return false, n, errors.Wrapf(err, "redis ratelimit expire %s", key)
		}
	}
	return n <= limit, n, nil
}

func (rl *RateLimiter) Close() error {
	if !rl.owned {
		return nil
	}
	return rl.c.Close()
}
