// Package cache holds the byte-level cache contract shared by services.
package cache

import (
	"context"
	"time"
)

//go:generate mockery --name BytesCache --output ./mocks --outpkg mocks --structname MockBytesCache

// BytesCache is a best-effort key/value cache. A miss is (nil, false, nil).
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
