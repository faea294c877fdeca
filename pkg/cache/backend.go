package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheUnavailable is returned when a cache backend cannot be reached.
var ErrCacheUnavailable = errors.New("cache unavailable")

// Backend is a key/value store with expiry and atomic counters.
type Backend interface {
	// Get returns the value for key. A missing key is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Incr atomically increments the integer at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
