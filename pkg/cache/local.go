package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// LocalBackend keeps entries in an in-process ristretto cache. Counters live in
// a plain map because ristretto may evict them.
type LocalBackend struct {
	cache *ristretto.Cache

	mu       sync.Mutex
	counters map[string]int64
}

// NewLocalBackend creates an in-process cache bounded to maxBytes.
func NewLocalBackend(maxBytes int64) (*LocalBackend, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create local cache: %w", err)
	}
	return &LocalBackend{cache: c, counters: make(map[string]int64)}, nil
}

func (b *LocalBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	n, ok := b.counters[key]
	b.mu.Unlock()
	if ok {
		return []byte(strconv.FormatInt(n, 10)), true, nil
	}

	v, ok := b.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	val, ok := v.([]byte)
	return val, ok, nil
}

func (b *LocalBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if !b.cache.SetWithTTL(key, value, int64(len(value)), ttl) {
		return nil
	}
	// Sets are buffered; wait so the value is visible to the next Get.
	b.cache.Wait()
	return nil
}

func (b *LocalBackend) Incr(ctx context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters[key]++
	return b.counters[key], nil
}

func (b *LocalBackend) Ping(ctx context.Context) error {
	return nil
}

func (b *LocalBackend) Close() error {
	b.cache.Close()
	return nil
}
