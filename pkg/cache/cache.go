package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Default entry lifetimes.
const (
	DefaultEmbeddingTTL = 24 * time.Hour
	DefaultQueryTTL     = time.Hour
)

// Lookup kinds reported to the observer.
const (
	KindEmbedding = "embedding"
	KindQuery     = "query"
)

// Config holds cache configuration
type Config struct {
	// URL selects the backend: "disabled" (or empty), "local", or a redis:// URL.
	URL           string
	EmbeddingTTL  time.Duration
	QueryTTL      time.Duration
	SchemaVersion int
	LocalMaxBytes int64
	Logger        zerolog.Logger
}

// LookupObserver is told about every embedding and query lookup.
type LookupObserver func(kind string, hit bool)

// Cache holds embeddings, ranked query results and per-user write clocks.
// Backend errors never reach callers: reads become misses and writes become no-ops.
type Cache struct {
	backend  Backend
	cfg      Config
	logger   zerolog.Logger
	observer LookupObserver
}

// New builds a cache from cfg. An unreachable backend is logged and the cache
// runs disabled.
func New(ctx context.Context, cfg Config) *Cache {
	switch strings.ToLower(strings.TrimSpace(cfg.URL)) {
	case "", "disabled", "none", "off":
		return NewDisabled()
	case "local", "memory":
		b, err := NewLocalBackend(cfg.LocalMaxBytes)
		if err != nil {
			cfg.Logger.Warn().Err(err).Msg("Local cache unavailable, caching disabled")
			return NewDisabled()
		}
		return NewWithBackend(b, cfg)
	}

	b, err := NewRedisBackend(ctx, cfg.URL)
	if err != nil {
		cfg.Logger.Warn().Err(err).Msg("Redis cache unavailable, caching disabled")
		return NewDisabled()
	}
	cfg.Logger.Info().Msg("Redis cache connected")
	return NewWithBackend(b, cfg)
}

// NewWithBackend wraps an existing backend.
func NewWithBackend(b Backend, cfg Config) *Cache {
	if cfg.EmbeddingTTL <= 0 {
		cfg.EmbeddingTTL = DefaultEmbeddingTTL
	}
	if cfg.QueryTTL <= 0 {
		cfg.QueryTTL = DefaultQueryTTL
	}
	if cfg.SchemaVersion <= 0 {
		cfg.SchemaVersion = 1
	}
	return &Cache{backend: b, cfg: cfg, logger: cfg.Logger}
}

// NewDisabled returns a cache that always misses.
func NewDisabled() *Cache {
	return &Cache{logger: zerolog.Nop()}
}

// SetObserver installs fn as the lookup observer.
func (c *Cache) SetObserver(fn LookupObserver) {
	c.observer = fn
}

// Enabled reports whether a backend is attached.
func (c *Cache) Enabled() bool {
	return c != nil && c.backend != nil
}

func (c *Cache) observe(kind string, hit bool) {
	if c.observer != nil {
		c.observer(kind, hit)
	}
}

func hashKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// EmbeddingKey returns the key of an embedding for already normalized text.
func EmbeddingKey(model, text string) string {
	return "embed:" + hashKey(model+":"+text)
}

// ClockKey returns the write-clock key of user.
func ClockKey(user string) string {
	return fmt.Sprintf("u:%s:lw", user)
}

// QueryKey returns the key of a ranked result list at a given write clock.
func (c *Cache) QueryKey(user, mode, query string, clock int64) string {
	return fmt.Sprintf("u:%s:q:v%d:%s:%s:%d", user, c.cfg.SchemaVersion, hashKey(query), mode, clock)
}

// GetEmbedding returns a cached vector for the normalized text.
func (c *Cache) GetEmbedding(ctx context.Context, model, text string) ([]float32, bool) {
	if !c.Enabled() {
		return nil, false
	}
	var vec []float32
	ok := c.getJSON(ctx, EmbeddingKey(model, text), &vec)
	c.observe(KindEmbedding, ok)
	return vec, ok
}

// SetEmbedding caches vec for the normalized text.
func (c *Cache) SetEmbedding(ctx context.Context, model, text string, vec []float32) {
	if !c.Enabled() {
		return
	}
	c.setJSON(ctx, EmbeddingKey(model, text), vec, c.cfg.EmbeddingTTL)
}

// GetQueryIDs returns the ranked ids cached for query at the user's current
// write clock, along with the clock it looked under. Pass that clock to
// SetQueryIDs when publishing a freshly computed ranking.
func (c *Cache) GetQueryIDs(ctx context.Context, user, mode, query string) ([]string, int64, bool) {
	if !c.Enabled() {
		return nil, 0, false
	}
	clock := c.LastWrite(ctx, user)
	var ids []string
	ok := c.getJSON(ctx, c.QueryKey(user, mode, query, clock), &ids)
	c.observe(KindQuery, ok)
	if ids == nil {
		ids = []string{}
	}
	return ids, clock, ok
}

// SetQueryIDs caches ranked ids for query under the clock read at lookup time.
// A write that lands between lookup and publish advances the clock, so the
// entry is never visible to readers that start after that write.
func (c *Cache) SetQueryIDs(ctx context.Context, user, mode, query string, clock int64, ids []string) {
	if !c.Enabled() {
		return
	}
	c.setJSON(ctx, c.QueryKey(user, mode, query, clock), ids, c.cfg.QueryTTL)
}

// TouchLastWrite advances the user's write clock, invalidating every cached query
// of that user.
func (c *Cache) TouchLastWrite(ctx context.Context, user string) {
	if !c.Enabled() {
		return
	}
	if _, err := c.backend.Incr(ctx, ClockKey(user)); err != nil {
		c.logger.Debug().Err(err).Str("user_id", user).Msg("Failed to advance write clock")
	}
}

// LastWrite returns the user's write clock, 0 if unset or unavailable.
func (c *Cache) LastWrite(ctx context.Context, user string) int64 {
	if !c.Enabled() {
		return 0
	}
	raw, ok, err := c.backend.Get(ctx, ClockKey(user))
	if err != nil {
		c.logger.Debug().Err(err).Str("user_id", user).Msg("Failed to read write clock")
		return 0
	}
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Ping checks the backend.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return ErrCacheUnavailable
	}
	return c.backend.Ping(ctx)
}

// Close releases the backend.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.backend.Close()
}

func (c *Cache) getJSON(ctx context.Context, key string, v any) bool {
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("Cache get failed")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("Cache entry is corrupt")
		return false
	}
	return true
}

func (c *Cache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.backend.Set(ctx, key, raw, ttl); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("Cache set failed")
	}
}
