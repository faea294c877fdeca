package memory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/harun/mnemo/pkg/cache"
)

const testDim = 16

// testClock is a settable clock shared by the store and the engine.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store, err := OpenStore(StoreConfig{
		DBPath:    filepath.Join(t.TempDir(), "memory.db"),
		Dimension: testDim,
		Logger:    zerolog.Nop(),
		Now:       clock.Now,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, clock
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	backend, err := cache.NewLocalBackend(1 << 20)
	require.NoError(t, err)
	c := cache.NewWithBackend(backend, cache.Config{Logger: zerolog.Nop()})
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestService(t *testing.T) (*Service, *Store, *testClock) {
	t.Helper()
	store, clock := newTestStore(t)
	svc := NewService(ServiceConfig{
		Store:    store,
		Cache:    newTestCache(t),
		Embedder: NewHashEmbedder(testDim),
		Logger:   zerolog.Nop(),
	})
	return svc, store, clock
}

// insertText stores content for user the way the service does.
func insertText(t *testing.T, store *Store, user, content string) *Memory {
	t.Helper()
	n := NormalizeText(content)
	vec, err := NewHashEmbedder(testDim).GenerateEmbedding(context.Background(), n)
	require.NoError(t, err)

	m, err := store.Insert(context.Background(), NewRecord{
		UserID:      user,
		Content:     content,
		Keywords:    ExtractKeywords(n, 0),
		Category:    Categorize(n, nil),
		Importance:  DefaultImportance,
		ContentHash: ContentHash(n),
		SimHash:     SimHash64(n),
	}, vec)
	require.NoError(t, err)
	return m
}

func countRows(t *testing.T, store *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}
