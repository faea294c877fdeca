package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "default", cfg.UserID)
	assert.Equal(t, "local", cfg.Cache.URL)
	assert.Equal(t, 1, cfg.Cache.SchemaVersion)
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.Equal(t, 384, cfg.Embedding.Dimension)

	assert.Equal(t, 50, cfg.Search.TopK)
	assert.Equal(t, 60, cfg.Search.RRFK)
	assert.Equal(t, 14.0, cfg.Search.HalfLifeDays)
	assert.Equal(t, WeightsConfig{Cosine: 0.6, Recency: 0.2, Access: 0.15, Importance: 0.05}, cfg.Search.Weights)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)

	assert.True(t, cfg.Maintenance.Enabled)
	assert.Equal(t, "5m", cfg.Maintenance.TTLSweep.Every)
	assert.Equal(t, "30m", cfg.Maintenance.DedupSweep.Every)
	assert.Equal(t, "24h", cfg.Maintenance.Vacuum.Every)
	assert.Equal(t, 1000, cfg.Maintenance.TTLBatch)
	assert.Equal(t, 200, cfg.Maintenance.DedupGroups)
	assert.Equal(t, 30, cfg.Maintenance.PurgeAfterDays)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)

	assert.NoError(t, cfg.Validate())
}

func TestDurations(t *testing.T) {
	c := CacheConfig{EmbeddingTTL: "2h", QueryTTL: "bogus"}
	assert.Equal(t, 2*time.Hour, c.EmbeddingTTLDuration())
	assert.Equal(t, time.Hour, c.QueryTTLDuration())

	s := ServerConfig{Host: "127.0.0.1", Port: 9000}
	assert.Equal(t, 30*time.Second, s.RequestTimeoutDuration())
	assert.Equal(t, "127.0.0.1:9000", s.Addr())
}

func TestConfigStringMasksAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Embedding.Provider = "openai"
	cfg.Embedding.APIKey = "sk-live-abcdef"

	out := cfg.String()
	assert.NotContains(t, out, "sk-live-abcdef")

	var decoded Config
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "***", decoded.Embedding.APIKey)
	assert.Equal(t, "sk-live-abcdef", cfg.Embedding.APIKey)
}

func TestConfigValidate(t *testing.T) {
	t.Run("openai without key", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Embedding.Provider = "openai"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "API key cannot be empty")
	})

	t.Run("bad cache url", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Cache.URL = "memcached://localhost"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cache url")
	})
}
