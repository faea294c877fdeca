package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/mnemo.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/mnemo.json", loader.configPath)
	assert.Equal(t, "/path/to/mnemo.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		loader := NewLoader(filepath.Join(tmpDir, "nonexistent.json"))

		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, "default", cfg.UserID)
		assert.Equal(t, 384, cfg.Embedding.Dimension)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "mnemo.json")

		testConfig := `{
			"user_id": "alice",
			"data_dir": "` + filepath.ToSlash(tmpDir) + `",
			"cache": {"url": "redis://localhost:6379/2"},
			"embedding": {"provider": "openai", "api_key": "sk-test-key", "dimension": 256},
			"search": {"weights": {"cosine": 1.0}},
			"maintenance": {"vacuum": {"cron": "0 3 * * *"}}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0o644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, "alice", cfg.UserID)
		assert.Equal(t, "redis://localhost:6379/2", cfg.Cache.URL)
		assert.Equal(t, "openai", cfg.Embedding.Provider)
		assert.Equal(t, "sk-test-key", cfg.Embedding.APIKey)
		assert.Equal(t, 256, cfg.Embedding.Dimension)
		assert.Equal(t, "0 3 * * *", cfg.Maintenance.Vacuum.Cron)

		// unspecified fields keep their defaults
		assert.Equal(t, 1.0, cfg.Search.Weights.Cosine)
		assert.Equal(t, 0.2, cfg.Search.Weights.Recency)
		assert.Equal(t, "1h", cfg.Cache.QueryTTL)
		assert.Equal(t, "5m", cfg.Maintenance.TTLSweep.Every)
	})

	t.Run("set default paths", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "mnemo.json")

		testConfig := `{"data_dir": "` + filepath.ToSlash(tmpDir) + `"}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0o644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(tmpDir, "memory.db"), cfg.Storage.DBPath)
		assert.Equal(t, filepath.Join(tmpDir, "mnemo.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(tmpDir, "audit.log"), cfg.Logging.AuditFile)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "mnemo.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"user_id": "alice"}`), 0o644))

		t.Setenv("MNEMO_USER_ID", "bob")
		t.Setenv("MNEMO_CACHE_URL", "disabled")
		t.Setenv("OPENAI_API_KEY", "sk-from-env")

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, "bob", cfg.UserID)
		assert.Equal(t, "disabled", cfg.Cache.URL)
		assert.Equal(t, "sk-from-env", cfg.Embedding.APIKey)
	})

	t.Run("invalid json", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "mnemo.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{not json`), 0o644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})
}

func TestLoaderSave(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "mnemo.json")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.UserID = "carol"
	cfg.DataDir = tmpDir
	cfg.Search.TopK = 25
	cfg.Maintenance.DedupSweep = ScheduleConfig{Cron: "*/15 * * * *"}

	require.NoError(t, loader.Save(cfg))

	_, err := os.Stat(configPath)
	require.NoError(t, err)

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "carol", loaded.UserID)
	assert.Equal(t, 25, loaded.Search.TopK)
	assert.Equal(t, "*/15 * * * *", loaded.Maintenance.DedupSweep.Cron)
	assert.Equal(t, 0.6, loaded.Search.Weights.Cosine)
}

func TestLoadConvenience(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
