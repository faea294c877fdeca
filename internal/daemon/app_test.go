package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mnemo/internal/config"
	"github.com/harun/mnemo/pkg/maintenance"
	"github.com/harun/mnemo/pkg/memory"
	"github.com/harun/mnemo/pkg/toolexecutor"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Storage.DBPath = filepath.Join(dir, "memory.db")
	cfg.Logging.File = ""
	cfg.Cache.URL = "local"
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Dimension = 16
	cfg.Server.Port = 0
	return cfg
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	app, err := NewApp(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestNewApp(t *testing.T) {
	app := newTestApp(t)

	assert.NotNil(t, app.Service())
	assert.NotNil(t, app.Store())
	assert.NotNil(t, app.Metrics())
	assert.ElementsMatch(t, []string{
		memory.ToolStore, memory.ToolRecall, memory.ToolUpdate, memory.ToolForget, memory.ToolHealth,
	}, app.Executor().ListTools())
	assert.Equal(t, []string{
		maintenance.JobDedupSweep, maintenance.JobTTLSweep, maintenance.JobVacuum,
	}, app.Scheduler().Jobs())
}

func TestNewAppScheduleOverride(t *testing.T) {
	cfg := testConfig(t)
	cfg.Maintenance.Vacuum = config.ScheduleConfig{Cron: "0 3 * * *"}

	app, err := NewApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.Scheduler().Start(context.Background()))
	defer app.Scheduler().Stop()

	require.Eventually(t, func() bool {
		st, _ := app.Scheduler().State(maintenance.JobVacuum)
		return !st.NextRun.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	st, _ := app.Scheduler().State(maintenance.JobVacuum)
	assert.Equal(t, 3, st.NextRun.Hour())
	assert.Equal(t, 0, st.NextRun.Minute())
}

func TestNewAppInvalidSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.Maintenance.TTLSweep = config.ScheduleConfig{Cron: "not a cron"}

	_, err := NewApp(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ttl_sweep")
}

func TestNewEmbeddingProvider(t *testing.T) {
	p, err := newEmbeddingProvider(config.EmbeddingConfig{Provider: "hash", Dimension: 32})
	require.NoError(t, err)
	assert.Equal(t, 32, p.Dimension())

	_, err = newEmbeddingProvider(config.EmbeddingConfig{Provider: "openai", Dimension: 32})
	assert.Error(t, err)

	_, err = newEmbeddingProvider(config.EmbeddingConfig{Provider: "bogus"})
	assert.Error(t, err)
}

func TestAppCloseTwice(t *testing.T) {
	app, err := NewApp(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, app.Close())
	assert.NotPanics(t, func() { _ = app.Close() })
}

func TestExecuteToolAudit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.AuditFile = filepath.Join(cfg.DataDir, "audit.log")

	app, err := NewApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	execCtx := &toolexecutor.ExecutionContext{RequestID: "req-1"}

	res := app.ExecuteTool(ctx, memory.ToolStore, map[string]interface{}{"content": "I prefer green tea"}, execCtx)
	require.True(t, res.Success, res.Error)
	res = app.ExecuteTool(ctx, memory.ToolRecall, map[string]interface{}{"query": "tea"}, execCtx)
	require.True(t, res.Success, res.Error)
	res = app.ExecuteTool(ctx, memory.ToolStore, map[string]interface{}{"content": "I prefer green tea"}, execCtx)
	require.False(t, res.Success)

	_, err = app.Scheduler().RunOnce(ctx, maintenance.JobVacuum)
	require.NoError(t, err)
	require.NoError(t, app.Close())

	raw, err := os.ReadFile(cfg.Logging.AuditFile)
	require.NoError(t, err)
	log := string(raw)

	assert.Equal(t, 2, strings.Count(log, `"action":"store_memory"`))
	assert.NotContains(t, log, memory.ToolRecall)
	assert.Contains(t, log, `"status":"failure"`)
	assert.Contains(t, log, `"request_id":"req-1"`)
	assert.Contains(t, log, `"actor":"`+cfg.UserID+`"`)
	assert.Contains(t, log, `"action":"vacuum"`)
}

func TestExecuteToolRetriesReadsOnly(t *testing.T) {
	app := newTestApp(t)
	ctx := context.Background()

	calls := map[string]int{}
	for _, name := range []string{memory.ToolStore, memory.ToolRecall} {
		name := name
		app.Executor().UnregisterTool(name)
		require.NoError(t, app.Executor().RegisterTool(toolexecutor.ToolDefinition{
			Name:        name,
			Description: "always busy",
			Parameters:  []toolexecutor.ToolParameter{},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				calls[name]++
				return nil, errors.New("database is locked")
			},
		}))
	}

	res := app.ExecuteTool(ctx, memory.ToolStore, map[string]interface{}{}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, 1, calls[memory.ToolStore])

	res = app.ExecuteTool(ctx, memory.ToolRecall, map[string]interface{}{}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, 3, calls[memory.ToolRecall])
}
