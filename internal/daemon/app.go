package daemon

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"

	"github.com/harun/mnemo/internal/config"
	"github.com/harun/mnemo/internal/metrics"
	"github.com/harun/mnemo/internal/observability"
	"github.com/harun/mnemo/pkg/cache"
	"github.com/harun/mnemo/pkg/maintenance"
	"github.com/harun/mnemo/pkg/memory"
	"github.com/harun/mnemo/pkg/toolexecutor"
)

// App is the application context: every long-lived component, built once and
// shared by the HTTP surface, the CLI and the maintenance scheduler.
type App struct {
	config  *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	audit   *observability.AuditLogger

	store      *memory.Store
	cache      *cache.Cache
	provider   memory.EmbeddingProvider
	service    *memory.Service
	executor   *toolexecutor.ToolExecutor
	maintainer *maintenance.Maintainer
	scheduler  *maintenance.Scheduler
}

// NewApp opens the store, connects the cache and wires the service, the tool
// executor and the maintenance jobs. A store that cannot be opened is fatal; an
// unreachable cache is not.
func NewApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{
		config:  cfg,
		logger:  logger,
		metrics: metrics.NewMetrics(),
	}

	provider, err := newEmbeddingProvider(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	a.provider = provider

	a.audit, err = observability.NewAuditLogger(cfg.Logging.AuditFile)
	if err != nil {
		return nil, err
	}

	a.store, err = memory.OpenStore(memory.StoreConfig{
		DBPath:    cfg.Storage.DBPath,
		Dimension: provider.Dimension(),
		Logger:    logger.With().Str("component", "store").Logger(),
	})
	if err != nil {
		_ = a.audit.Close()
		return nil, fmt.Errorf("failed to open memory store: %w", err)
	}

	a.cache = cache.New(ctx, cache.Config{
		URL:           cfg.Cache.URL,
		EmbeddingTTL:  cfg.Cache.EmbeddingTTLDuration(),
		QueryTTL:      cfg.Cache.QueryTTLDuration(),
		SchemaVersion: cfg.Cache.SchemaVersion,
		LocalMaxBytes: int64(cfg.Cache.LocalMaxMB) << 20,
		Logger:        logger.With().Str("component", "cache").Logger(),
	})
	a.cache.SetObserver(a.metrics.CacheLookup)

	a.service = memory.NewService(memory.ServiceConfig{
		Store:    a.store,
		Cache:    a.cache,
		Embedder: provider,
		Search: memory.SearchConfig{
			TopK:         cfg.Search.TopK,
			RRFK:         cfg.Search.RRFK,
			HalfLifeDays: cfg.Search.HalfLifeDays,
			Weights: memory.Weights{
				Cosine:     cfg.Search.Weights.Cosine,
				Recency:    cfg.Search.Weights.Recency,
				Access:     cfg.Search.Weights.Access,
				Importance: cfg.Search.Weights.Importance,
			},
		},
		Observer:     a.metrics,
		Logger:       logger.With().Str("component", "memory").Logger(),
		UserID:       cfg.UserID,
		DefaultLimit: cfg.Search.DefaultLimit,
		PreviewLimit: cfg.Search.PreviewLimit,
	})

	a.executor = toolexecutor.New(
		toolexecutor.WithLogger(logger.With().Str("component", "tools").Logger()),
		toolexecutor.WithObserver(a.metrics),
	)
	a.executor.SetRetryConfig(toolexecutor.RetryConfig{
		Enabled:     true,
		MaxAttempts: 3,
	})
	if err := memory.RegisterMemoryTools(a.executor, a.service); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.buildScheduler(); err != nil {
		a.Close()
		return nil, err
	}

	if stats, err := a.store.Stats(ctx); err == nil {
		a.metrics.SetMemoryRecords(stats.Count)
	}

	return a, nil
}

func (a *App) buildScheduler() error {
	mc := a.config.Maintenance

	a.maintainer = maintenance.NewMaintainer(maintenance.MaintainerConfig{
		Store:          a.store,
		Cache:          a.cache,
		Metrics:        a.metrics,
		Logger:         a.logger.With().Str("component", "maintenance").Logger(),
		Embed:          a.service.Embed,
		TTLBatch:       mc.TTLBatch,
		DedupGroups:    mc.DedupGroups,
		PurgeAfterDays: mc.PurgeAfterDays,
	})

	schedules := maintenance.DefaultSchedules()
	for _, s := range []struct {
		name string
		cfg  config.ScheduleConfig
		dst  *maintenance.Schedule
	}{
		{maintenance.JobTTLSweep, mc.TTLSweep, &schedules.TTLSweep},
		{maintenance.JobDedupSweep, mc.DedupSweep, &schedules.DedupSweep},
		{maintenance.JobVacuum, mc.Vacuum, &schedules.Vacuum},
	} {
		if s.cfg.Every == "" && s.cfg.Cron == "" {
			continue
		}
		parsed, err := maintenance.ParseSchedule(s.cfg.Every, s.cfg.Cron)
		if err != nil {
			return fmt.Errorf("invalid %s schedule: %w", s.name, err)
		}
		*s.dst = parsed
	}

	a.scheduler = maintenance.NewScheduler(maintenance.SchedulerConfig{
		Logger:   a.logger.With().Str("component", "scheduler").Logger(),
		Observer: jobObservers{a.metrics, a.audit},
	})
	for _, job := range a.maintainer.Jobs(schedules) {
		if err := a.scheduler.Add(job); err != nil {
			return err
		}
	}
	return nil
}

// jobObservers fans a finished maintenance run out to several observers.
type jobObservers []maintenance.JobObserver

func (o jobObservers) ObserveJob(job string, err error) {
	for _, obs := range o {
		obs.ObserveJob(job, err)
	}
}

// mutatingTools are the tools whose calls land in the audit trail.
var mutatingTools = map[string]bool{
	memory.ToolStore:  true,
	memory.ToolUpdate: true,
	memory.ToolForget: true,
}

// ExecuteTool runs a memory tool through the executor and records
// state-changing calls in the audit trail. Both the HTTP surface and the CLI
// go through here. Only read-only tools are retried: a write that timed out
// may still have committed.
func (a *App) ExecuteTool(ctx context.Context, name string, params map[string]interface{}, execCtx *toolexecutor.ExecutionContext) toolexecutor.ToolResult {
	if !mutatingTools[name] {
		return a.executor.ExecuteWithRetry(ctx, name, params, execCtx)
	}

	result := a.executor.Execute(ctx, name, params, execCtx)

	actor, _ := params["user_id"].(string)
	if actor == "" {
		actor = a.config.UserID
	}
	meta := map[string]interface{}{}
	if execCtx != nil && execCtx.RequestID != "" {
		meta["request_id"] = execCtx.RequestID
	}
	if id, ok := params["memory_id"]; ok {
		meta["memory_id"] = id
	}
	if name == memory.ToolForget {
		meta["confirm"] = params["confirm"] == true
	}
	a.audit.RecordTool(ctx, name, actor, result.Err, meta)
	return result
}

// newEmbeddingProvider selects the configured embedding backend.
func newEmbeddingProvider(cfg config.EmbeddingConfig) (memory.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "", "hash":
		return memory.NewHashEmbedder(cfg.Dimension), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embedding provider requires an API key")
		}
		var opts []option.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		return memory.NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.Dimension, opts...), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.config }

// Service returns the memory service.
func (a *App) Service() *memory.Service { return a.service }

// Executor returns the tool executor with the memory tools registered.
func (a *App) Executor() *toolexecutor.ToolExecutor { return a.executor }

// Scheduler returns the maintenance scheduler. It is not started by NewApp.
func (a *App) Scheduler() *maintenance.Scheduler { return a.scheduler }

// Metrics returns the metrics registry.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Audit returns the audit trail.
func (a *App) Audit() *observability.AuditLogger { return a.audit }

// Store returns the record store.
func (a *App) Store() *memory.Store { return a.store }

// Close stops the scheduler, then releases the cache and the store.
func (a *App) Close() error {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close cache")
		}
	}
	if err := a.audit.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close audit log")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			return fmt.Errorf("failed to close memory store: %w", err)
		}
	}
	return nil
}
