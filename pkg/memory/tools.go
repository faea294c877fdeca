package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/mnemo/internal/tracing"
	"github.com/harun/mnemo/pkg/cache"
)

// SearchModeHybrid is the cache mode of hybrid recall.
const SearchModeHybrid = "hybrid"

// Defaults for tool parameters.
const (
	DefaultUserID       = "default"
	DefaultRecallLimit  = 10
	DefaultPreviewLimit = 50
)

// StageObserver receives per-stage timings in milliseconds.
type StageObserver interface {
	ObserveStage(stage string, ms float64)
}

// ServiceConfig holds service dependencies
type ServiceConfig struct {
	Store        *Store
	Cache        *cache.Cache
	Embedder     EmbeddingProvider
	Search       SearchConfig
	Observer     StageObserver
	Logger       zerolog.Logger
	UserID       string
	DefaultLimit int
	PreviewLimit int
}

// Service implements the memory tools on top of the store, cache and search engine.
type Service struct {
	store    *Store
	cache    *cache.Cache
	embedder *CachedEmbedder
	engine   *Engine
	observer StageObserver
	logger   zerolog.Logger

	userID       string
	defaultLimit int
	previewLimit int
}

// NewService wires a service. A nil cache behaves as disabled.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Cache == nil {
		cfg.Cache = cache.NewDisabled()
	}
	if cfg.UserID == "" {
		cfg.UserID = DefaultUserID
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultRecallLimit
	}
	if cfg.PreviewLimit <= 0 {
		cfg.PreviewLimit = DefaultPreviewLimit
	}

	embedder := NewCachedEmbedder(cfg.Embedder, cfg.Cache)
	return &Service{
		store:        cfg.Store,
		cache:        cfg.Cache,
		embedder:     embedder,
		engine:       NewEngine(cfg.Store, embedder, cfg.Search, cfg.Logger),
		observer:     cfg.Observer,
		logger:       cfg.Logger,
		userID:       cfg.UserID,
		defaultLimit: cfg.DefaultLimit,
		previewLimit: cfg.PreviewLimit,
	}
}

// RecordStore returns the underlying record store.
func (s *Service) RecordStore() *Store { return s.store }

// Cache returns the cache layer.
func (s *Service) Cache() *cache.Cache { return s.cache }

// Embed returns the cached embedding of text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embedder.Embed(ctx, text)
}

func (s *Service) user(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return s.userID
}

func (s *Service) observe(timings map[string]float64) {
	if s.observer == nil {
		return
	}
	for stage, ms := range timings {
		s.observer.ObserveStage(strings.TrimSuffix(stage, "_ms"), ms)
	}
}

// StoreParams defines parameters for store_memory tool
type StoreParams struct {
	Content    string   `json:"content"`
	UserID     string   `json:"user_id,omitempty"`
	Category   string   `json:"category,omitempty"`
	Importance *float64 `json:"importance,omitempty"`
	TTLSeconds *int64   `json:"ttl_seconds,omitempty"`
	Source     string   `json:"source,omitempty"`
}

// StoreResult is returned by store_memory
type StoreResult struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
}

// Store derives hashes, keywords, category and embedding for content and persists it.
func (s *Service) Store(ctx context.Context, p StoreParams) (*StoreResult, error) {
	if strings.TrimSpace(p.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidArgument)
	}
	if p.TTLSeconds != nil && *p.TTLSeconds <= 0 {
		return nil, fmt.Errorf("%w: ttl_seconds must be positive", ErrInvalidArgument)
	}
	user := s.user(p.UserID)

	ctx, span := tracing.StartSpan(ctx, "mnemo.memory", "memory.store", attribute.String("user_id", user))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	normalized := NormalizeText(p.Content)
	keywords := ExtractKeywords(normalized, DefaultMaxKeywords)
	category := strings.TrimSpace(p.Category)
	if category == "" {
		category = Categorize(normalized, keywords)
	}
	importance := DefaultImportance
	if p.Importance != nil {
		importance = *p.Importance
	}

	vec, err := s.embedder.Embed(ctx, normalized)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}

	mem, err := s.store.Insert(ctx, NewRecord{
		UserID:      user,
		Content:     p.Content,
		Keywords:    keywords,
		Category:    category,
		Importance:  importance,
		ContentHash: ContentHash(normalized),
		SimHash:     SimHash64(normalized),
		TTLSeconds:  p.TTLSeconds,
		Sensitive:   DetectSensitive(p.Content),
		Source:      p.Source,
	}, vec)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.cache.TouchLastWrite(ctx, user)

	logger.Info().
		Str("memory_id", mem.ID).
		Str("category", mem.Category).
		Bool("pii_flag", mem.Sensitive).
		Msg("Memory stored")

	return &StoreResult{ID: mem.ID, Category: mem.Category, Keywords: mem.Keywords}, nil
}

// UpdateParams defines parameters for update_memory tool
type UpdateParams struct {
	ID       string `json:"memory_id"`
	Content  string `json:"content"`
	UserID   string `json:"user_id,omitempty"`
	Category string `json:"category,omitempty"`
}

// Update replaces the content of a memory and re-derives everything computed from it.
func (s *Service) Update(ctx context.Context, p UpdateParams) (*Memory, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, fmt.Errorf("%w: memory_id is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(p.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidArgument)
	}
	user := s.user(p.UserID)

	existing, err := s.store.FetchOne(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if existing.UserID != user {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p.ID)
	}

	normalized := NormalizeText(p.Content)
	keywords := ExtractKeywords(normalized, DefaultMaxKeywords)
	category := strings.TrimSpace(p.Category)
	if category == "" {
		category = Categorize(normalized, keywords)
	}

	vec, err := s.embedder.Embed(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}

	mem, err := s.store.Update(ctx, p.ID, ContentUpdate{
		Content:          p.Content,
		Keywords:         keywords,
		Category:         category,
		ContentHash:      ContentHash(normalized),
		SimHash:          SimHash64(normalized),
		EmbeddingVersion: existing.EmbeddingVersion,
		Sensitive:        DetectSensitive(p.Content),
	}, vec)
	if err != nil {
		return nil, err
	}

	s.cache.TouchLastWrite(ctx, user)
	s.logger.Info().Str("memory_id", mem.ID).Msg("Memory updated")
	return mem, nil
}

// RecallParams defines parameters for recall_memory tool
type RecallParams struct {
	Query          string `json:"query"`
	UserID         string `json:"user_id,omitempty"`
	CategoryFilter string `json:"category_filter,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// RecallResult is returned by recall_memory
type RecallResult struct {
	Answers []*Memory          `json:"answers"`
	Cached  bool               `json:"cached"`
	Timings map[string]float64 `json:"timings_ms"`
}

// Recall returns the best matching memories for a query. Ranked id lists are
// cached per write clock; access statistics are bumped on every call.
func (s *Service) Recall(ctx context.Context, p RecallParams) (*RecallResult, error) {
	user := s.user(p.UserID)
	limit := p.Limit
	if limit <= 0 {
		limit = s.defaultLimit
	}

	ctx, span := tracing.StartSpan(ctx, "mnemo.memory", "memory.recall",
		attribute.String("user_id", user),
		attribute.Int("limit", limit),
	)
	defer span.End()

	start := time.Now()
	ranked, cached, timings, err := s.rank(ctx, user, p.Query, p.CategoryFilter)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	t := time.Now()
	page := ranked
	if len(page) > limit {
		page = page[:limit]
	}
	answers, err := s.store.FetchMany(ctx, page)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(answers))
	for i, m := range answers {
		ids[i] = m.ID
	}
	if err := s.store.BumpAccess(ctx, ids); err != nil {
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Warn().Err(err).Msg("Failed to bump access counts")
	}
	timings["hydrate_ms"] = millisSince(t)
	timings["total_ms"] = millisSince(start)

	s.observe(timings)
	span.SetAttributes(attribute.Bool("cached", cached), attribute.Int("answers", len(answers)))

	return &RecallResult{Answers: answers, Cached: cached, Timings: timings}, nil
}

// rank returns the full ranked id list for a query, from cache when possible.
func (s *Service) rank(ctx context.Context, user, query, category string) ([]string, bool, map[string]float64, error) {
	mode := SearchModeHybrid
	if category != "" {
		mode += ":" + category
	}

	t := time.Now()
	ids, clock, hit := s.cache.GetQueryIDs(ctx, user, mode, query)
	cacheMs := millisSince(t)
	if hit {
		return ids, true, map[string]float64{"cache_lookup_ms": cacheMs}, nil
	}

	ranking, err := s.engine.Rank(ctx, query, user)
	if err != nil {
		return nil, false, nil, err
	}
	timings := ranking.Timings
	timings["cache_lookup_ms"] = cacheMs
	ranked := ranking.IDs

	if category != "" && len(ranked) > 0 {
		t = time.Now()
		rows, err := s.store.FetchMany(ctx, ranked)
		if err != nil {
			return nil, false, nil, err
		}
		filtered := make([]string, 0, len(rows))
		for _, m := range rows {
			if m.Category == category {
				filtered = append(filtered, m.ID)
			}
		}
		ranked = filtered
		timings["filter_ms"] = millisSince(t)
	}

	s.cache.SetQueryIDs(ctx, user, mode, query, clock, ranked)
	return ranked, false, timings, nil
}

// ForgetParams defines parameters for forget_memory tool
type ForgetParams struct {
	ID      string `json:"memory_id,omitempty"`
	Query   string `json:"query,omitempty"`
	UserID  string `json:"user_id,omitempty"`
	Confirm bool   `json:"confirm,omitempty"`
}

// ForgetResult is returned by forget_memory. A preview lists ToDelete and has
// Confirm false; a deletion reports Deleted and IDs.
type ForgetResult struct {
	Deleted  int      `json:"deleted"`
	IDs      []string `json:"ids,omitempty"`
	ToDelete []string `json:"to_delete,omitempty"`
	Confirm  bool     `json:"confirm"`
}

// Forget soft-deletes a memory by id, or the memories matching a query once confirmed.
func (s *Service) Forget(ctx context.Context, p ForgetParams) (*ForgetResult, error) {
	user := s.user(p.UserID)
	id := strings.TrimSpace(p.ID)
	if id == "" && strings.TrimSpace(p.Query) == "" {
		return nil, fmt.Errorf("%w: provide memory_id or query", ErrInvalidArgument)
	}

	var ids []string
	if id != "" {
		ids = []string{id}
	} else {
		ranked, _, _, err := s.rank(ctx, user, p.Query, "")
		if err != nil {
			return nil, err
		}
		if len(ranked) > s.previewLimit {
			ranked = ranked[:s.previewLimit]
		}
		ids = ranked
		if !p.Confirm {
			return &ForgetResult{ToDelete: ids, Confirm: false}, nil
		}
	}

	// Only the caller's own records may be forgotten.
	owned, err := s.store.FetchMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	ids = make([]string, 0, len(owned))
	for _, m := range owned {
		if m.UserID == user {
			ids = append(ids, m.ID)
		}
	}

	deleted, err := s.store.SoftDelete(ctx, ids)
	if err != nil {
		return nil, err
	}
	if deleted > 0 {
		s.cache.TouchLastWrite(ctx, user)
	}

	s.logger.Info().Int("deleted", deleted).Strs("ids", ids).Msg("Memories forgotten")
	return &ForgetResult{Deleted: deleted, IDs: ids, Confirm: true}, nil
}

// HealthResult is returned by memory_health
type HealthResult struct {
	Count          int64   `json:"count"`
	EmbeddingCount int64   `json:"embedding_count"`
	StoreSizeMB    float64 `json:"store_size_mb"`
	LastWriteClock int64   `json:"last_write_clock"`
	CacheEnabled   bool    `json:"cache_enabled"`
}

// Health reports store and cache status. It never fails; unreadable values are zero.
func (s *Service) Health(ctx context.Context, userID string) *HealthResult {
	st, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read store stats")
	}
	return &HealthResult{
		Count:          st.Count,
		EmbeddingCount: st.EmbeddingCount,
		StoreSizeMB:    st.SizeMB,
		LastWriteClock: s.cache.LastWrite(ctx, s.user(userID)),
		CacheEnabled:   s.cache.Enabled(),
	}
}
