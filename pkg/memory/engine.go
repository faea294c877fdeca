package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/mnemo/internal/tracing"
)

// SearchConfig tunes the hybrid search engine.
type SearchConfig struct {
	TopK         int
	RRFK         int
	HalfLifeDays float64
	Weights      Weights
}

// DefaultSearchConfig returns top-k 50, RRF k 60, a 14 day half-life and the default weights.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		TopK:         50,
		RRFK:         DefaultRRFK,
		HalfLifeDays: 14,
		Weights:      DefaultWeights(),
	}
}

// QueryEmbedder produces the query vector for a search.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Ranking is the output of one hybrid search.
type Ranking struct {
	IDs     []string
	Scores  map[string]float64
	Timings map[string]float64
}

// Engine runs lexical and vector retrieval, fuses them and rescores the result.
type Engine struct {
	store    *Store
	embedder QueryEmbedder
	cfg      SearchConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine creates a search engine over store.
func NewEngine(store *Store, embedder QueryEmbedder, cfg SearchConfig, logger zerolog.Logger) *Engine {
	def := DefaultSearchConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = def.RRFK
	}
	if cfg.HalfLifeDays <= 0 {
		cfg.HalfLifeDays = def.HalfLifeDays
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	return &Engine{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
		now:      store.now,
	}
}

// Rank returns every candidate id for query ordered by composite score.
// If one retrieval path fails the other is used alone; both failing is an error.
func (e *Engine) Rank(ctx context.Context, query, userID string) (*Ranking, error) {
	ctx, span := tracing.StartSpan(ctx, "mnemo.memory", "memory.rank",
		attribute.String("user_id", userID),
		attribute.Int("top_k", e.cfg.TopK),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger)
	timings := make(map[string]float64)

	start := time.Now()
	vec, embedErr := e.embedder.Embed(ctx, query)
	timings["embed_ms"] = millisSince(start)

	var (
		wg                   sync.WaitGroup
		vectorHits, textHits []Hit
		vectorErr, textErr   error
		vectorMs, textMs     float64
	)

	if embedErr == nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := time.Now()
			vectorHits, vectorErr = e.store.VectorSearch(ctx, vec, userID, e.cfg.TopK)
			vectorMs = millisSince(t)
		}()
	} else {
		vectorErr = fmt.Errorf("failed to embed query: %w", embedErr)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.Now()
		textHits, textErr = e.store.TextSearch(ctx, query, userID, e.cfg.TopK)
		textMs = millisSince(t)
	}()

	wg.Wait()
	timings["vector_ms"] = vectorMs
	timings["text_ms"] = textMs

	if vectorErr != nil && textErr != nil {
		span.RecordError(vectorErr)
		return nil, fmt.Errorf("hybrid search failed: vector: %v; text: %w", vectorErr, textErr)
	}
	if vectorErr != nil {
		logger.Warn().Err(vectorErr).Msg("Vector search failed, using lexical results only")
	}
	if textErr != nil {
		logger.Warn().Err(textErr).Msg("Lexical search failed, using vector results only")
	}

	start = time.Now()
	vectorIDs := make([]string, len(vectorHits))
	cosine := make(map[string]float64, len(vectorHits))
	for i, h := range vectorHits {
		vectorIDs[i] = h.ID
		cosine[h.ID] = h.Score
	}
	textIDs := make([]string, len(textHits))
	for i, h := range textHits {
		textIDs[i] = h.ID
	}
	candidates, _ := FuseRRF(vectorIDs, textIDs, e.cfg.RRFK)
	timings["fuse_ms"] = millisSince(start)

	if len(candidates) == 0 {
		return &Ranking{IDs: []string{}, Scores: map[string]float64{}, Timings: timings}, nil
	}

	start = time.Now()
	meta, err := e.store.FetchMeta(ctx, candidates)
	if err != nil {
		return nil, err
	}
	scores := CompositeScore(candidates, cosine, meta, e.now(), e.cfg.HalfLifeDays, e.cfg.Weights)
	ranked := SortByScore(candidates, scores)
	timings["rescore_ms"] = millisSince(start)

	span.SetAttributes(
		attribute.Int("vector_hits", len(vectorHits)),
		attribute.Int("text_hits", len(textHits)),
		attribute.Int("candidates", len(ranked)),
	)
	logger.Debug().
		Int("vector_hits", len(vectorHits)).
		Int("text_hits", len(textHits)).
		Int("candidates", len(ranked)).
		Msg("Hybrid search ranked candidates")

	return &Ranking{IDs: ranked, Scores: scores, Timings: timings}, nil
}

func millisSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
