package memory

import (
	"context"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/harun/mnemo/pkg/cache"
)

// EmbeddingProvider generates vector embeddings from text
type EmbeddingProvider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// HashEmbedder maps text to a unit vector by feature hashing its tokens and bigrams.
// It is deterministic and needs no network, which makes it the default provider.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a hashing embedder with the given dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	return &HashEmbedder{dimension: dimension}
}

func (h *HashEmbedder) Dimension() int { return h.dimension }

func (h *HashEmbedder) Model() string { return fmt.Sprintf("hash-%d", h.dimension) }

func (h *HashEmbedder) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if h.dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", ErrInvalidArgument)
	}

	vec := make([]float32, h.dimension)
	normalized := NormalizeText(text)
	toks := Tokens(normalized)
	grams := shingles(toks)
	if len(grams) == 0 && normalized != "" {
		// symbols or emoji only
		grams = []string{normalized}
	}
	for i, g := range grams {
		weight := float32(1.0)
		if i >= len(toks) {
			weight = 0.5
		}
		sum := xxhash.Sum64String(g)
		idx := sum % uint64(h.dimension)
		if sum>>63 == 1 {
			vec[idx] -= weight
		} else {
			vec[idx] += weight
		}
	}

	if !normalize(vec) {
		vec[0] = 1
	}
	return vec, nil
}

func (h *HashEmbedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.GenerateEmbedding(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// OpenAIProvider implements EmbeddingProvider for OpenAI
type OpenAIProvider struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAIProvider creates a new OpenAI embedding provider. Dimensions are requested
// explicitly so the result matches the vector table.
func NewOpenAIProvider(apiKey, model string, dimension int, opts ...option.RequestOption) *OpenAIProvider {
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIProvider{
		client:    openai.NewClient(opts...),
		model:     model,
		dimension: dimension,
	}
}

func (p *OpenAIProvider) Dimension() int { return p.dimension }

func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := p.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (p *OpenAIProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:          openai.EmbeddingModel(p.model),
		Dimensions:     openai.Int(int64(p.dimension)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai returned embedding index %d out of range", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		normalize(vec)
		out[d.Index] = vec
	}
	return out, nil
}

// normalize scales v to unit length in place. It returns false for a zero vector.
func normalize(v []float32) bool {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return false
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return true
}

// CachedEmbedder normalizes text and serves embeddings through the embedding cache.
type CachedEmbedder struct {
	provider EmbeddingProvider
	cache    *cache.Cache
}

// NewCachedEmbedder wraps provider with c. A nil cache behaves as disabled.
func NewCachedEmbedder(provider EmbeddingProvider, c *cache.Cache) *CachedEmbedder {
	if c == nil {
		c = cache.NewDisabled()
	}
	return &CachedEmbedder{provider: provider, cache: c}
}

// Embed returns the embedding of the normalized text.
func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	n := NormalizeText(text)
	model := e.provider.Model()

	if vec, ok := e.cache.GetEmbedding(ctx, model, n); ok && len(vec) == e.provider.Dimension() {
		return vec, nil
	}

	vec, err := e.provider.GenerateEmbedding(ctx, n)
	if err != nil {
		return nil, err
	}
	if len(vec) != e.provider.Dimension() {
		return nil, fmt.Errorf("%w: provider returned %d dimensions, want %d",
			ErrInvalidArgument, len(vec), e.provider.Dimension())
	}

	e.cache.SetEmbedding(ctx, model, n, vec)
	return vec, nil
}

// Dimension returns the wrapped provider's dimension.
func (e *CachedEmbedder) Dimension() int { return e.provider.Dimension() }
