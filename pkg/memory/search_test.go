package memory

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMatchQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"empty", "", `""`},
		{"blank", "   ", `""`},
		{"tokens", "shoe size", `"shoe" AND "size"`},
		{"phrase kept", `"new york" pizza`, `"new york" AND "pizza"`},
		{"operators quoted", "cats OR dogs NEAR(x)", `"cats" AND "OR" AND "dogs" AND "NEAR(x)"`},
		{"unbalanced quote", `say "hi`, `"say" AND """hi"`},
		{"empty phrase dropped", `"" tea`, `"tea"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildMatchQuery(tt.query))
		})
	}
}

func TestBM25Score(t *testing.T) {
	assert.InDelta(t, 0.5, bm25Score(0), 1e-9)
	// More negative bm25 is a better match.
	assert.Greater(t, bm25Score(-5), bm25Score(-1))
	assert.Greater(t, bm25Score(-50), 0.99)
	assert.LessOrEqual(t, bm25Score(-50), 1.0)
	assert.GreaterOrEqual(t, bm25Score(800), 0.0)
}

func TestDistanceToCosine(t *testing.T) {
	assert.InDelta(t, 1.0, DistanceToCosine(0), 1e-9)
	assert.InDelta(t, 0.0, DistanceToCosine(math.Sqrt2), 1e-9)
	assert.InDelta(t, -1.0, DistanceToCosine(2), 1e-9)
}

func TestTextSearch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	shoe := insertText(t, store, "alice", "My shoe size is 10 US")
	insertText(t, store, "alice", "Favourite shoe brand is Asics but size runs small")
	insertText(t, store, "bob", "Bob's shoe size is 12")

	hits, err := store.TextSearch(ctx, `shoe-size: "10 US"`, "alice", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, shoe.ID, hits[0].ID)
	assert.Greater(t, hits[0].Score, 0.0)
	assert.Less(t, hits[0].Score, 1.0)

	hits, err = store.TextSearch(ctx, "shoe size", "alice", 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = store.TextSearch(ctx, "shoe size", "alice", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = store.TextSearch(ctx, "shoe", "alice", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorSearch(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	target := insertText(t, store, "alice", "Dentist is Dr Patel on Elm street")
	insertText(t, store, "alice", "Flight to Lisbon departs at noon")
	insertText(t, store, "bob", "Dentist is Dr Patel on Elm street too")

	vec, err := NewHashEmbedder(testDim).GenerateEmbedding(ctx, NormalizeText(target.Content))
	require.NoError(t, err)

	hits, err := store.VectorSearch(ctx, vec, "alice", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, target.ID, hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)

	_, err = store.VectorSearch(ctx, vec[:4], "alice", 10)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFuseRRF(t *testing.T) {
	order, scores := FuseRRF([]string{"a", "b"}, []string{"b", "a"}, 60)
	assert.Equal(t, []string{"a", "b"}, order)
	want := 1.0/61 + 1.0/62
	assert.InDelta(t, want, scores["a"], 1e-12)
	assert.InDelta(t, want, scores["b"], 1e-12)

	// Equal fused scores keep first-seen order through rescoring.
	assert.Equal(t, []string{"a", "b"}, SortByScore(order, scores))

	order, scores = FuseRRF([]string{"x"}, []string{"y", "x"}, 0)
	assert.Equal(t, []string{"x", "y"}, order)
	assert.InDelta(t, 1.0/61+1.0/62, scores["x"], 1e-12)
	assert.InDelta(t, 1.0/61, scores["y"], 1e-12)

	order, scores = FuseRRF(nil, nil, 60)
	assert.Empty(t, order)
	assert.Empty(t, scores)
}

func TestCompositeScore(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	w := DefaultWeights()

	meta := map[string]RecordMeta{
		"fresh": {CreatedAt: now, AccessCount: 0, Importance: 1},
		"old":   {CreatedAt: now.Add(-14 * 24 * time.Hour), AccessCount: 0, Importance: 1},
		"used":  {CreatedAt: now, AccessCount: 9, Importance: 1},
	}
	cosine := map[string]float64{"fresh": 1, "old": 1, "used": 1}

	scores := CompositeScore([]string{"fresh", "old", "used", "unknown"}, cosine, meta, now, 14, w)
	assert.InDelta(t, 0.6+0.2+0.05, scores["fresh"], 1e-9)
	// One half-life of age: recency is exp(-1).
	assert.InDelta(t, 0.6+0.2*math.Exp(-1)+0.05, scores["old"], 1e-9)
	assert.InDelta(t, 0.6+0.2+0.15*math.Log(10)+0.05, scores["used"], 1e-9)
	// No cosine and no metadata: new, unaccessed, default importance.
	assert.InDelta(t, 0.2+0.05, scores["unknown"], 1e-9)

	ranked := SortByScore([]string{"fresh", "old", "used", "unknown"}, scores)
	assert.Equal(t, []string{"used", "fresh", "old", "unknown"}, ranked)
}

func TestEngineRank(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	shoe := insertText(t, store, "alice", "My shoe size is 10 US")
	insertText(t, store, "alice", "Anniversary dinner booked at Nopa")
	insertText(t, store, "bob", "My shoe size is 12 EU")

	engine := NewEngine(store, NewCachedEmbedder(NewHashEmbedder(testDim), nil), SearchConfig{}, zerolog.Nop())

	ranking, err := engine.Rank(ctx, "shoe size", "alice")
	require.NoError(t, err)
	require.Len(t, ranking.IDs, 2)
	assert.Contains(t, ranking.IDs, shoe.ID)
	assert.GreaterOrEqual(t, ranking.Scores[ranking.IDs[0]], ranking.Scores[ranking.IDs[1]])
	for _, stage := range []string{"embed_ms", "vector_ms", "text_ms", "fuse_ms", "rescore_ms"} {
		assert.Contains(t, ranking.Timings, stage)
	}

	empty, err := engine.Rank(ctx, "anything", "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty.IDs)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, assert.AnError
}

func TestEngineFallsBackToLexical(t *testing.T) {
	store, _ := newTestStore(t)
	shoe := insertText(t, store, "alice", "My shoe size is 10 US")

	engine := NewEngine(store, failingEmbedder{}, DefaultSearchConfig(), zerolog.Nop())
	ranking, err := engine.Rank(context.Background(), "shoe", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{shoe.ID}, ranking.IDs)
}
