package memory

import (
	"math"
	"sort"
	"time"
)

// Weights are the coefficients of the composite score.
type Weights struct {
	Cosine     float64 `json:"cosine"`
	Recency    float64 `json:"recency"`
	Access     float64 `json:"access"`
	Importance float64 `json:"importance"`
}

// DefaultWeights returns 0.6 cosine, 0.2 recency, 0.15 access, 0.05 importance.
func DefaultWeights() Weights {
	return Weights{Cosine: 0.6, Recency: 0.2, Access: 0.15, Importance: 0.05}
}

// DefaultRRFK is the rank offset of reciprocal rank fusion.
const DefaultRRFK = 60

// FuseRRF merges two ranked id lists with reciprocal rank fusion. Each list
// contributes 1/(k+rank) for 1-based rank. The returned order lists every id once
// in first-seen order, vector list first.
func FuseRRF(vectorIDs, textIDs []string, k int) ([]string, map[string]float64) {
	if k <= 0 {
		k = DefaultRRFK
	}
	scores := make(map[string]float64, len(vectorIDs)+len(textIDs))
	var order []string

	for _, list := range [][]string{vectorIDs, textIDs} {
		for i, id := range list {
			if _, seen := scores[id]; !seen {
				order = append(order, id)
			}
			scores[id] += 1.0 / float64(k+i+1)
		}
	}
	return order, scores
}

// CompositeScore rescores ids from cosine similarity, recency, access count and
// importance. Ids without a cosine score get 0; ids without metadata are treated
// as brand new, never accessed and of importance 1.
func CompositeScore(ids []string, cosine map[string]float64, meta map[string]RecordMeta,
	now time.Time, halfLifeDays float64, w Weights) map[string]float64 {
	if halfLifeDays <= 0 {
		halfLifeDays = 14
	}

	out := make(map[string]float64, len(ids))
	for _, id := range ids {
		m, ok := meta[id]
		if !ok {
			m = RecordMeta{CreatedAt: now, AccessCount: 0, Importance: DefaultImportance}
		}
		ageDays := math.Max(0, now.Sub(m.CreatedAt).Hours()/24)
		recency := math.Exp(-ageDays / halfLifeDays)
		access := math.Log1p(float64(m.AccessCount))

		out[id] = w.Cosine*cosine[id] + w.Recency*recency + w.Access*access + w.Importance*m.Importance
	}
	return out
}

// SortByScore orders ids by descending score. Equal scores keep their input order.
func SortByScore(ids []string, scores map[string]float64) []string {
	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool {
		return scores[out[i]] > scores[out[j]]
	})
	return out
}
