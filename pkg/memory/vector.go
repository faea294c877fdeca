package memory

import (
	"context"
	"fmt"
)

const (
	// vectorOverfetch widens the KNN scan so user and tombstone filtering can still fill k.
	vectorOverfetch = 4
	// maxKNN is the largest k accepted by vec0.
	maxKNN = 4096
)

// VectorSearch returns up to k live records of userID nearest to vec. Scores are
// cosine similarities derived from the L2 distance of unit vectors.
func (s *Store) VectorSearch(ctx context.Context, vec []float32, userID string, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	blob, err := s.serialize(vec)
	if err != nil {
		return nil, err
	}

	fetch := k * vectorOverfetch
	if fetch > maxKNN {
		fetch = maxKNN
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, knn.distance
		FROM (
			SELECT rowid, distance FROM memory_embeddings
			WHERE embedding MATCH ? AND k = ?
		) AS knn
		JOIN memories m ON m.row_id = knn.rowid
		WHERE m.user_id = ? AND m.deleted_at IS NULL
		ORDER BY knn.distance ASC
		LIMIT ?`, blob, fetch, userID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector index: %w", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var (
			id       string
			distance float64
		)
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		hits = append(hits, Hit{ID: id, Score: DistanceToCosine(distance)})
	}
	return hits, rows.Err()
}

// DistanceToCosine converts the L2 distance between unit vectors to cosine similarity.
func DistanceToCosine(d float64) float64 {
	return 1 - d*d/2
}

