package memory

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
)

var phraseRe = regexp.MustCompile(`"([^"]*)"`)

// BuildMatchQuery turns free text into an FTS5 MATCH expression. Quoted phrases
// are kept as exact units and every other token is quoted, so punctuation in
// user input can never be parsed as FTS5 syntax. Clauses are ANDed. Empty input
// yields "" which matches nothing.
func BuildMatchQuery(query string) string {
	var clauses []string
	for _, m := range phraseRe.FindAllStringSubmatch(query, -1) {
		if phrase := strings.TrimSpace(m[1]); phrase != "" {
			clauses = append(clauses, quoteTerm(phrase))
		}
	}

	rest := phraseRe.ReplaceAllString(query, " ")
	for _, tok := range strings.Fields(rest) {
		clauses = append(clauses, quoteTerm(tok))
	}

	if len(clauses) == 0 {
		return `""`
	}
	return strings.Join(clauses, " AND ")
}

func quoteTerm(term string) string {
	return `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
}

// TextSearch returns up to k live records of userID ranked by BM25.
func (s *Store) TextSearch(ctx context.Context, query, userID string, k int) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, bm25(memories_fts) AS bm
		FROM memories_fts
		JOIN memories m ON m.row_id = memories_fts.rowid
		WHERE memories_fts MATCH ? AND m.user_id = ? AND m.deleted_at IS NULL
		ORDER BY bm ASC
		LIMIT ?`, BuildMatchQuery(query), userID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search lexical index: %w", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var (
			id   string
			rank float64
		)
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, err
		}
		hits = append(hits, Hit{ID: id, Score: bm25Score(rank)})
	}
	return hits, rows.Err()
}

// bm25Score maps SQLite's bm25 (negative, lower is better) into [0, 1], higher
// is better. Strong matches saturate at 1 in float64.
func bm25Score(rank float64) float64 {
	return 1.0 / (1.0 + math.Exp(rank))
}
