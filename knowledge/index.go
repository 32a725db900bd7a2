package knowledge

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Item is one stored vector with its payload.
type Item struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Hit is an Item returned by a query with its cosine score.
type Hit struct {
	Item
	Score float64
}

// VectorIndex stores vectors per namespace. Upsert replaces an existing ID
// (last write wins). Implementations must be safe for concurrent use.
type VectorIndex interface {
	Upsert(ctx context.Context, namespace string, items ...Item) error
	Query(ctx context.Context, namespace string, vector []float32, k int) ([]Hit, error)
	Count(ctx context.Context, namespace string) (int, error)
}

// CosineSimilarity returns a value in [-1, 1]; zero vectors score 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}
	var dot, am, bm float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		am += x * x
		bm += y * y
	}
	if am == 0 || bm == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(am) * math.Sqrt(bm)), nil
}

// topK scores every candidate and keeps the k best. Candidates with a
// different dimension are skipped. Ties keep ID order so results are stable.
func topK(query []float32, candidates []Item, k int) []Hit {
	if k <= 0 {
		k = 1
	}
	hits := make([]Hit, 0, len(candidates))
	for _, c := range candidates {
		score, err := CosineSimilarity(query, c.Vector)
		if err != nil {
			continue
		}
		hits = append(hits, Hit{Item: c, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
