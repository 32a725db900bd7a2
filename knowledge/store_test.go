package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newton/db"
	"newton/shared"
)

// tableEmbedder returns fixed vectors for known texts and a constant vector
// otherwise.
type tableEmbedder struct {
	vectors map[string][]float32
}

func (e tableEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := e.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

// unitAt returns a unit vector whose cosine with [1, 0, 0] is c, up to float32 rounding.
func unitAt(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c)), 0}
}

func newTestStore(t *testing.T, idx VectorIndex, emb Embedder) *Store {
	t.Helper()
	audit, err := NewAuditLog(filepath.Join(t.TempDir(), "errors", "error_log.jsonl"))
	require.NoError(t, err)
	return NewStore(idx, emb, audit, nil)
}

func TestHashErrorMasksRunSpecificParts(t *testing.T) {
	a := HashError(`File "/app/scene_ab12cd34.py", line 12, in construct`)
	b := HashError(`  file "/app/scene_ffee0011.py", LINE 99, in construct  `)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, HashError(`File "/app/scene_ab12cd34.py", line 12, in setup`))
	assert.Len(t, a, 32)
}

func TestFindSimilarThresholdIsInclusive(t *testing.T) {
	const stored = "AttributeError: 'Dot' object has no attribute 'set_glow'"
	emb := tableEmbedder{vectors: map[string][]float32{
		stored:   {1, 0, 0},
		"exact":  unitAt(0.85),
		"below":  unitAt(0.84),
		"nearly": unitAt(0.99),
	}}
	s := newTestStore(t, NewMemoryIndex(), emb)
	ctx := context.Background()

	ok, id, err := s.LogFix(ctx, shared.FixRecord{
		OriginalErrorText: stored,
		OriginalArtifact:  "broken",
		FixedArtifact:     "fixed",
		FixMethod:         shared.FixMethodGenerated,
		Attempts:          1,
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, HashError(stored), id)

	m, err := s.FindSimilar(ctx, "nearly", DefaultFixThreshold)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "fixed", m.FixedArtifact)
	assert.Equal(t, "broken", m.OriginalArtifact)
	assert.Equal(t, shared.FixMethodGenerated, m.FixMethod)

	m, err = s.FindSimilar(ctx, "below", DefaultFixThreshold)
	require.NoError(t, err)
	assert.Nil(t, m)

	// A score equal to the threshold matches; a threshold just above the score does not.
	score, err := CosineSimilarity([]float32{1, 0, 0}, unitAt(0.85))
	require.NoError(t, err)
	assert.InDelta(t, 0.85, score, 1e-6)

	m, err = s.FindSimilar(ctx, "exact", score)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, score, m.Similarity)

	m, err = s.FindSimilar(ctx, "exact", math.Nextafter(score, 1))
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestLogFixLastWriteWins(t *testing.T) {
	emb := tableEmbedder{vectors: map[string][]float32{"err": {1, 0, 0}}}
	idx := NewMemoryIndex()
	s := newTestStore(t, idx, emb)
	ctx := context.Background()

	for _, fixed := range []string{"first", "second"} {
		_, _, err := s.LogFix(ctx, shared.FixRecord{OriginalErrorText: "err", FixedArtifact: fixed})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, idx.Len(NamespaceFixes))

	m, err := s.FindSimilar(ctx, "err", 0.85)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "second", m.FixedArtifact)
}

func TestLogFixWithoutOriginalErrorIsSkipped(t *testing.T) {
	idx := NewMemoryIndex()
	s := newTestStore(t, idx, tableEmbedder{})
	ok, _, err := s.LogFix(context.Background(), shared.FixRecord{FixedArtifact: "x"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, idx.Len(NamespaceFixes))
}

func TestLogErrorAppends(t *testing.T) {
	s := newTestStore(t, NewMemoryIndex(), tableEmbedder{})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.LogError(ctx, shared.ErrorRecord{
			ErrorKind:    shared.ErrorKindRuntime,
			ErrorExcerpt: fmt.Sprintf("Traceback line %d", i),
		}))
	}
	recs, err := s.Errors()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// line numbers are masked, so all three share an ID
	assert.Equal(t, recs[0].ErrorID, recs[2].ErrorID)
	assert.Equal(t, "General", recs[0].Topic)
	assert.False(t, recs[0].Timestamp.IsZero())
}

func TestAuditLogConcurrentAppends(t *testing.T) {
	audit, err := NewAuditLog(filepath.Join(t.TempDir(), "log.jsonl"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = audit.Append(shared.ErrorRecord{ErrorID: fmt.Sprint(i), ErrorExcerpt: strings.Repeat("x", 5000)})
		}(i)
	}
	wg.Wait()

	recs, err := audit.ReadAll()
	require.NoError(t, err)
	assert.Len(t, recs, 20)
}

func TestSQLiteIndex(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "vectors.db")+"?_journal_mode=WAL")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	idx, err := NewSQLiteIndex(ctx, db)
	require.NoError(t, err)

	require.NoError(t, idx.Upsert(ctx, "ns",
		Item{ID: "a", Vector: []float32{1, 0, 0}, Metadata: map[string]string{"v": "1"}},
		Item{ID: "b", Vector: []float32{0, 1, 0}, Metadata: map[string]string{"v": "2"}},
		Item{ID: "short", Vector: []float32{1, 0}},
	))
	require.NoError(t, idx.Upsert(ctx, "ns", Item{ID: "a", Vector: []float32{0.9, 0.1, 0}, Metadata: map[string]string{"v": "3"}}))
	require.NoError(t, idx.Upsert(ctx, "other", Item{ID: "z", Vector: []float32{1, 0, 0}}))

	hits, err := idx.Query(ctx, "ns", []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "3", hits[0].Metadata["v"])
	assert.Greater(t, hits[0].Score, hits[1].Score)

	n, err := idx.Count(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestIndexConcurrentUpsertAndQuery(t *testing.T) {
	tests := []struct {
		name  string
		index func(t *testing.T) VectorIndex
	}{
		{"memory", func(*testing.T) VectorIndex { return NewMemoryIndex() }},
		{"sqlite", func(t *testing.T) VectorIndex {
			d, err := db.InitDB(filepath.Join(t.TempDir(), "newton.db"))
			require.NoError(t, err)
			t.Cleanup(func() { d.Close() })
			idx, err := NewSQLiteIndex(context.Background(), d)
			require.NoError(t, err)
			return idx
		}},
	}

	const (
		writers = 40
		ids     = 5
	)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := tt.index(t)
			ctx := context.Background()

			errs := make(chan error, 2*writers)
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(2)
				go func(i int) {
					defer wg.Done()
					errs <- idx.Upsert(ctx, NamespaceFixes, Item{
						ID:       fmt.Sprintf("err-%d", i%ids),
						Vector:   []float32{1, float32(i), 0},
						Metadata: map[string]string{"writer": fmt.Sprint(i)},
					})
				}(i)
				go func() {
					defer wg.Done()
					_, err := idx.Query(ctx, NamespaceFixes, []float32{1, 0, 0}, 3)
					errs <- err
				}()
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			n, err := idx.Count(ctx, NamespaceFixes)
			require.NoError(t, err)
			assert.Equal(t, ids, n)

			hits, err := idx.Query(ctx, NamespaceFixes, []float32{1, 0, 0}, ids)
			require.NoError(t, err)
			require.Len(t, hits, ids)
			for _, h := range hits {
				assert.NotEmpty(t, h.Metadata["writer"])
			}
		})
	}
}

func TestIngestAndRetrieve(t *testing.T) {
	emb := tableEmbedder{vectors: map[string][]float32{
		"Mechanics - Pendulum: small swings": {1, 0, 0},
		"Waves - Doppler: moving source":     {0, 1, 0},
		"simple pendulum":                    {0.95, 0.05, 0},
	}}
	s := newTestStore(t, NewMemoryIndex(), emb)
	ctx := context.Background()

	docs, err := LoadConcepts(strings.NewReader(`[
        {"id": "p1", "topic": "Mechanics", "concept": "Pendulum", "explanation": "small swings", "latex_equations": ["T = 2\\pi\\sqrt{L/g}"]},
        {"id": "w1", "topic": "Waves", "concept": "Doppler", "explanation": "moving source"}
    ]`))
	require.NoError(t, err)
	n, err := s.Ingest(ctx, NamespacePhysics, docs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	km, err := s.FindKnowledge(ctx, "simple pendulum", DefaultKnowledgeThreshold)
	require.NoError(t, err)
	require.NotNil(t, km)
	assert.Equal(t, "Pendulum", km.Concept)
	assert.Contains(t, km.Metadata["latex_equations"], `\\pi`)

	got, err := s.Retrieve(ctx, NamespacePhysics, "simple pendulum", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID)

	total, err := s.Count(ctx, NamespacePhysics)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestCosineSimilarity(t *testing.T) {
	s, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0, s, 1e-9)

	s, err = CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Zero(t, s)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}
