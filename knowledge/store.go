// Package knowledge is the fix memory: an append-only audit log of every
// failure and a similarity index mapping past errors to the code that fixed
// them. It also serves the physics concepts and renderer docs used while
// generating.
package knowledge

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"newton/shared"
)

// Namespaces inside the vector index.
const (
	NamespaceFixes      = "error-healing"
	NamespacePhysics    = "physics-knowledge"
	NamespaceReferences = "manim-docs"
)

const (
	DefaultFixThreshold       = 0.85
	DefaultKnowledgeThreshold = 0.7
	maxStoredArtifact         = 40000
)

var (
	lineNumberRe = regexp.MustCompile(`line \d+`)
	sceneFileRe  = regexp.MustCompile(`scene_\w+\.py`)
)

// HashError derives the stable ID of an error text. Line numbers and the
// per-run scene file name are masked so the same failure in two runs maps
// to the same ID.
func HashError(text string) string {
	n := strings.ToLower(strings.TrimSpace(text))
	n = lineNumberRe.ReplaceAllString(n, "line X")
	n = sceneFileRe.ReplaceAllString(n, "scene_X.py")
	sum := blake3.Sum256([]byte(n))
	return hex.EncodeToString(sum[:16])
}

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Document is a piece of reference material stored for retrieval.
type Document struct {
	ID       string
	Text     string // what gets embedded
	Metadata map[string]string
	Score    float64
}

// KnowledgeMatch is a physics concept close enough to the request.
type KnowledgeMatch struct {
	Concept  string
	Score    float64
	Metadata map[string]string
}

type Store struct {
	index    VectorIndex
	embedder Embedder
	audit    *AuditLog
	logger   *slog.Logger
	now      func() time.Time
}

func NewStore(index VectorIndex, embedder Embedder, audit *AuditLog, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{index: index, embedder: embedder, audit: audit, logger: logger, now: time.Now}
}

// LogError appends rec to the audit log, filling the ID and timestamp when
// they are unset.
func (s *Store) LogError(_ context.Context, rec shared.ErrorRecord) error {
	if rec.ErrorID == "" {
		rec.ErrorID = HashError(rec.ErrorExcerpt)
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}
	if rec.Topic == "" {
		rec.Topic = "General"
	}
	if err := s.audit.Append(rec); err != nil {
		return err
	}
	s.logger.Debug("Logged error", "error_id", rec.ErrorID, "kind", rec.ErrorKind)
	return nil
}

// LogFix upserts the fix keyed by the hash of its original error text.
// Records without an original error are ignored and reported as not stored.
func (s *Store) LogFix(ctx context.Context, rec shared.FixRecord) (bool, string, error) {
	if strings.TrimSpace(rec.OriginalErrorText) == "" {
		return false, "", nil
	}
	rec.ErrorID = HashError(rec.OriginalErrorText)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now().UTC()
	}
	if rec.Topic == "" {
		rec.Topic = "General"
	}
	vec := rec.EmbeddingVector
	if len(vec) == 0 {
		var err error
		vec, err = s.embedder.Embed(ctx, rec.OriginalErrorText)
		if err != nil {
			return false, rec.ErrorID, fmt.Errorf("embed original error: %w", err)
		}
	}

	item := Item{
		ID:     rec.ErrorID,
		Vector: vec,
		Metadata: map[string]string{
			"original_error": rec.OriginalErrorText,
			"original_code":  truncate(rec.OriginalArtifact, maxStoredArtifact),
			"fixed_code":     truncate(rec.FixedArtifact, maxStoredArtifact),
			"fix_method":     string(rec.FixMethod),
			"attempts":       strconv.Itoa(rec.Attempts),
			"topic":          rec.Topic,
			"timestamp":      rec.Timestamp.Format(time.RFC3339),
		},
	}
	if err := s.index.Upsert(ctx, NamespaceFixes, item); err != nil {
		return false, rec.ErrorID, fmt.Errorf("store fix: %w", err)
	}
	s.logger.Info("Learned new error fix", "error_id", rec.ErrorID, "method", rec.FixMethod, "attempts", rec.Attempts)
	return true, rec.ErrorID, nil
}

// FindSimilar returns the closest past fix whose score reaches threshold,
// or nil when there is none.
func (s *Store) FindSimilar(ctx context.Context, errorText string, threshold float64) (*shared.FixMatch, error) {
	if strings.TrimSpace(errorText) == "" {
		return nil, nil
	}
	hits, err := s.query(ctx, NamespaceFixes, errorText, 1)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 || hits[0].Score < threshold {
		return nil, nil
	}
	h := hits[0]
	return &shared.FixMatch{
		ErrorID:           h.ID,
		Similarity:        h.Score,
		OriginalErrorText: h.Metadata["original_error"],
		OriginalArtifact:  h.Metadata["original_code"],
		FixedArtifact:     h.Metadata["fixed_code"],
		FixMethod:         shared.FixMethod(h.Metadata["fix_method"]),
	}, nil
}

// FindKnowledge looks up the physics concept closest to text.
func (s *Store) FindKnowledge(ctx context.Context, text string, threshold float64) (*KnowledgeMatch, error) {
	hits, err := s.query(ctx, NamespacePhysics, text, 1)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 || hits[0].Score < threshold {
		return nil, nil
	}
	return &KnowledgeMatch{Concept: hits[0].Metadata["concept"], Score: hits[0].Score, Metadata: hits[0].Metadata}, nil
}

// Retrieve returns up to k documents from namespace ranked by similarity.
func (s *Store) Retrieve(ctx context.Context, namespace, text string, k int) ([]Document, error) {
	hits, err := s.query(ctx, namespace, text, k)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, Document{ID: h.ID, Text: h.Metadata["text"], Metadata: h.Metadata, Score: h.Score})
	}
	return docs, nil
}

// Ingest embeds and stores documents. The embedded text is kept in the
// "text" metadata field.
func (s *Store) Ingest(ctx context.Context, namespace string, docs []Document) (int, error) {
	items := make([]Item, 0, len(docs))
	for _, d := range docs {
		if d.ID == "" || strings.TrimSpace(d.Text) == "" {
			return 0, errors.New("document needs an id and text")
		}
		vec, err := s.embedder.Embed(ctx, d.Text)
		if err != nil {
			return 0, fmt.Errorf("embed %s: %w", d.ID, err)
		}
		meta := make(map[string]string, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			meta[k] = v
		}
		meta["text"] = d.Text
		items = append(items, Item{ID: d.ID, Vector: vec, Metadata: meta})
	}
	if err := s.index.Upsert(ctx, namespace, items...); err != nil {
		return 0, err
	}
	return len(items), nil
}

// Count reports how many entries a namespace holds.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	return s.index.Count(ctx, namespace)
}

// Errors returns the audit log contents.
func (s *Store) Errors() ([]shared.ErrorRecord, error) {
	return s.audit.ReadAll()
}

func (s *Store) query(ctx context.Context, namespace, text string, k int) ([]Hit, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := s.index.Query(ctx, namespace, vec, k)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", namespace, err)
	}
	return hits, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
