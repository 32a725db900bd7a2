package knowledge

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const createVectorsSQL = `
CREATE TABLE IF NOT EXISTS vectors (
    namespace  TEXT NOT NULL,
    id         TEXT NOT NULL,
    vector     BLOB NOT NULL,
    dims       INTEGER NOT NULL,
    metadata   TEXT NOT NULL DEFAULT '{}',
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (namespace, id)
);`

// SQLiteIndex persists vectors in SQLite and searches them by brute force.
// The stores here hold hundreds of entries, not millions.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex makes sure the vectors table exists.
func NewSQLiteIndex(ctx context.Context, db *sql.DB) (*SQLiteIndex, error) {
	if _, err := db.ExecContext(ctx, createVectorsSQL); err != nil {
		return nil, fmt.Errorf("create vectors table: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

func (s *SQLiteIndex) Upsert(ctx context.Context, namespace string, items ...Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO vectors (namespace, id, vector, dims, metadata, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(namespace, id) DO UPDATE SET
            vector     = excluded.vector,
            dims       = excluded.dims,
            metadata   = excluded.metadata,
            updated_at = excluded.updated_at;`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, it := range items {
		meta, err := json.Marshal(it.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", it.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, namespace, it.ID, encodeVector(it.Vector), len(it.Vector), string(meta), now); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", namespace, it.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Query(ctx context.Context, namespace string, vector []float32, k int) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vector, metadata FROM vectors WHERE namespace = ? AND dims = ?`,
		namespace, len(vector))
	if err != nil {
		return nil, fmt.Errorf("query vectors: %w", err)
	}
	defer rows.Close()

	var candidates []Item
	for rows.Next() {
		var (
			id   string
			blob []byte
			meta string
		)
		if err := rows.Scan(&id, &blob, &meta); err != nil {
			return nil, fmt.Errorf("scan vector row: %w", err)
		}
		it := Item{ID: id, Vector: decodeVector(blob)}
		if err := json.Unmarshal([]byte(meta), &it.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
		candidates = append(candidates, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topK(vector, candidates, k), nil
}

func (s *SQLiteIndex) Count(ctx context.Context, namespace string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors WHERE namespace = ?`, namespace).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", namespace, err)
	}
	return n, nil
}

func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
