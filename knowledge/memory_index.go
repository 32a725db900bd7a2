package knowledge

import (
	"context"
	"maps"
	"sync"
)

// MemoryIndex keeps vectors in process memory. Used for tests and for
// runs that opt out of persistence.
type MemoryIndex struct {
	mu    sync.RWMutex
	items map[string]map[string]Item
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{items: make(map[string]map[string]Item)}
}

func (m *MemoryIndex) Upsert(_ context.Context, namespace string, items ...Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.items[namespace]
	if !ok {
		ns = make(map[string]Item)
		m.items[namespace] = ns
	}
	for _, it := range items {
		cp := Item{ID: it.ID, Vector: append([]float32(nil), it.Vector...), Metadata: maps.Clone(it.Metadata)}
		ns[it.ID] = cp
	}
	return nil
}

func (m *MemoryIndex) Query(ctx context.Context, namespace string, vector []float32, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	candidates := make([]Item, 0, len(m.items[namespace]))
	for _, it := range m.items[namespace] {
		candidates = append(candidates, it)
	}
	m.mu.RUnlock()
	return topK(vector, candidates, k), nil
}

func (m *MemoryIndex) Count(_ context.Context, namespace string) (int, error) {
	return m.Len(namespace), nil
}

// Len reports how many items a namespace holds.
func (m *MemoryIndex) Len(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items[namespace])
}
