package repository

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps encoded records in a map. Records are stored as
// JSON so callers never share mutable state with the store.
type MemoryRepository[T Entity] struct {
	mu         sync.Mutex
	collection string
	records    map[string][]byte
}

// NewMemoryRepository creates an empty in-memory collection.
func NewMemoryRepository[T Entity](collection string) *MemoryRepository[T] {
	return &MemoryRepository[T]{collection: collection, records: make(map[string][]byte)}
}

func (r *MemoryRepository[T]) List(ctx context.Context) ([]T, error) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.records))
	snapshot := make(map[string][]byte, len(r.records))
	for id, data := range r.records {
		ids = append(ids, id)
		snapshot[id] = data
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return decodeAll[T](ctx, r.collection, ids, func(id string) []byte { return snapshot[id] }), nil
}

func (r *MemoryRepository[T]) Get(_ context.Context, id string) (T, error) {
	r.mu.Lock()
	data, ok := r.records[id]
	r.mu.Unlock()

	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return decode[T](r.collection, id, data)
}

func (r *MemoryRepository[T]) Save(_ context.Context, entity T) error {
	data, err := encode(entity)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.records[entity.EntityID()] = data
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository[T]) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.records, id)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository[T]) Take(_ context.Context, id string) (T, error) {
	r.mu.Lock()
	data, ok := r.records[id]
	delete(r.records, id)
	r.mu.Unlock()

	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return decode[T](r.collection, id, data)
}
