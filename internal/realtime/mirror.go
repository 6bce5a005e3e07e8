package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

// Mirror keeps an in-memory copy of a table keyed by row id. UPDATE events
// replace the row in place; INSERT and DELETE reload the whole set.
type Mirror[T any] struct {
	mu   sync.RWMutex
	key  func(T) string
	load func(ctx context.Context) ([]T, error)
	rows map[string]T
}

func NewMirror[T any](key func(T) string, load func(ctx context.Context) ([]T, error)) *Mirror[T] {
	return &Mirror[T]{key: key, load: load, rows: make(map[string]T)}
}

func (m *Mirror[T]) Reload(ctx context.Context) error {
	rows, err := m.load(ctx)
	if err != nil {
		return err
	}
	next := make(map[string]T, len(rows))
	for _, row := range rows {
		next[m.key(row)] = row
	}
	m.mu.Lock()
	m.rows = next
	m.mu.Unlock()
	return nil
}

// Apply folds one change event into the mirror.
func (m *Mirror[T]) Apply(ctx context.Context, e Event) error {
	if e.Type != EventUpdate || len(e.Row) == 0 {
		return m.Reload(ctx)
	}
	var row T
	if err := json.Unmarshal(e.Row, &row); err != nil {
		return m.Reload(ctx)
	}
	m.mu.Lock()
	m.rows[m.key(row)] = row
	m.mu.Unlock()
	return nil
}

func (m *Mirror[T]) Get(id string) (T, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	return row, ok
}

func (m *Mirror[T]) Snapshot() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]T, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row)
	}
	return out
}

func (m *Mirror[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}
