package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fyrsmithlabs/federated/internal/apperr"
)

const documentsTable = "documents"

// MemoryStore is an in-process table store.
//
// A query names a table; params filter rows by equality on the given
// columns. Rows are returned as copies.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string][]Row
	closed bool

	down atomic.Bool
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string][]Row)}
}

// Insert appends rows to table.
func (m *MemoryStore) Insert(table string, rows ...Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		m.tables[table] = append(m.tables[table], copyRow(row))
	}
}

// SetDown makes Ping and Query fail until reset.
func (m *MemoryStore) SetDown(down bool) {
	m.down.Store(down)
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error {
	if err := m.check(); err != nil {
		return err
	}
	return ctx.Err()
}

// Query implements Store.
func (m *MemoryStore) Query(ctx context.Context, query string, params map[string]any) ([]Row, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	table := strings.TrimSpace(query)
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.tables[table]
	if !ok {
		return nil, apperr.Errorf("store.MemoryStore.Query", apperr.ErrNotFound, "table %q", table)
	}

	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if matches(row, params) {
			out = append(out, copyRow(row))
		}
	}
	return out, nil
}

// PutDocument implements DocumentWriter, upserting into the documents table.
func (m *MemoryStore) PutDocument(_ context.Context, id, content string, metadata map[string]any) error {
	if err := m.check(); err != nil {
		return err
	}
	row := Row{"id": id, "content": content, "metadata": copyMap(metadata)}

	m.mu.Lock()
	defer m.mu.Unlock()
	docs := m.tables[documentsTable]
	for i, existing := range docs {
		if existing["id"] == id {
			docs[i] = row
			return nil
		}
	}
	m.tables[documentsTable] = append(docs, row)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryStore) check() error {
	if m.down.Load() {
		return fmt.Errorf("memory store marked down")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func matches(row Row, params map[string]any) bool {
	for k, want := range params {
		got, ok := row[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
