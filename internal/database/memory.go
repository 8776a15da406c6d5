package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"filedrop/internal/drop"
)

// MemoryStore is an in-memory drop.MetadataStore and drop.DeadlineStore.
// State is lost when the process exits. Safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	fields    map[string]map[string][]byte // scope -> field -> value
	deadlines map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		fields:    make(map[string]map[string][]byte),
		deadlines: make(map[string]time.Time),
	}
}

func (m *MemoryStore) Get(ctx context.Context, scopeID, field string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.fields[scopeID][field]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), value...), nil
}

func (m *MemoryStore) Put(ctx context.Context, scopeID, field string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scope, ok := m.fields[scopeID]
	if !ok {
		scope = make(map[string][]byte)
		m.fields[scopeID] = scope
	}
	scope[field] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) DeleteAll(ctx context.Context, scopeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.fields, scopeID)
	delete(m.deadlines, scopeID)
	return nil
}

func (m *MemoryStore) SaveDeadline(ctx context.Context, scopeID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlines[scopeID] = at
	return nil
}

func (m *MemoryStore) DeleteDeadline(ctx context.Context, scopeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadlines, scopeID)
	return nil
}

func (m *MemoryStore) ListDeadlines(ctx context.Context) ([]drop.Deadline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deadlines := make([]drop.Deadline, 0, len(m.deadlines))
	for scopeID, at := range m.deadlines {
		deadlines = append(deadlines, drop.Deadline{ScopeID: scopeID, At: at})
	}
	sort.Slice(deadlines, func(i, j int) bool {
		if deadlines[i].At.Equal(deadlines[j].At) {
			return deadlines[i].ScopeID < deadlines[j].ScopeID
		}
		return deadlines[i].At.Before(deadlines[j].At)
	})
	return deadlines, nil
}

// Scopes returns the number of scopes holding at least one field.
func (m *MemoryStore) Scopes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fields)
}

func (m *MemoryStore) Close() error { return nil }

var (
	_ drop.MetadataStore = (*MemoryStore)(nil)
	_ drop.DeadlineStore = (*MemoryStore)(nil)
)
