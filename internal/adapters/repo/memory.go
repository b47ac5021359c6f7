package repo

import (
	"context"
	"slices"
	"sync"

	"liuyan-board/internal/domain"
)

// Memory реализует domain.EntityStore в памяти процесса.
type Memory struct {
	mu    sync.RWMutex
	data  map[domain.Kind]map[string][]byte
	order map[domain.Kind][]string
}

var _ domain.EntityStore = (*Memory)(nil)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		data:  make(map[domain.Kind]map[string][]byte),
		order: make(map[domain.Kind][]string),
	}
}

// Get реализует domain.EntityStore.
func (m *Memory) Get(_ context.Context, kind domain.Kind, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.data[kind][id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return slices.Clone(raw), nil
}

// Put реализует domain.EntityStore.
func (m *Memory) Put(_ context.Context, kind domain.Kind, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(kind, id, data)
	return nil
}

func (m *Memory) putLocked(kind domain.Kind, id string, data []byte) {
	coll, ok := m.data[kind]
	if !ok {
		coll = make(map[string][]byte)
		m.data[kind] = coll
	}
	if _, exists := coll[id]; !exists {
		m.order[kind] = append(m.order[kind], id)
	}
	coll[id] = slices.Clone(data)
}

// Delete реализует domain.EntityStore.
func (m *Memory) Delete(_ context.Context, kind domain.Kind, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.data[kind]
	if !ok {
		return nil
	}
	if _, exists := coll[id]; !exists {
		return nil
	}
	delete(coll, id)
	m.order[kind] = slices.DeleteFunc(m.order[kind], func(v string) bool { return v == id })
	return nil
}

// List реализует domain.EntityStore.
func (m *Memory) List(_ context.Context, kind domain.Kind) ([]domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.order[kind]
	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Record{ID: id, Data: slices.Clone(m.data[kind][id])})
	}
	return out, nil
}

// EnsureSeeded реализует domain.EntityStore.
func (m *Memory) EnsureSeeded(_ context.Context, kind domain.Kind, seed []domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.data[kind]) > 0 {
		return nil
	}
	for _, rec := range seed {
		m.putLocked(kind, rec.ID, rec.Data)
	}
	return nil
}
