package memory

import (
	"context"
	"sync"
	"time"
)

// InMemory keeps facts in a process-local map.
type InMemory struct {
	mu    sync.Mutex
	facts map[string]Fact
	now   func() time.Time
}

// NewInMemory creates an empty in-process store.
func NewInMemory() *InMemory {
	return &InMemory{facts: make(map[string]Fact), now: time.Now}
}

// Remember implements Store.
func (m *InMemory) Remember(_ context.Context, key, value string) (Fact, error) {
	key = NormalizeKey(key)
	if key == "" {
		return Fact{}, ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	f, ok := m.facts[key]
	if !ok {
		f = Fact{Key: key, CreatedAt: now}
	}
	f.Value = value
	f.UpdatedAt = now
	m.facts[key] = f
	return f, nil
}

// Recall implements Store. Returned facts have their access count bumped.
func (m *InMemory) Recall(_ context.Context, query string, limit int) ([]Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]Fact, 0, len(m.facts))
	for _, f := range m.facts {
		all = append(all, f)
	}
	out := rank(all, query, limit, m.now())
	for i := range out {
		f := m.facts[out[i].Key]
		f.AccessCount++
		m.facts[f.Key] = f
		out[i].AccessCount = f.AccessCount
	}
	return out, nil
}

// Forget implements Store.
func (m *InMemory) Forget(_ context.Context, key string) (bool, error) {
	key = NormalizeKey(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.facts[key]; !ok {
		return false, nil
	}
	delete(m.facts, key)
	return true, nil
}
