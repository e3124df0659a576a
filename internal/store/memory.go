package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/skillchat/internal/provider"
	"github.com/nidhogg/skillchat/internal/toolstate"
)

// Memory is an in-process implementation of every store interface, used by
// the "memory" database driver and by tests.
type Memory struct {
	mu       sync.RWMutex
	messages map[string][]provider.Message
	states   map[string][]byte
	notes    map[string]Note
	tasks    map[string]Task
	order    []string
	now      func() time.Time
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		messages: make(map[string][]provider.Message),
		states:   make(map[string][]byte),
		notes:    make(map[string]Note),
		tasks:    make(map[string]Task),
		now:      time.Now,
	}
}

// AppendMessage stores a message for the conversation.
func (m *Memory) AppendMessage(_ context.Context, conversationID string, msg provider.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	return nil
}

// GetMessages returns the last limit messages, oldest first.
func (m *Memory) GetMessages(_ context.Context, conversationID string, limit int) ([]provider.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]provider.Message(nil), msgs...), nil
}

// DeleteMessages drops a conversation's transcript.
func (m *Memory) DeleteMessages(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, conversationID)
	return nil
}

// SaveToolState implements toolstate.Snapshotter.
func (m *Memory) SaveToolState(_ context.Context, s toolstate.State) error {
	b, err := toolstate.MarshalState(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.ConversationID] = b
	return nil
}

// LoadToolState implements toolstate.Snapshotter.
func (m *Memory) LoadToolState(_ context.Context, conversationID string) (toolstate.State, bool, error) {
	m.mu.RLock()
	b, ok := m.states[conversationID]
	m.mu.RUnlock()
	if !ok {
		return toolstate.State{}, false, nil
	}
	s, err := toolstate.UnmarshalState(b)
	if err != nil {
		return toolstate.State{}, false, err
	}
	return s, true, nil
}

// DeleteToolState implements toolstate.Snapshotter.
func (m *Memory) DeleteToolState(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, conversationID)
	return nil
}

// SaveNote creates or updates a note. A missing id is generated.
func (m *Memory) SaveNote(_ context.Context, n *Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if prev, ok := m.notes[n.ID]; ok {
		n.CreatedAt = prev.CreatedAt
	} else {
		n.CreatedAt = now
	}
	n.UpdatedAt = now
	m.notes[n.ID] = *n
	return nil
}

// GetNote returns a note by id.
func (m *Memory) GetNote(_ context.Context, id string) (Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notes[id]
	if !ok {
		return Note{}, ErrNotFound
	}
	return n, nil
}

// ListNotes returns matching notes, most recently updated first.
func (m *Memory) ListNotes(_ context.Context, f NoteFilter) ([]Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Note{}
	for _, n := range m.notes {
		if f.match(n) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > f.limit() {
		out = out[:f.limit()]
	}
	return out, nil
}

// DeleteNote removes a note.
func (m *Memory) DeleteNote(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notes[id]; !ok {
		return ErrNotFound
	}
	delete(m.notes, id)
	return nil
}

// AddTask stores a new task.
func (m *Memory) AddTask(_ context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.CreatedAt = m.now()
	if _, ok := m.tasks[t.ID]; !ok {
		m.order = append(m.order, t.ID)
	}
	m.tasks[t.ID] = *t
	return nil
}

// ListTasks returns tasks in insertion order.
func (m *Memory) ListTasks(_ context.Context, includeDone bool) ([]Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Task{}
	for _, id := range m.order {
		t := m.tasks[id]
		if t.Done && !includeDone {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// CompleteTask marks a task done.
func (m *Memory) CompleteTask(_ context.Context, id string) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	if !t.Done {
		now := m.now()
		t.Done = true
		t.CompletedAt = &now
		m.tasks[id] = t
	}
	return t, nil
}

// DeleteTask removes a task.
func (m *Memory) DeleteTask(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}
