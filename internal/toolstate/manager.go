// Package toolstate tracks which skills each conversation has unlocked and
// builds the tool-set offered to the model on every turn.
package toolstate

import (
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/skillchat/internal/skill"
	"go.uber.org/zap"
)

// DiscoveryEvent records one discovery call, whatever it unlocked.
type DiscoveryEvent struct {
	Query     string    `json:"query"`
	Category  string    `json:"category,omitempty"`
	Results   []string  `json:"results"`
	Timestamp time.Time `json:"timestamp"`
}

// Manager owns the unlocked skill set and discovery log of one conversation.
type Manager struct {
	conversationID string
	registry       *skill.Registry
	discovery      skill.Tool
	maxHistory     int
	now            func() time.Time
	logger         *zap.Logger

	mu       sync.Mutex
	unlocked map[string]struct{}
	history  []DiscoveryEvent
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxHistory caps the discovery log; the oldest entries are dropped. Zero
// keeps every entry.
func WithMaxHistory(n int) ManagerOption {
	return func(m *Manager) { m.maxHistory = n }
}

// WithClock overrides the time source used for discovery timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates the state for one conversation.
func NewManager(conversationID string, registry *skill.Registry, discovery *skill.Discovery, logger *zap.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		conversationID: conversationID,
		registry:       registry,
		discovery:      discovery.Tool(),
		now:            time.Now,
		logger:         logger,
		unlocked:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConversationID returns the key this manager was created for.
func (m *Manager) ConversationID() string { return m.conversationID }

// OnSkillsDiscovered unlocks the enabled skills among skillIDs and always logs
// the discovery call. It returns the ids that were newly unlocked.
func (m *Manager) OnSkillsDiscovered(query string, skillIDs []string, category string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := m.unlockLocked(skillIDs)
	m.history = append(m.history, DiscoveryEvent{
		Query:     query,
		Category:  category,
		Results:   append([]string(nil), skillIDs...),
		Timestamp: m.now(),
	})
	m.capHistoryLocked()
	return added
}

// LoadSkills unlocks the enabled skills among skillIDs without logging a
// discovery event. It returns the ids that were newly unlocked.
func (m *Manager) LoadSkills(skillIDs []string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlockLocked(skillIDs)
}

func (m *Manager) unlockLocked(skillIDs []string) []string {
	var added []string
	for _, id := range skillIDs {
		if !m.registry.IsEnabled(id) {
			m.logger.Debug("skipping unknown or disabled skill",
				zap.String("conversation", m.conversationID),
				zap.String("skill", id))
			continue
		}
		if _, ok := m.unlocked[id]; ok {
			continue
		}
		m.unlocked[id] = struct{}{}
		added = append(added, id)
	}
	return added
}

// UnloadSkill removes id from the unlocked set. It reports whether id was present.
func (m *Manager) UnloadSkill(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.unlocked[id]
	delete(m.unlocked, id)
	return ok
}

// GetToolsForRequest returns discover_skills plus every unlocked skill that is
// still enabled and executable. Enablement is re-checked on every call;
// disabled skills are omitted but stay unlocked.
func (m *Manager) GetToolsForRequest() skill.ToolSet {
	m.mu.Lock()
	defer m.mu.Unlock()

	tools := make(skill.ToolSet, len(m.unlocked)+1)
	tools[skill.DiscoverToolName] = m.discovery
	for id := range m.unlocked {
		d, ok := m.registry.Get(id)
		if !ok || !d.Enabled || !d.Executable() {
			continue
		}
		tools[id] = d.Tool()
	}
	return tools
}

// GetLoadedSkillIDs returns the unlocked ids in sorted order.
func (m *Manager) GetLoadedSkillIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadedIDsLocked()
}

func (m *Manager) loadedIDsLocked() []string {
	ids := make([]string, 0, len(m.unlocked))
	for id := range m.unlocked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetLoadedSkillNames returns display names of the unlocked skills that are
// still registered, ordered by id.
func (m *Manager) GetLoadedSkillNames() []string {
	ids := m.GetLoadedSkillIDs()
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if d, ok := m.registry.Get(id); ok {
			names = append(names, d.Name)
		}
	}
	return names
}

// GetLoadedSkillCount counts the skills currently offered to the model,
// excluding discover_skills.
func (m *Manager) GetLoadedSkillCount() int {
	return len(m.GetToolsForRequest()) - 1
}

// GetDiscoveryHistory returns a copy of the discovery log, oldest first.
func (m *Manager) GetDiscoveryHistory() []DiscoveryEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyHistory(m.history)
}

func copyHistory(events []DiscoveryEvent) []DiscoveryEvent {
	out := make([]DiscoveryEvent, len(events))
	for i, ev := range events {
		ev.Results = append([]string(nil), ev.Results...)
		out[i] = ev
	}
	return out
}

// capHistoryLocked keeps the newest maxHistory events.
func (m *Manager) capHistoryLocked() {
	if m.maxHistory > 0 && len(m.history) > m.maxHistory {
		m.history = append([]DiscoveryEvent(nil), m.history[len(m.history)-m.maxHistory:]...)
	}
}

// IsSkillLoaded reports whether id is in the unlocked set, regardless of
// its current enablement.
func (m *Manager) IsSkillLoaded(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.unlocked[id]
	return ok
}

// Reset clears the unlocked set and the discovery log.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlocked = make(map[string]struct{})
	m.history = nil
}

// ExportState serializes the conversation state for an external store.
func (m *Manager) ExportState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		ConversationID:   m.conversationID,
		LoadedSkills:     m.loadedIDsLocked(),
		DiscoveryHistory: copyHistory(m.history),
	}
}

// ImportState replaces the current state with s. Loaded skills go through the
// same enablement gate as LoadSkills; the discovery log is copied and capped
// like a live one.
func (m *Manager) ImportState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ConversationID != "" && s.ConversationID != m.conversationID {
		m.logger.Debug("importing state from another conversation",
			zap.String("conversation", m.conversationID),
			zap.String("source", s.ConversationID))
	}
	m.unlocked = make(map[string]struct{})
	m.unlockLocked(s.LoadedSkills)
	m.history = copyHistory(s.DiscoveryHistory)
	m.capHistoryLocked()
}
