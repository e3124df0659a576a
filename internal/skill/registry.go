package skill

import (
	"sync"

	"go.uber.org/zap"
)

// Registry is the single source of truth for skill descriptors.
// Mutations are serialized; reads take a shared lock.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]*Descriptor
	order  []string
	logger *zap.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		skills: make(map[string]*Descriptor),
		logger: logger,
	}
}

// Register inserts or overwrites a descriptor by id. An overwrite keeps the
// original position in iteration order.
func (r *Registry) Register(cfg Config) {
	defaultEnabled := cfg.Tier.DefaultEnabled()
	if cfg.DefaultEnabled != nil {
		defaultEnabled = *cfg.DefaultEnabled
	}
	d := &Descriptor{
		ID:               cfg.ID,
		Name:             cfg.Name,
		Description:      cfg.Description,
		Keywords:         append([]string(nil), cfg.Keywords...),
		Tier:             cfg.Tier,
		Category:         cfg.Category,
		RequiresApproval: cfg.RequiresApproval,
		RequiresNetwork:  cfg.RequiresNetwork,
		DefaultEnabled:   defaultEnabled,
		Enabled:          defaultEnabled,
		inputSchema:      cfg.InputSchema,
		executor:         cfg.Executor,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.skills[cfg.ID]; !exists {
		r.order = append(r.order, cfg.ID)
	}
	r.skills[cfg.ID] = d
	r.logger.Debug("registered skill",
		zap.String("id", d.ID),
		zap.String("tier", string(d.Tier)),
		zap.Bool("enabled", d.Enabled))
}

// Get returns a copy of the descriptor for id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.skills[id]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.skills[id]
	return ok
}

// IsEnabled reports whether id is registered and currently enabled.
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.skills[id]
	return ok && d.Enabled
}

// SetEnabled toggles a skill. It returns false when id is unknown.
func (r *Registry) SetEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.skills[id]
	if !ok {
		return false
	}
	d.Enabled = enabled
	r.logger.Info("skill enablement changed", zap.String("id", id), zap.Bool("enabled", enabled))
	return true
}

// ResetToDefaults restores every descriptor's Enabled to its DefaultEnabled.
func (r *Registry) ResetToDefaults() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.skills {
		d.Enabled = d.DefaultEnabled
	}
	r.logger.Info("skill enablement reset to defaults", zap.Int("skills", len(r.skills)))
}

// GetAllSkills returns every descriptor in registration order.
func (r *Registry) GetAllSkills() []Descriptor {
	return r.collect(func(*Descriptor) bool { return true })
}

// GetEnabledSkills returns the enabled descriptors in registration order.
func (r *Registry) GetEnabledSkills() []Descriptor {
	return r.collect(func(d *Descriptor) bool { return d.Enabled })
}

// GetSkillsByTier groups descriptors by tier. Every tier has an entry.
func (r *Registry) GetSkillsByTier() map[Tier][]Descriptor {
	out := make(map[Tier][]Descriptor, len(Tiers))
	for _, t := range Tiers {
		out[t] = []Descriptor{}
	}
	for _, d := range r.GetAllSkills() {
		out[d.Tier] = append(out[d.Tier], d)
	}
	return out
}

// GetSkillsByCategory groups descriptors by category. Every category has an entry.
func (r *Registry) GetSkillsByCategory() map[Category][]Descriptor {
	out := make(map[Category][]Descriptor, len(Categories))
	for _, c := range Categories {
		out[c] = []Descriptor{}
	}
	for _, d := range r.GetAllSkills() {
		out[d.Category] = append(out[d.Category], d)
	}
	return out
}

// GetSkillCounts counts descriptors per category, including empty categories.
func (r *Registry) GetSkillCounts() map[Category]int {
	out := make(map[Category]int, len(Categories))
	for _, c := range Categories {
		out[c] = 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.skills {
		out[d.Category]++
	}
	return out
}

// Len returns the number of registered skills.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.skills)
}

func (r *Registry) collect(keep func(*Descriptor) bool) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		if d := r.skills[id]; keep(d) {
			out = append(out, *d)
		}
	}
	return out
}
