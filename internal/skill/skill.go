package skill

import (
	"context"
	"encoding/json"
)

// Tier is a coarse trust/risk classification that governs default enablement.
type Tier string

const (
	TierCore        Tier = "core"
	TierEnhanced    Tier = "enhanced"
	TierNetwork     Tier = "network"
	TierIntegration Tier = "integration"
)

// Tiers lists every tier in display order.
var Tiers = []Tier{TierCore, TierEnhanced, TierNetwork, TierIntegration}

// DefaultEnabled reports whether skills of this tier start enabled.
func (t Tier) DefaultEnabled() bool {
	return t == TierCore || t == TierEnhanced
}

// Category is a coarse filter dimension for skills.
type Category string

const (
	CategoryProductivity Category = "productivity"
	CategoryDeveloper    Category = "developer"
	CategoryNetwork      Category = "network"
	CategoryIntegrations Category = "integrations"
)

// Categories lists every category in display order.
var Categories = []Category{CategoryProductivity, CategoryDeveloper, CategoryNetwork, CategoryIntegrations}

// ParseCategory maps a wire value to a Category. "all" and "" map to the
// empty category, meaning no filter.
func ParseCategory(s string) (Category, bool) {
	if s == "" || s == "all" {
		return "", true
	}
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// ParseTier maps a wire value to a Tier.
func ParseTier(s string) (Tier, bool) {
	for _, t := range Tiers {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Executor runs a skill with opaque JSON input.
type Executor interface {
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, input json.RawMessage) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	return f(ctx, input)
}

// Config is what a skill implementation supplies at registration time.
// DefaultEnabled is a pointer so that "not supplied" can fall back to the tier rule.
type Config struct {
	ID               string
	Name             string
	Description      string
	Keywords         []string
	Tier             Tier
	Category         Category
	RequiresApproval bool
	RequiresNetwork  bool
	DefaultEnabled   *bool
	InputSchema      interface{}
	Executor         Executor
}

// Descriptor is the registry's metadata record for one skill.
type Descriptor struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	Keywords         []string `json:"keywords"`
	Tier             Tier     `json:"tier"`
	Category         Category `json:"category"`
	RequiresApproval bool     `json:"requires_approval"`
	RequiresNetwork  bool     `json:"requires_network"`
	DefaultEnabled   bool     `json:"default_enabled"`
	Enabled          bool     `json:"enabled"`

	inputSchema interface{}
	executor    Executor
}

// Executable reports whether the descriptor carries an execute capability.
func (d Descriptor) Executable() bool { return d.executor != nil }

// Tool builds the model-facing tool for this skill, keyed by its id.
func (d Descriptor) Tool() Tool {
	return Tool{
		Name:        d.ID,
		Description: d.Description,
		InputSchema: d.inputSchema,
		Executor:    d.executor,
	}
}

// Enable returns a pointer to b, for Config.DefaultEnabled literals.
func Enable(b bool) *bool { return &b }
