package skill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DiscoverToolName is the well-known name of the always-available discovery tool.
const DiscoverToolName = "discover_skills"

// Discovery input errors.
var (
	ErrEmptyQuery      = errors.New("query is required")
	ErrUnknownCategory = errors.New("unknown category")
)

// DiscoveryLimit caps how many skills one discovery call can return.
const DiscoveryLimit = 5

const discoverDescription = "Search for skills (tools) that can help with the current request. " +
	"Describe the capability you need in a few words, e.g. \"math\", \"save a note\", \"format json\". " +
	"Matching skills are unlocked and can be called directly from your next step."

// DiscoverInput is the request schema of discover_skills.
type DiscoverInput struct {
	Query    string `json:"query" jsonschema:"minLength=1,description=What capability is needed (e.g. 'math' or 'save note')"`
	Category string `json:"category,omitempty" jsonschema:"enum=all,enum=productivity,enum=developer,enum=network,enum=integrations,default=all,description=Optional category filter"`
}

// SkillSummary is the model-facing view of a matched skill.
type SkillSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Tier        Tier   `json:"tier"`
}

// DiscoveryResult is the response schema of discover_skills.
type DiscoveryResult struct {
	Skills   []SkillSummary `json:"skills"`
	SkillIDs []string       `json:"skillIds"`
	Message  string         `json:"message"`
	Query    string         `json:"query"`
	Category string         `json:"category"`
}

// Discovery turns capability queries into ranked skill shortlists. It holds
// no conversation state.
type Discovery struct {
	registry *Registry
}

// NewDiscovery creates a Discovery over registry.
func NewDiscovery(registry *Registry) *Discovery {
	return &Discovery{registry: registry}
}

// Search runs a discovery query. category "" or "all" means no filter; an
// unrecognized category also falls back to no filter.
func (d *Discovery) Search(query, category string) DiscoveryResult {
	if category == "" {
		category = "all"
	}
	cat, _ := ParseCategory(category)

	matches := d.registry.Search(query, SearchOptions{
		Category:    cat,
		EnabledOnly: true,
		Limit:       DiscoveryLimit,
	})

	res := DiscoveryResult{
		Skills:   make([]SkillSummary, len(matches)),
		SkillIDs: make([]string, len(matches)),
		Query:    query,
		Category: category,
	}
	for i, m := range matches {
		res.Skills[i] = SkillSummary{ID: m.ID, Name: m.Name, Description: m.Description, Tier: m.Tier}
		res.SkillIDs[i] = m.ID
	}
	res.Message = d.message(query, matches)
	return res
}

func (d *Discovery) message(query string, matches []Descriptor) string {
	switch len(matches) {
	case 0:
		msg := fmt.Sprintf("Sorry, no skills matched %q.", query)
		counts := d.registry.GetSkillCounts()
		var available []string
		for _, c := range Categories {
			if counts[c] > 0 {
				available = append(available, string(c))
			}
		}
		if len(available) > 0 {
			msg += " Available categories: " + strings.Join(available, ", ") + "."
		}
		return msg
	case 1:
		return fmt.Sprintf("Found the %q skill. It's now available for use.", matches[0].Name)
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return fmt.Sprintf("Found %d skills: %s. They're now available for use.", len(matches), strings.Join(names, ", "))
	}
}

// Discover validates a query and category and then runs Search. Every
// entry point that takes discovery input from outside goes through here.
func (d *Discovery) Discover(query, category string) (DiscoveryResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return DiscoveryResult{}, ErrEmptyQuery
	}
	if _, ok := ParseCategory(category); !ok {
		return DiscoveryResult{}, fmt.Errorf("%w %q", ErrUnknownCategory, category)
	}
	return d.Search(query, category), nil
}

// Tool wraps Discovery as the discover_skills tool.
func (d *Discovery) Tool() Tool {
	return Tool{
		Name:        DiscoverToolName,
		Description: discoverDescription,
		InputSchema: GenerateSchema[DiscoverInput](),
		Executor: ExecutorFunc(func(ctx context.Context, input json.RawMessage) (string, error) {
			var in DiscoverInput
			if err := DecodeInput(input, &in); err != nil {
				return "", err
			}
			res, err := d.Discover(in.Query, in.Category)
			if err != nil {
				return "", err
			}
			b, err := json.Marshal(res)
			if err != nil {
				return "", fmt.Errorf("marshal discovery result: %w", err)
			}
			return string(b), nil
		}),
	}
}

// ParseDiscoveryResult decodes the output of the discover_skills tool.
func ParseDiscoveryResult(output string) (DiscoveryResult, error) {
	var res DiscoveryResult
	if err := json.Unmarshal([]byte(output), &res); err != nil {
		return DiscoveryResult{}, fmt.Errorf("decode discovery result: %w", err)
	}
	return res, nil
}
