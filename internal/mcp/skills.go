package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nidhogg/skillchat/internal/skill"
)

var unsafeID = regexp.MustCompile(`[^a-z0-9_]+`)

// SkillID returns the registry id for a server's tool.
func SkillID(server, tool string) string {
	id := "mcp_" + strings.ToLower(server) + "_" + strings.ToLower(tool)
	return strings.Trim(unsafeID.ReplaceAllString(id, "_"), "_")
}

// RegisterSkills adds every tool the connected client advertises to r as an
// integration skill. Remote tools start disabled and require approval.
// It returns the registered ids.
func RegisterSkills(r *skill.Registry, c *Client) []string {
	var ids []string
	for _, t := range c.Tools() {
		id := SkillID(c.Name(), t.Name)
		description := t.Description
		if description == "" {
			description = fmt.Sprintf("Call %s on the %s MCP server.", t.Name, c.Name())
		}
		r.Register(skill.Config{
			ID:               id,
			Name:             fmt.Sprintf("%s: %s", c.Name(), t.Name),
			Description:      description,
			Keywords:         keywords(c.Name(), t),
			Tier:             skill.TierIntegration,
			Category:         skill.CategoryIntegrations,
			RequiresApproval: true,
			RequiresNetwork:  true,
			InputSchema:      schemaOrEmpty(t.InputSchema),
			Executor:         toolExecutor(c, t.Name),
		})
		ids = append(ids, id)
	}
	return ids
}

func toolExecutor(c *Client, name string) skill.Executor {
	return skill.ExecutorFunc(func(ctx context.Context, input json.RawMessage) (string, error) {
		var args map[string]interface{}
		if err := skill.DecodeInput(input, &args); err != nil {
			return "", err
		}
		return c.CallTool(ctx, name, args)
	})
}

// keywords splits the server and tool names into search terms and adds
// the longer words of the description.
func keywords(server string, t Tool) []string {
	seen := map[string]bool{}
	var out []string
	add := func(w string) {
		w = strings.ToLower(strings.Trim(w, ".,:;()[]\"'"))
		if len(w) < 3 || seen[w] {
			return
		}
		seen[w] = true
		out = append(out, w)
	}
	split := func(s string) []string {
		return strings.FieldsFunc(s, func(r rune) bool {
			return r == '_' || r == '-' || r == '.' || r == ' ' || r == '/'
		})
	}
	add("mcp")
	for _, w := range split(server) {
		add(w)
	}
	for _, w := range split(t.Name) {
		add(w)
	}
	for _, w := range strings.Fields(t.Description) {
		if len(out) >= 12 {
			break
		}
		if len(w) > 4 {
			add(w)
		}
	}
	return out
}

func schemaOrEmpty(s map[string]interface{}) interface{} {
	if len(s) == 0 {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return s
}
