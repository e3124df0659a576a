package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/skillchat/internal/skill"
)

// RegisterBuiltins registers /help, /skills, /discover, /load, /unload and /reset.
func RegisterBuiltins(reg *Registry, registry *skill.Registry, discovery *skill.Discovery) {
	reg.Register(helpCommand(reg))
	reg.Register(skillsCommand())
	reg.Register(discoverCommand(discovery))
	reg.Register(loadCommand(registry))
	reg.Register(unloadCommand())
	reg.Register(resetCommand())
}

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range reg.List() {
				fmt.Fprintf(&b, "  /%s: %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

func skillsCommand() *Command {
	return &Command{
		Name:        "skills",
		Description: "List skills loaded in this conversation",
		Usage:       "/skills",
		Handler: func(_ context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			ids := cc.Manager.GetLoadedSkillIDs()
			if len(ids) == 0 {
				return &CommandResult{Content: "No skills loaded yet. Ask for something, or use /discover.", Data: ids}, nil
			}
			names := cc.Manager.GetLoadedSkillNames()
			return &CommandResult{
				Content: fmt.Sprintf("Loaded skills: %s", strings.Join(names, ", ")),
				Data:    ids,
			}, nil
		},
	}
}

// discoverCommand runs a discovery search and unlocks the matches, exactly
// as if the model had called the discovery tool.
func discoverCommand(discovery *skill.Discovery) *Command {
	return &Command{
		Name:        "discover",
		Description: "Find skills for a capability and load them",
		Usage:       "/discover <query> [in <category>]",
		Handler: func(_ context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			query, category := splitCategory(args)
			res, err := discovery.Discover(query, category)
			if err != nil {
				return &CommandResult{Content: "Usage: /discover <query> [in <category>]"}, nil
			}
			query = res.Query
			filter := category
			if filter == "all" {
				filter = ""
			}
			cc.Manager.OnSkillsDiscovered(query, res.SkillIDs, filter)
			return &CommandResult{Content: res.Message, Data: res}, nil
		},
	}
}

// splitCategory separates a trailing "in <category>" from a discover query.
// The suffix only counts when it names a category, so "notes in markdown"
// stays one query.
func splitCategory(args string) (query, category string) {
	args = strings.TrimSpace(args)
	i := strings.LastIndex(args, " in ")
	if i < 0 {
		return args, ""
	}
	c := strings.TrimSpace(args[i+len(" in "):])
	if _, ok := skill.ParseCategory(c); !ok || c == "" {
		return args, ""
	}
	return strings.TrimSpace(args[:i]), c
}

func loadCommand(registry *skill.Registry) *Command {
	return &Command{
		Name:        "load",
		Description: "Load skills by id",
		Usage:       "/load <id> [id...]",
		Handler: func(_ context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			ids := strings.Fields(args)
			if len(ids) == 0 {
				return &CommandResult{Content: "Usage: /load <id> [id...]"}, nil
			}
			added := cc.Manager.LoadSkills(ids)
			var skipped []string
			for _, id := range ids {
				if !cc.Manager.IsSkillLoaded(id) {
					skipped = append(skipped, id)
				}
			}
			var b strings.Builder
			if len(added) > 0 {
				fmt.Fprintf(&b, "Loaded: %s.", strings.Join(added, ", "))
			} else {
				b.WriteString("Nothing new loaded.")
			}
			for _, id := range skipped {
				if _, ok := registry.Get(id); !ok {
					fmt.Fprintf(&b, " %s is not a known skill.", id)
				} else {
					fmt.Fprintf(&b, " %s is disabled.", id)
				}
			}
			return &CommandResult{Content: b.String(), Data: added}, nil
		},
	}
}

func unloadCommand() *Command {
	return &Command{
		Name:        "unload",
		Description: "Remove a skill from this conversation",
		Usage:       "/unload <id>",
		Handler: func(_ context.Context, args string, cc *CommandContext) (*CommandResult, error) {
			id := strings.TrimSpace(args)
			if id == "" {
				return &CommandResult{Content: "Usage: /unload <id>"}, nil
			}
			if !cc.Manager.UnloadSkill(id) {
				return &CommandResult{Content: fmt.Sprintf("%s is not loaded.", id)}, nil
			}
			return &CommandResult{Content: fmt.Sprintf("Unloaded %s.", id)}, nil
		},
	}
}

func resetCommand() *Command {
	return &Command{
		Name:        "reset",
		Description: "Unload every skill and clear the discovery log",
		Usage:       "/reset",
		Handler: func(_ context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			cc.Manager.Reset()
			return &CommandResult{Content: "Tool state cleared."}, nil
		},
	}
}
