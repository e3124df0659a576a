package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const defaultSystemPrompt = `You are a helpful assistant running on the user's own machine.
Answer directly when you can. When a request needs a capability you do not have yet
(arithmetic, notes, tasks, memory, formatting or parsing data, fetching web pages, posting
messages), call the discover_skills tool with a few words describing that capability, for
example "math" or "save note". Skills it finds become callable on your next step and stay
available for the rest of the conversation.`

// LoadProfile reads the markdown files of a prompt profile directory and
// joins them, in order, for system prompt injection. Missing files are skipped.
func LoadProfile(dir string) string {
	var parts []string
	for _, f := range []string{"SYSTEM.md", "STYLE.md", "USER.md"} {
		data, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// systemPrompt combines the base prompt with the skills currently offered.
func systemPrompt(base string, loaded []string) string {
	if base == "" {
		base = defaultSystemPrompt
	}
	if len(loaded) == 0 {
		return base
	}
	return fmt.Sprintf("%s\n\nSkills already available in this conversation: %s.", base, strings.Join(loaded, ", "))
}
