package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
)

// Tool is one callable entry of a tool-set handed to the language model.
type Tool struct {
	Name        string
	Description string
	InputSchema interface{}
	Executor    Executor
}

// ToolSet maps tool name to executable tool for a single model turn.
type ToolSet map[string]Tool

// Names returns the tool names with discover_skills first and the rest sorted.
func (ts ToolSet) Names() []string {
	names := make([]string, 0, len(ts))
	for name := range ts {
		if name != DiscoverToolName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := ts[DiscoverToolName]; ok {
		names = append([]string{DiscoverToolName}, names...)
	}
	return names
}

// Sorted returns the tools in Names order.
func (ts ToolSet) Sorted() []Tool {
	names := ts.Names()
	out := make([]Tool, len(names))
	for i, n := range names {
		out[i] = ts[n]
	}
	return out
}

// Execute runs the named tool.
func (ts ToolSet) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	t, ok := ts[name]
	if !ok || t.Executor == nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotAvailable, name)
	}
	return t.Executor.Execute(ctx, input)
}

// ErrToolNotAvailable is returned when the model calls a tool outside the current tool-set.
var ErrToolNotAvailable = fmt.Errorf("tool not available in this conversation")

// GenerateSchema reflects the JSON schema of T for use as a tool input schema.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

// DecodeInput unmarshals tool input, treating empty input as an empty object.
func DecodeInput(input json.RawMessage, v interface{}) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("parse input: %w", err)
	}
	return nil
}
