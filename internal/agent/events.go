package agent

// EventType names a chat progress event.
type EventType string

const (
	EventText           EventType = "text"
	EventToolCall       EventType = "tool_call"
	EventToolResult     EventType = "tool_result"
	EventSkillsUnlocked EventType = "skills_unlocked"
	EventDone           EventType = "done"
)

// Event is delivered to an Emitter while a turn is in progress.
type Event struct {
	Type     EventType       `json:"type"`
	Content  string          `json:"content,omitempty"`
	ToolCall *ToolCallRecord `json:"tool_call,omitempty"`
	Skills   []string        `json:"skills,omitempty"`
	Result   *ChatResult     `json:"result,omitempty"`
}

// Emitter receives events in order. It is called from the goroutine running
// the turn.
type Emitter func(Event)
