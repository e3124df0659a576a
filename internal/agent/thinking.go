package agent

import (
	"time"
)

// StepType identifies the kind of thinking step.
type StepType string

const (
	StepReasoning    StepType = "reasoning"
	StepToolCall     StepType = "tool_call"
	StepToolResult   StepType = "tool_result"
	StepSkillsUnlock StepType = "skills_unlocked"
	StepResponse     StepType = "response"
)

// ThinkingChain records the trace of one chat turn.
type ThinkingChain struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Steps          []ThinkStep   `json:"steps"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

// ThinkStep is a single step in the thinking chain.
type ThinkStep struct {
	Type       StepType    `json:"type"`
	Content    string      `json:"content"`
	Detail     interface{} `json:"detail,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	TokensUsed int         `json:"tokens_used,omitempty"`
}

func (c *ThinkingChain) add(t StepType, content string, detail interface{}) {
	c.Steps = append(c.Steps, ThinkStep{
		Type:      t,
		Content:   content,
		Detail:    detail,
		Timestamp: time.Now(),
	})
}
