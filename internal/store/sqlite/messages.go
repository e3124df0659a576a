package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/skillchat/internal/provider"
)

type messageRow struct {
	Role       string `db:"role"`
	Content    string `db:"content"`
	Name       string `db:"name"`
	ToolCalls  string `db:"tool_calls"`
	ToolCallID string `db:"tool_call_id"`
}

// AppendMessage stores a message in the conversation transcript.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg provider.Message) error {
	var toolCalls string
	if len(msg.ToolCalls) > 0 {
		b, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool_calls: %w", err)
		}
		toolCalls = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, role, content, name, tool_calls, tool_call_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversationID, msg.Role, msg.Content, msg.Name, toolCalls, msg.ToolCallID, toUnix(s.now()))
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// GetMessages returns the most recent limit messages, oldest first.
func (s *Store) GetMessages(ctx context.Context, conversationID string, limit int) ([]provider.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT role, content, name, tool_calls, tool_call_id FROM (
			SELECT seq, role, content, name, tool_calls, tool_call_id
			FROM messages WHERE conversation_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	msgs := make([]provider.Message, 0, len(rows))
	for _, r := range rows {
		msg := provider.Message{Role: r.Role, Content: r.Content, Name: r.Name, ToolCallID: r.ToolCallID}
		if r.ToolCalls != "" {
			if err := json.Unmarshal([]byte(r.ToolCalls), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool_calls: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// DeleteMessages drops a conversation's transcript.
func (s *Store) DeleteMessages(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}
