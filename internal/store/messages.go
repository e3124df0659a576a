package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/skillchat/internal/provider"
)

// AppendMessage stores a message in the conversation transcript.
func (s *Store) AppendMessage(ctx context.Context, conversationID string, msg provider.Message) error {
	var toolCallsJSON []byte
	if len(msg.ToolCalls) > 0 {
		var err error
		toolCallsJSON, err = json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool_calls: %w", err)
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, name, tool_calls, tool_call_id)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)`,
		conversationID, msg.Role, msg.Content, msg.Name, toolCallsJSON, msg.ToolCallID,
	)
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

	rows, err := s.db.Query(ctx, `
		SELECT role, content, name, tool_calls, tool_call_id FROM (
			SELECT role, content, name, tool_calls, tool_call_id, created_at, seq
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, seq DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, seq ASC`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	msgs := []provider.Message{}
	for rows.Next() {
		var msg provider.Message
		var toolCallsJSON []byte
		if err := rows.Scan(&msg.Role, &msg.Content, &msg.Name, &toolCallsJSON, &msg.ToolCallID); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if len(toolCallsJSON) > 0 {
			if err := json.Unmarshal(toolCallsJSON, &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool_calls: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// DeleteMessages drops a conversation's transcript.
func (s *Store) DeleteMessages(ctx context.Context, conversationID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}
