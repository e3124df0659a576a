package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nidhogg/skillchat/internal/toolstate"
)

// SaveToolState upserts a conversation's exported tool state.
func (s *Store) SaveToolState(ctx context.Context, st toolstate.State) error {
	b, err := toolstate.MarshalState(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_states (conversation_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (conversation_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		st.ConversationID, string(b), toUnix(s.now()))
	if err != nil {
		return fmt.Errorf("save tool state %s: %w", st.ConversationID, err)
	}
	return nil
}

// LoadToolState reads a saved tool state.
func (s *Store) LoadToolState(ctx context.Context, conversationID string) (toolstate.State, bool, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, `SELECT state FROM tool_states WHERE conversation_id = ?`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return toolstate.State{}, false, nil
	}
	if err != nil {
		return toolstate.State{}, false, fmt.Errorf("load tool state %s: %w", conversationID, err)
	}
	st, err := toolstate.UnmarshalState([]byte(raw))
	if err != nil {
		return toolstate.State{}, false, err
	}
	return st, true, nil
}

// DeleteToolState removes a saved tool state.
func (s *Store) DeleteToolState(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tool_states WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete tool state %s: %w", conversationID, err)
	}
	return nil
}
