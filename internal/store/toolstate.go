package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/skillchat/internal/toolstate"
)

// SaveToolState upserts a conversation's exported tool state.
func (s *Store) SaveToolState(ctx context.Context, st toolstate.State) error {
	b, err := toolstate.MarshalState(st)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO tool_states (conversation_id, state, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (conversation_id) DO UPDATE SET
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at`,
		st.ConversationID, b,
	)
	if err != nil {
		return fmt.Errorf("save tool state %s: %w", st.ConversationID, err)
	}
	return nil
}

// LoadToolState reads a saved tool state. The bool is false when none exists.
func (s *Store) LoadToolState(ctx context.Context, conversationID string) (toolstate.State, bool, error) {
	var b []byte
	err := s.db.QueryRow(ctx,
		`SELECT state FROM tool_states WHERE conversation_id = $1`, conversationID,
	).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return toolstate.State{}, false, nil
	}
	if err != nil {
		return toolstate.State{}, false, fmt.Errorf("load tool state %s: %w", conversationID, err)
	}
	st, err := toolstate.UnmarshalState(b)
	if err != nil {
		return toolstate.State{}, false, err
	}
	return st, true, nil
}

// DeleteToolState removes a saved tool state.
func (s *Store) DeleteToolState(ctx context.Context, conversationID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM tool_states WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("delete tool state %s: %w", conversationID, err)
	}
	return nil
}
