package toolstate

import (
	"context"
	"encoding/json"
	"fmt"
)

// State is the portable form of a Manager, as produced by ExportState.
type State struct {
	ConversationID   string           `json:"conversationId"`
	LoadedSkills     []string         `json:"loadedSkills"`
	DiscoveryHistory []DiscoveryEvent `json:"discoveryHistory"`
}

// Snapshotter persists State between process restarts and evictions.
type Snapshotter interface {
	SaveToolState(ctx context.Context, s State) error
	// LoadToolState reports found=false when no snapshot exists.
	LoadToolState(ctx context.Context, conversationID string) (State, bool, error)
	DeleteToolState(ctx context.Context, conversationID string) error
}

// MarshalState encodes s with nil slices normalized to empty arrays.
func MarshalState(s State) ([]byte, error) {
	if s.LoadedSkills == nil {
		s.LoadedSkills = []string{}
	}
	if s.DiscoveryHistory == nil {
		s.DiscoveryHistory = []DiscoveryEvent{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal tool state: %w", err)
	}
	return b, nil
}

// UnmarshalState decodes a State produced by MarshalState.
func UnmarshalState(b []byte) (State, error) {
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return State{}, fmt.Errorf("unmarshal tool state: %w", err)
	}
	return s, nil
}
