package gateway

import (
	"context"
	"time"
)

// Adapter connects one chat platform to the gateway.
type Adapter interface {
	Platform() string
	Connect(ctx context.Context) error
	Send(ctx context.Context, msg *OutboundMessage) error
	OnMessage(handler MessageHandler)
	Close() error
}

// MessageHandler processes inbound messages from any platform.
type MessageHandler func(msg *InboundMessage)

// InboundMessage is a normalized message from any platform.
type InboundMessage struct {
	Platform  string    `json:"platform"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// ThreadID groups replies on platforms with threads; empty elsewhere.
	ThreadID string `json:"thread_id,omitempty"`
}

// ConversationID keys the chat conversation an inbound message belongs to.
// Threads get their own conversation so tool state does not leak between them.
func (m *InboundMessage) ConversationID() string {
	id := m.Platform + ":" + m.ChannelID
	if m.ThreadID != "" {
		id += ":" + m.ThreadID
	}
	return id
}

// OutboundMessage is a message sent to a specific platform channel.
type OutboundMessage struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// AdapterStatus reports the connection state of one adapter.
type AdapterStatus struct {
	Platform    string     `json:"platform"`
	Connected   bool       `json:"connected"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	Details     string     `json:"details,omitempty"`
}
