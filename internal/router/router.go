// Package router relays gateway messages into chat turns: slash commands
// run against the channel's tool state, everything else goes to the engine.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/skillchat/internal/agent"
	"github.com/nidhogg/skillchat/internal/command"
	"github.com/nidhogg/skillchat/internal/gateway"
	"github.com/nidhogg/skillchat/internal/provider"
	"go.uber.org/zap"
)

// DefaultTurnTimeout bounds one relayed chat turn.
const DefaultTurnTimeout = 5 * time.Minute

// Sender delivers replies to a platform channel.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
}

// MessageRouter answers inbound platform messages.
type MessageRouter struct {
	engine   *agent.Engine
	sender   Sender
	commands *command.Registry
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a MessageRouter. commands may be nil, in which case slash
// commands are sent to the model like any other text.
func New(engine *agent.Engine, sender Sender, commands *command.Registry, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		engine:   engine,
		sender:   sender,
		commands: commands,
		timeout:  DefaultTurnTimeout,
		logger:   logger,
	}
}

// Handler returns a gateway.MessageHandler that processes each message on
// its own goroutine under ctx.
func (mr *MessageRouter) Handler(ctx context.Context) gateway.MessageHandler {
	return func(msg *gateway.InboundMessage) {
		go mr.Handle(ctx, msg)
	}
}

// Handle answers one message and sends the reply. Turns of the same
// conversation run one at a time.
func (mr *MessageRouter) Handle(ctx context.Context, msg *gateway.InboundMessage) {
	ctx, cancel := context.WithTimeout(ctx, mr.timeout)
	defer cancel()

	conversationID := msg.ConversationID()
	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("conversation", conversationID),
		zap.String("user", msg.UserName))

	reply, err := mr.answer(ctx, conversationID, msg.Content)
	if err != nil {
		mr.logger.Error("relayed turn failed", zap.String("conversation", conversationID), zap.Error(err))
		reply = "Sorry, something went wrong: " + err.Error()
	}
	if strings.TrimSpace(reply) == "" {
		return
	}
	if err := mr.sender.Send(ctx, &gateway.OutboundMessage{
		Platform:  msg.Platform,
		ChannelID: msg.ChannelID,
		Content:   reply,
		ThreadID:  msg.ThreadID,
	}); err != nil {
		mr.logger.Error("send reply failed", zap.String("conversation", conversationID), zap.Error(err))
	}
}

func (mr *MessageRouter) answer(ctx context.Context, conversationID, content string) (string, error) {
	if mr.commands != nil && command.IsCommand(content) {
		mgr, release, err := mr.engine.Sessions().Acquire(ctx, conversationID)
		if err != nil {
			return "", err
		}
		defer release()
		res, err := mr.commands.Dispatch(ctx, content, &command.CommandContext{
			ConversationID: conversationID,
			Manager:        mgr,
		})
		if err != nil {
			return "", err
		}
		return res.Content, nil
	}

	result, err := mr.engine.Chat(ctx, agent.ChatRequest{
		ConversationID: conversationID,
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: content}},
	}, nil)
	if err != nil {
		return "", err
	}
	return formatReply(result), nil
}

// formatReply appends a note about skills that became available this turn.
func formatReply(r *agent.ChatResult) string {
	if len(r.Unlocked) == 0 {
		return r.Content
	}
	return fmt.Sprintf("%s\n\n_Skills now available: %s_", r.Content, strings.Join(r.Unlocked, ", "))
}
