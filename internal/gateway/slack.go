package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

var slackMention = regexp.MustCompile(`<@[A-Z0-9]+>`)

// slackPoster is the part of *slack.Client the adapter sends through.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackAdapter receives direct messages and app mentions over Socket Mode.
// Replies go to the thread the message started or continued.
type SlackAdapter struct {
	client  slackPoster
	socket  *socketmode.Client
	handler MessageHandler

	mu          sync.RWMutex
	connected   bool
	connectedAt time.Time
	lastError   string
	logger      *zap.Logger
}

// NewSlackAdapter creates a Slack adapter. botToken is the bot user token
// (xoxb-...) and appToken the app-level token (xapp-...) Socket Mode needs.
func NewSlackAdapter(botToken, appToken string, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	return &SlackAdapter{
		client: client,
		socket: socketmode.New(client, socketmode.OptionLog(zap.NewStdLog(logger))),
		logger: logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) { a.handler = h }

// Connect starts the Socket Mode loop. It returns immediately; the loop
// stops when ctx is cancelled.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	go a.handleEvents(ctx)
	go func() {
		err := a.socket.RunContext(ctx)
		a.mu.Lock()
		a.connected = false
		if err != nil && ctx.Err() == nil {
			a.lastError = err.Error()
		}
		a.mu.Unlock()
		if err != nil && ctx.Err() == nil {
			a.logger.Error("slack socket mode stopped", zap.Error(err))
		}
	}()
	return nil
}

func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				return
			}
			a.processEvent(evt)
		}
	}
}

func (a *SlackAdapter) processEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		a.mu.Lock()
		a.connected = true
		a.connectedAt = time.Now()
		a.lastError = ""
		a.mu.Unlock()
		a.logger.Info("slack socket mode connected")
	case socketmode.EventTypeConnectionError:
		a.mu.Lock()
		a.connected = false
		a.lastError = fmt.Sprint(evt.Data)
		a.mu.Unlock()
	case socketmode.EventTypeEventsAPI:
		eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		if eventsAPI.Type != slackevents.CallbackEvent {
			return
		}
		var msg *InboundMessage
		switch inner := eventsAPI.InnerEvent.Data.(type) {
		case *slackevents.AppMentionEvent:
			msg = fromSlackMention(inner)
		case *slackevents.MessageEvent:
			msg = fromSlackMessage(inner)
		}
		if msg != nil && a.handler != nil {
			a.handler(msg)
		}
	}
}

// fromSlackMention normalizes an @-mention in a channel.
func fromSlackMention(ev *slackevents.AppMentionEvent) *InboundMessage {
	if ev.BotID != "" {
		return nil
	}
	thread := ev.ThreadTimeStamp
	if thread == "" {
		thread = ev.TimeStamp
	}
	return &InboundMessage{
		Platform:  "slack",
		ChannelID: ev.Channel,
		UserID:    ev.User,
		UserName:  ev.User,
		Content:   strings.TrimSpace(slackMention.ReplaceAllString(ev.Text, "")),
		Timestamp: time.Now(),
		ThreadID:  thread,
	}
}

// fromSlackMessage normalizes a direct message. Channel messages arrive as
// app mentions instead, so they are ignored here.
func fromSlackMessage(ev *slackevents.MessageEvent) *InboundMessage {
	if ev.BotID != "" || ev.SubType != "" || ev.ChannelType != "im" {
		return nil
	}
	return &InboundMessage{
		Platform:  "slack",
		ChannelID: ev.Channel,
		UserID:    ev.User,
		UserName:  ev.User,
		Content:   strings.TrimSpace(ev.Text),
		Timestamp: time.Now(),
		ThreadID:  ev.ThreadTimeStamp,
	}
}

// Send posts a reply, in the message's thread when it has one.
func (a *SlackAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if msg.ThreadID != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ThreadID))
	}
	if _, _, err := a.client.PostMessageContext(ctx, msg.ChannelID, opts...); err != nil {
		a.logger.Error("slack send failed", zap.String("channel", msg.ChannelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// Close is a no-op; cancelling the Connect context stops the socket.
func (a *SlackAdapter) Close() error { return nil }

func (a *SlackAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{Platform: "slack", Connected: a.connected, Error: a.lastError}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
	}
	return s
}
