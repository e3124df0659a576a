package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// discordMessageLimit is the maximum length of one Discord message.
const discordMessageLimit = 2000

// DiscordAdapter receives guild and direct messages through the bot
// gateway. In guild channels only messages that mention the bot are relayed.
type DiscordAdapter struct {
	session *discordgo.Session
	handler MessageHandler

	mu          sync.RWMutex
	connected   bool
	connectedAt time.Time
	lastError   string
	logger      *zap.Logger
}

// NewDiscordAdapter wraps an unopened bot session. The same session may
// also back the discord_post skill.
func NewDiscordAdapter(session *discordgo.Session, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{session: session, logger: logger}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

func (a *DiscordAdapter) OnMessage(h MessageHandler) { a.handler = h }

// Connect opens the gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	a.session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	a.session.AddHandler(a.onMessageCreate)

	if err := a.session.Open(); err != nil {
		a.mu.Lock()
		a.lastError = fmt.Sprintf("open failed: %v", err)
		a.connected = false
		a.mu.Unlock()
		return fmt.Errorf("discord open: %w", err)
	}

	a.mu.Lock()
	a.connected = true
	a.connectedAt = time.Now()
	a.lastError = ""
	a.mu.Unlock()

	guilds := len(a.session.State.Guilds)
	if guilds == 0 {
		a.logger.Warn("discord bot is not in any server yet")
	}
	a.logger.Info("discord adapter connected",
		zap.String("user", a.session.State.User.Username),
		zap.Int("guilds", guilds))
	return nil
}

func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if a.handler == nil || m.Author == nil || s.State == nil || s.State.User == nil {
		return
	}
	if msg := fromDiscord(m.Message, s.State.User.ID); msg != nil {
		a.handler(msg)
	}
}

// fromDiscord normalizes a Discord message for a bot with id botID. It
// returns nil for messages the bot should not answer.
func fromDiscord(m *discordgo.Message, botID string) *InboundMessage {
	if m.Author == nil || m.Author.ID == botID || m.Author.Bot {
		return nil
	}
	content := m.Content
	if m.GuildID != "" {
		mentioned := false
		for _, u := range m.Mentions {
			if u.ID == botID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return nil
		}
		content = strings.NewReplacer("<@"+botID+">", "", "<@!"+botID+">", "").Replace(content)
	}
	return &InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Content:   strings.TrimSpace(content),
		Timestamp: m.Timestamp,
	}
}

// Send posts a reply, split into several messages when it exceeds
// Discord's length limit.
func (a *DiscordAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	for _, chunk := range SplitMessage(msg.Content, discordMessageLimit) {
		if _, err := a.session.ChannelMessageSend(msg.ChannelID, chunk); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return a.session.Close()
}

func (a *DiscordAdapter) Status() AdapterStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s := AdapterStatus{Platform: "discord", Connected: a.connected, Error: a.lastError}
	if a.connected {
		t := a.connectedAt
		s.ConnectedAt = &t
		if a.session.State != nil && a.session.State.User != nil {
			s.Details = fmt.Sprintf("bot=%s, guilds=%d", a.session.State.User.Username, len(a.session.State.Guilds))
		}
	}
	return s
}
