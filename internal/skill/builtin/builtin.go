// Package builtin provides the skills registered at startup.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/nidhogg/skillchat/internal/memory"
	"github.com/nidhogg/skillchat/internal/skill"
	"github.com/nidhogg/skillchat/internal/store"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Deps are the collaborators the built-in skills execute against. Nil
// collaborators fall back to in-process implementations, except the chat
// integrations which are then registered without an executor.
type Deps struct {
	Notes      store.NoteStore
	Tasks      store.TaskStore
	Memory     memory.Store
	HTTPClient *http.Client
	Slack      SlackPoster
	Discord    DiscordSender
	Logger     *zap.Logger
}

// SlackPoster is the part of *slack.Client used by slack_post.
type SlackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// DiscordSender is the part of *discordgo.Session used by discord_post.
type DiscordSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Register adds every built-in skill to r.
func Register(r *skill.Registry, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Notes == nil || deps.Tasks == nil {
		mem := store.NewMemory()
		if deps.Notes == nil {
			deps.Notes = mem
		}
		if deps.Tasks == nil {
			deps.Tasks = mem
		}
	}
	if deps.Memory == nil {
		deps.Memory = memory.NewInMemory()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	for _, cfg := range []skill.Config{
		calculatorSkill(),
		saveNoteSkill(deps.Notes),
		readNotesSkill(deps.Notes),
		tasksSkill(deps.Tasks),
		memorySkill(deps.Memory),
		formatCodeSkill(),
		parseDataSkill(),
		webFetchSkill(deps.HTTPClient),
		slackSkill(deps.Slack),
		discordSkill(deps.Discord),
	} {
		r.Register(cfg)
	}
	deps.Logger.Info("built-in skills registered", zap.Int("count", r.Len()))
}

// result marshals a skill's structured output for the model.
func result(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}
