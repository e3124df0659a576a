package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nidhogg/skillchat/internal/skill"
	"github.com/slack-go/slack"
)

type slackInput struct {
	Channel  string `json:"channel" jsonschema:"description=Channel id or name, e.g. C0123 or #general"`
	Text     string `json:"text" jsonschema:"minLength=1"`
	ThreadTS string `json:"thread_ts,omitempty" jsonschema:"description=Reply in this thread"`
}

type discordInput struct {
	ChannelID string `json:"channel_id" jsonschema:"description=Discord channel snowflake id"`
	Content   string `json:"content" jsonschema:"minLength=1,maxLength=2000"`
}

// slackSkill registers slack_post. Without a client the skill is still
// discoverable in settings but never offered to the model.
func slackSkill(client SlackPoster) skill.Config {
	cfg := skill.Config{
		ID:               "slack_post",
		Name:             "Slack",
		Description:      "Post a message to a Slack channel or thread.",
		Keywords:         []string{"slack", "message", "post", "channel"},
		Tier:             skill.TierIntegration,
		Category:         skill.CategoryIntegrations,
		RequiresNetwork:  true,
		RequiresApproval: true,
		InputSchema:      skill.GenerateSchema[slackInput](),
	}
	if client == nil {
		return cfg
	}
	cfg.Executor = skill.ExecutorFunc(func(ctx context.Context, input json.RawMessage) (string, error) {
		var in slackInput
		if err := skill.DecodeInput(input, &in); err != nil {
			return "", err
		}
		if in.Channel == "" || in.Text == "" {
			return "", fmt.Errorf("channel and text are required")
		}
		opts := []slack.MsgOption{slack.MsgOptionText(in.Text, false)}
		if in.ThreadTS != "" {
			opts = append(opts, slack.MsgOptionTS(in.ThreadTS))
		}
		channel, ts, err := client.PostMessageContext(ctx, strings.TrimPrefix(in.Channel, "#"), opts...)
		if err != nil {
			return "", fmt.Errorf("slack post: %w", err)
		}
		return result(map[string]string{"channel": channel, "ts": ts, "message": "Posted to Slack."})
	})
	return cfg
}

func discordSkill(client DiscordSender) skill.Config {
	cfg := skill.Config{
		ID:               "discord_post",
		Name:             "Discord",
		Description:      "Post a message to a Discord channel.",
		Keywords:         []string{"discord", "message", "post", "channel"},
		Tier:             skill.TierIntegration,
		Category:         skill.CategoryIntegrations,
		RequiresNetwork:  true,
		RequiresApproval: true,
		InputSchema:      skill.GenerateSchema[discordInput](),
	}
	if client == nil {
		return cfg
	}
	cfg.Executor = skill.ExecutorFunc(func(_ context.Context, input json.RawMessage) (string, error) {
		var in discordInput
		if err := skill.DecodeInput(input, &in); err != nil {
			return "", err
		}
		if in.ChannelID == "" || in.Content == "" {
			return "", fmt.Errorf("channel_id and content are required")
		}
		if len(in.Content) > 2000 {
			return "", fmt.Errorf("content exceeds discord's 2000 character limit")
		}
		msg, err := client.ChannelMessageSend(in.ChannelID, in.Content)
		if err != nil {
			return "", fmt.Errorf("discord send: %w", err)
		}
		return result(map[string]string{"channel_id": msg.ChannelID, "message_id": msg.ID, "message": "Posted to Discord."})
	})
	return cfg
}
