package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nidhogg/skillchat/internal/agent"
	"github.com/spf13/cobra"
)

var chatModel string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Chat with the server. Skills unlocked during the session stay loaded
for later turns. Type /skills to see them, /new to start over, exit to leave.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s := &chatSession{client: newClient(serverURL), model: chatModel, out: cmd.OutOrStdout()}
		return s.repl(cmd.Context(), cmd.InOrStdin())
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "model to use (server default when empty)")
}

// chatSession carries the conversation id and loaded skills across turns.
type chatSession struct {
	client         *client
	model          string
	conversationID string
	loaded         []string
	out            io.Writer
}

func (s *chatSession) repl(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(s.out, "skillchat")
	fmt.Fprintf(s.out, "Server: %s\n", s.client.base)
	fmt.Fprintln(s.out, "Type 'exit' or 'quit' to leave. Commands: /skills, /new")
	fmt.Fprintln(s.out, "---")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "\n> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "exit", "quit":
			fmt.Fprintln(s.out, "Bye!")
			return nil
		case "/skills":
			if len(s.loaded) == 0 {
				fmt.Fprintln(s.out, "No skills loaded yet.")
			} else {
				fmt.Fprintf(s.out, "Loaded skills: %s\n", strings.Join(s.loaded, ", "))
			}
			continue
		case "/new":
			s.conversationID, s.loaded = "", nil
			fmt.Fprintln(s.out, "Started a new conversation.")
			continue
		}
		if err := s.turn(ctx, input); err != nil {
			printError("%v", err)
		}
	}
}

// turn sends one message and renders the streamed events.
func (s *chatSession) turn(ctx context.Context, text string) error {
	body := map[string]interface{}{
		"conversation_id": s.conversationID,
		"message":         text,
		"loaded_skills":   s.loaded,
	}
	if s.model != "" {
		body["model"] = s.model
	}

	return s.client.stream(ctx, "/api/chat/stream", body, func(e sseEvent) error {
		if e.Name == "error" {
			var msg struct {
				Error string `json:"error"`
			}
			json.Unmarshal(e.Data, &msg)
			return fmt.Errorf("chat failed: %s", msg.Error)
		}

		var ev agent.Event
		if err := json.Unmarshal(e.Data, &ev); err != nil {
			return fmt.Errorf("decode %s event: %w", e.Name, err)
		}
		switch ev.Type {
		case agent.EventText:
			fmt.Fprint(s.out, ev.Content)
		case agent.EventToolCall:
			if ev.ToolCall != nil {
				fmt.Fprintln(s.out, color("36", "\n[tool] "+ev.ToolCall.Name+" "+ev.ToolCall.Arguments))
			}
		case agent.EventToolResult:
			if ev.ToolCall != nil && ev.ToolCall.Error != "" {
				fmt.Fprintln(s.out, color("31", "[tool error] "+ev.ToolCall.Error))
			}
		case agent.EventSkillsUnlocked:
			fmt.Fprintln(s.out, color("32", "[unlocked] "+strings.Join(ev.Skills, ", ")))
		case agent.EventDone:
			fmt.Fprintln(s.out)
			if ev.Result != nil {
				s.conversationID = ev.Result.ConversationID
				s.loaded = ev.Result.LoadedSkills
			}
		}
		return nil
	})
}
