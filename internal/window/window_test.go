package window

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/nidhogg/skillchat/internal/provider"
	"go.uber.org/zap"
)

type fakeSummarizer struct {
	calls int
	err   error
}

func (s *fakeSummarizer) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &provider.ChatResponse{Content: "they talked"}, nil
}

func words(n int) string { return strings.Repeat("abcd", n) } // n tokens

func transcript() []provider.Message {
	return []provider.Message{
		{Role: provider.RoleSystem, Content: "sys"},
		{Role: provider.RoleUser, Content: words(100)},
		{Role: provider.RoleAssistant, Content: words(100)},
		{Role: provider.RoleUser, Content: words(100)},
		{Role: provider.RoleAssistant, Content: words(100)},
		{Role: provider.RoleUser, Content: "current question"},
	}
}

func TestFitUnderBudgetIsUnchanged(t *testing.T) {
	f := NewFitter(Config{MaxTokens: 10000}, nil, zap.NewNop())
	msgs := transcript()
	out := f.Fit(context.Background(), msgs)
	if len(out) != len(msgs) {
		t.Fatalf("expected %d messages, got %d", len(msgs), len(out))
	}
}

func TestFitSummarizesOldTurns(t *testing.T) {
	s := &fakeSummarizer{}
	f := NewFitter(Config{MaxTokens: 400, ReserveRatio: 0.5}, s, zap.NewNop())
	msgs := transcript()

	out := f.Fit(context.Background(), msgs)
	if s.calls == 0 {
		t.Fatal("expected the summarizer to be called")
	}
	if out[0].Content != "sys" {
		t.Errorf("system message must stay first, got %q", out[0].Content)
	}
	if out[1].Role != provider.RoleSystem || !strings.Contains(out[1].Content, "they talked") {
		t.Errorf("expected a summary after the system prompt, got %+v", out[1])
	}
	if last := out[len(out)-1]; last.Content != "current question" {
		t.Errorf("current turn must be kept, got %q", last.Content)
	}
	if EstimateTokens(out) > f.Budget() {
		t.Errorf("still over budget: %d > %d", EstimateTokens(out), f.Budget())
	}
	if len(msgs) != 6 || msgs[1].Content != words(100) {
		t.Error("input slice was modified")
	}
}

func TestFitDropsWhenSummaryFails(t *testing.T) {
	f := NewFitter(Config{MaxTokens: 400, ReserveRatio: 0.5}, &fakeSummarizer{err: errors.New("offline")}, zap.NewNop())
	out := f.Fit(context.Background(), transcript())
	for _, m := range out[1:] {
		if m.Role == provider.RoleSystem {
			t.Fatalf("no summary expected when summarization fails: %+v", out)
		}
	}
	if out[len(out)-1].Content != "current question" {
		t.Error("current turn must be kept")
	}
}

func TestFitTruncatesToolResults(t *testing.T) {
	f := NewFitter(Config{MaxTokens: 200, ReserveRatio: 0.5, MaxToolResult: 40}, nil, zap.NewNop())
	msgs := []provider.Message{
		{Role: provider.RoleSystem, Content: "sys"},
		{Role: provider.RoleUser, Content: "fetch it"},
		{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "1", Function: provider.ToolCallFunction{Name: "web_fetch", Arguments: "{}"}}}},
		{Role: provider.RoleTool, ToolCallID: "1", Content: words(500)},
	}
	out := f.Fit(context.Background(), msgs)
	if len(out) != 4 {
		t.Fatalf("current turn must not be folded, got %d messages", len(out))
	}
	if !strings.HasSuffix(out[3].Content, "...[truncated]") || len(out[3].Content) > 60 {
		t.Errorf("tool result not truncated: %d bytes", len(out[3].Content))
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"aé", 2, "a"},
		{"日本語", 4, "日"},
		{"日本語", 6, "日本"},
		{"abc", 0, ""},
	}
	for _, c := range cases {
		if got := Truncate(c.in, c.max); got != c.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", c.in, c.max, got, c.want)
		}
	}

	f := NewFitter(Config{MaxTokens: 200, ReserveRatio: 0.5, MaxToolResult: 41}, nil, zap.NewNop())
	out := f.Fit(context.Background(), []provider.Message{
		{Role: provider.RoleUser, Content: "fetch it"},
		{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "1", Function: provider.ToolCallFunction{Name: "web_fetch", Arguments: "{}"}}}},
		{Role: provider.RoleTool, ToolCallID: "1", Content: strings.Repeat("é", 1000)},
	})
	if !utf8.ValidString(out[2].Content) {
		t.Errorf("truncated tool result is not valid UTF-8: %q", out[2].Content)
	}
}

func TestCutKeepsToolCallsWithResults(t *testing.T) {
	f := NewFitter(Config{MaxTokens: 300, ReserveRatio: 0.5}, nil, zap.NewNop())
	msgs := []provider.Message{
		{Role: provider.RoleSystem, Content: "sys"},
		{Role: provider.RoleUser, Content: words(60)},
		{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{{ID: "a", Function: provider.ToolCallFunction{Name: "calculator", Arguments: words(30)}}}},
		{Role: provider.RoleTool, ToolCallID: "a", Content: words(30)},
		{Role: provider.RoleAssistant, Content: words(60)},
		{Role: provider.RoleUser, Content: words(60)},
		{Role: provider.RoleAssistant, Content: words(60)},
		{Role: provider.RoleUser, Content: "now"},
	}
	out := f.Fit(context.Background(), msgs)
	for i, m := range out {
		if m.Role == provider.RoleTool && (i == 0 || len(out[i-1].ToolCalls) == 0) {
			t.Fatalf("tool result at %d separated from its call: %+v", i, out)
		}
	}
	if out[1].Role != provider.RoleUser {
		t.Errorf("history should restart on a user message, got %s", out[1].Role)
	}
}
