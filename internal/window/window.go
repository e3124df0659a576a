// Package window keeps a chat transcript within a model's context budget.
package window

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nidhogg/skillchat/internal/provider"
	"go.uber.org/zap"
)

// Summarizer condenses old turns. *provider.Router satisfies it.
type Summarizer interface {
	Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error)
}

// Config holds window sizing settings.
type Config struct {
	MaxTokens     int     // model's context window
	ReserveRatio  float64 // fraction kept free for the reply
	Model         string  // model used for summaries; empty uses the router default
	MaxToolResult int     // bytes kept per tool result once over budget
}

// DefaultConfig suits the small local models the server targets.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     8192,
		ReserveRatio:  0.25,
		MaxToolResult: 2000,
	}
}

// maxPasses bounds summarization rounds per Fit call.
const maxPasses = 4

// Fitter compresses transcripts that exceed the token budget.
type Fitter struct {
	config     Config
	summarizer Summarizer
	logger     *zap.Logger
}

// NewFitter creates a Fitter. summarizer may be nil, in which case old turns
// are dropped instead of summarized.
func NewFitter(cfg Config, summarizer Summarizer, logger *zap.Logger) *Fitter {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.ReserveRatio <= 0 || cfg.ReserveRatio >= 1 {
		cfg.ReserveRatio = def.ReserveRatio
	}
	if cfg.MaxToolResult <= 0 {
		cfg.MaxToolResult = def.MaxToolResult
	}
	return &Fitter{config: cfg, summarizer: summarizer, logger: logger}
}

// Budget returns the available token budget for the prompt.
func (f *Fitter) Budget() int {
	return int(float64(f.config.MaxTokens) * (1 - f.config.ReserveRatio))
}

// Fit returns msgs trimmed to the budget. A leading system message and the
// current turn (the last user message and everything after it) are kept
// intact; earlier turns are summarized, or dropped when summarizing fails.
// Tool results are truncated first. msgs itself is not modified.
func (f *Fitter) Fit(ctx context.Context, msgs []provider.Message) []provider.Message {
	total := EstimateTokens(msgs)
	budget := f.Budget()
	if total <= budget {
		return msgs
	}

	f.logger.Info("context exceeds budget, compressing",
		zap.Int("total", total),
		zap.Int("budget", budget))

	out := make([]provider.Message, len(msgs))
	copy(out, msgs)
	total = f.truncateToolResults(out)

	for pass := 0; pass < maxPasses && total > budget; pass++ {
		next, ok := f.compressHistory(ctx, out)
		if !ok {
			break
		}
		out = next
		total = EstimateTokens(out)
	}

	if total > budget {
		f.logger.Warn("context still over budget after compression",
			zap.Int("total", total),
			zap.Int("budget", budget))
	}
	return out
}

// Truncate returns at most max bytes of s, cut back to a rune boundary.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 0 {
		return ""
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// truncateToolResults shortens oversized tool outputs in place.
func (f *Fitter) truncateToolResults(msgs []provider.Message) int {
	limit := f.config.MaxToolResult
	for i, m := range msgs {
		if m.Role == provider.RoleTool && len(m.Content) > limit {
			msgs[i].Content = Truncate(m.Content, limit) + "\n...[truncated]"
		}
	}
	return EstimateTokens(msgs)
}

// compressHistory folds the older half of the history into one summary
// message. The cut always lands on a user message so assistant tool calls
// stay next to their results.
func (f *Fitter) compressHistory(ctx context.Context, msgs []provider.Message) ([]provider.Message, bool) {
	head := 0
	if len(msgs) > 0 && msgs[0].Role == provider.RoleSystem {
		head = 1
	}
	tail := len(msgs)
	for i := len(msgs) - 1; i >= head; i-- {
		if msgs[i].Role == provider.RoleUser {
			tail = i
			break
		}
	}
	if tail-head <= 2 {
		return nil, false
	}

	// Fold at least two messages so a previous summary is never folded alone.
	start := head + (tail-head)/2
	if start < head+2 {
		start = head + 2
	}
	cut := tail
	for i := start; i < tail; i++ {
		if msgs[i].Role == provider.RoleUser {
			cut = i
			break
		}
	}

	out := append([]provider.Message(nil), msgs[:head]...)
	summary, err := f.summarize(ctx, msgs[head:cut])
	if err != nil {
		f.logger.Warn("history summarization failed, dropping old turns", zap.Error(err))
	} else {
		out = append(out, provider.Message{
			Role:    provider.RoleSystem,
			Content: "Summary of the earlier conversation:\n" + summary,
		})
	}
	out = append(out, msgs[cut:]...)

	f.logger.Debug("compressed history",
		zap.Int("folded", cut-head),
		zap.Bool("summarized", err == nil))
	return out, true
}

// summarize asks the model for a concise summary of old turns.
func (f *Fitter) summarize(ctx context.Context, msgs []provider.Message) (string, error) {
	if f.summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}

	var content strings.Builder
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		fmt.Fprintf(&content, "[%s]: %s\n", m.Role, m.Content)
	}

	resp, err := f.summarizer.Chat(ctx, &provider.ChatRequest{
		Model: f.config.Model,
		Messages: []provider.Message{{
			Role: provider.RoleUser,
			Content: "Summarize the following conversation in a few sentences. " +
				"Keep names, numbers, decisions and open requests.\n\n" + content.String(),
		}},
		MaxTokens: 512,
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("empty summary")
	}
	return strings.TrimSpace(resp.Content), nil
}

// EstimateTokens estimates total tokens for a slice of messages.
func EstimateTokens(msgs []provider.Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateTokensStr(m.Content)
		for _, tc := range m.ToolCalls {
			total += estimateTokensStr(tc.Function.Name) + estimateTokensStr(tc.Function.Arguments)
		}
	}
	return total
}

// estimateTokensStr uses the rough ~4 bytes per token heuristic.
func estimateTokensStr(s string) int {
	n := len(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
