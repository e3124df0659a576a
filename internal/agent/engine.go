package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/skillchat/internal/provider"
	"github.com/nidhogg/skillchat/internal/skill"
	"github.com/nidhogg/skillchat/internal/toolstate"
	"github.com/nidhogg/skillchat/internal/window"
	"go.uber.org/zap"
)

// DefaultMaxRounds bounds tool-calling rounds per chat turn. When the limit
// is hit one more call without tools asks for the final answer.
const DefaultMaxRounds = 8

// RoundLimitNotice is the reply when the round limit is hit and the model
// gives no final answer.
const RoundLimitNotice = "I ran out of tool steps before finishing. Ask me to continue if you need more."

// ErrEmptyConversation is returned when a request carries no messages.
var ErrEmptyConversation = fmt.Errorf("no messages to send")

// ChatModel is the language-model capability the engine drives. *provider.Router
// satisfies it.
type ChatModel interface {
	Chat(ctx context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error)
	ChatStream(ctx context.Context, req *provider.ChatRequest) (<-chan *provider.StreamChunk, error)
}

// HistoryStore persists chat transcripts per conversation.
type HistoryStore interface {
	AppendMessage(ctx context.Context, conversationID string, msg provider.Message) error
	GetMessages(ctx context.Context, conversationID string, limit int) ([]provider.Message, error)
}

// ChatRequest is one user turn.
type ChatRequest struct {
	ConversationID string             `json:"conversation_id"`
	Model          string             `json:"model,omitempty"`
	Messages       []provider.Message `json:"messages"`
	LoadedSkills   []string           `json:"loaded_skills,omitempty"`
}

// ToolCallRecord traces one tool invocation.
type ToolCallRecord struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Arguments string        `json:"arguments"`
	Result    string        `json:"result"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// ChatResult is the outcome of a turn.
type ChatResult struct {
	ConversationID string           `json:"conversation_id"`
	Content        string           `json:"content"`
	ToolCalls      []ToolCallRecord `json:"tool_calls"`
	LoadedSkills   []string         `json:"loaded_skills"`
	Unlocked       []string         `json:"unlocked,omitempty"`
	Chain          *ThinkingChain   `json:"chain"`
	Usage          provider.Usage   `json:"usage"`
}

// Engine runs chat turns: it offers each conversation its current tool-set,
// executes requested tools and feeds discovery results back into the
// conversation's tool state.
type Engine struct {
	model        ChatModel
	sessions     *toolstate.Store
	history      HistoryStore
	defaultModel string
	basePrompt   string
	maxRounds    int
	historyLimit int
	window       *window.Fitter
	logger       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithHistory persists user and assistant messages to h.
func WithHistory(h HistoryStore, limit int) Option {
	return func(e *Engine) {
		e.history = h
		e.historyLimit = limit
	}
}

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(m string) Option { return func(e *Engine) { e.defaultModel = m } }

// WithSystemPrompt replaces the built-in system prompt.
func WithSystemPrompt(p string) Option { return func(e *Engine) { e.basePrompt = p } }

// WithMaxRounds overrides DefaultMaxRounds.
func WithMaxRounds(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRounds = n
		}
	}
}

// WithWindow keeps every model request within the fitter's token budget.
func WithWindow(f *window.Fitter) Option { return func(e *Engine) { e.window = f } }

// NewEngine creates a chat engine.
func NewEngine(model ChatModel, sessions *toolstate.Store, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		model:        model,
		sessions:     sessions,
		maxRounds:    DefaultMaxRounds,
		historyLimit: 50,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sessions exposes the conversation tool-state store.
func (e *Engine) Sessions() *toolstate.Store { return e.sessions }

// History returns the configured history store, or nil.
func (e *Engine) History() HistoryStore { return e.history }

// Chat runs one turn. emit may be nil; when set, the model is streamed and
// events are delivered as they happen.
func (e *Engine) Chat(ctx context.Context, req ChatRequest, emit Emitter) (*ChatResult, error) {
	if req.ConversationID == "" {
		req.ConversationID = uuid.New().String()
	}
	if req.Model == "" {
		req.Model = e.defaultModel
	}
	stream := emit != nil
	if !stream {
		emit = func(Event) {}
	}

	mgr, release, err := e.sessions.Acquire(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	defer release()

	chain := &ThinkingChain{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		StartedAt:      time.Now(),
	}
	result := &ChatResult{ConversationID: req.ConversationID, ToolCalls: []ToolCallRecord{}, Chain: chain}

	if len(req.LoadedSkills) > 0 {
		if added := mgr.LoadSkills(req.LoadedSkills); len(added) > 0 {
			result.Unlocked = append(result.Unlocked, added...)
			chain.add(StepSkillsUnlock, fmt.Sprintf("Preloaded %d skill(s)", len(added)), added)
		}
	}

	msgs, err := e.buildMessages(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp *provider.ChatResponse
	for round := 0; round < e.maxRounds; round++ {
		tools := mgr.GetToolsForRequest()
		msgs[0].Content = systemPrompt(e.basePrompt, mgr.GetLoadedSkillNames())
		if e.window != nil {
			msgs = e.window.Fit(ctx, msgs)
		}

		chain.add(StepReasoning, fmt.Sprintf("Round %d: sending %d message(s) with %d tool(s)", round+1, len(msgs), len(tools)), tools.Names())
		resp, err = e.complete(ctx, &provider.ChatRequest{
			Model:    req.Model,
			Messages: msgs,
			Tools:    toolDefinitions(tools),
		}, stream, emit)
		if err != nil {
			return nil, fmt.Errorf("chat round %d: %w", round+1, err)
		}
		result.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			break
		}

		msgs = append(msgs, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			rec, unlocked := e.runTool(ctx, mgr, tools, tc, chain, emit)
			result.ToolCalls = append(result.ToolCalls, rec)
			result.Unlocked = append(result.Unlocked, unlocked...)
			msgs = append(msgs, provider.Message{
				Role:       provider.RoleTool,
				Name:       tc.Function.Name,
				Content:    rec.Result,
				ToolCallID: tc.ID,
			})
		}

		e.logger.Debug("tool round complete",
			zap.String("conversation", req.ConversationID),
			zap.Int("round", round+1),
			zap.Int("tool_calls", len(resp.ToolCalls)))

		if round == e.maxRounds-1 {
			e.logger.Warn("tool round limit reached",
				zap.String("conversation", req.ConversationID),
				zap.Int("rounds", e.maxRounds))
			resp = e.finalAnswer(ctx, req, msgs, stream, emit, chain, result)
		}
	}

	result.Content = resp.Content
	result.LoadedSkills = mgr.GetLoadedSkillIDs()
	chain.Steps = append(chain.Steps, ThinkStep{
		Type:       StepResponse,
		Content:    resp.Content,
		Timestamp:  time.Now(),
		TokensUsed: result.Usage.TotalTokens,
	})
	chain.Duration = time.Since(chain.StartedAt)

	e.persist(ctx, req, resp.Content)
	emit(Event{Type: EventDone, Result: result})
	return result, nil
}

// finalAnswer asks the model to reply from the tool results gathered so far,
// offering no tools. A failed or empty reply becomes RoundLimitNotice.
func (e *Engine) finalAnswer(ctx context.Context, req ChatRequest, msgs []provider.Message, stream bool, emit Emitter, chain *ThinkingChain, result *ChatResult) *provider.ChatResponse {
	chain.add(StepReasoning, "Tool round limit reached, asking for a final answer", nil)
	resp, err := e.complete(ctx, &provider.ChatRequest{Model: req.Model, Messages: msgs}, stream, emit)
	if err != nil {
		e.logger.Warn("final answer failed", zap.String("conversation", req.ConversationID), zap.Error(err))
		resp = &provider.ChatResponse{}
	}
	result.Usage.Add(resp.Usage)
	if strings.TrimSpace(resp.Content) == "" {
		resp.Content = RoundLimitNotice
		if stream {
			emit(Event{Type: EventText, Content: resp.Content})
		}
	}
	resp.ToolCalls = nil
	return resp
}

// buildMessages prepends a system message slot to the request. When a
// history store is configured and the request carries only the new message,
// earlier turns are loaded from the store.
func (e *Engine) buildMessages(ctx context.Context, req ChatRequest) ([]provider.Message, error) {
	if len(req.Messages) == 0 {
		return nil, ErrEmptyConversation
	}
	msgs := []provider.Message{{Role: provider.RoleSystem}}
	if e.history != nil && len(req.Messages) == 1 {
		prior, err := e.history.GetMessages(ctx, req.ConversationID, e.historyLimit)
		if err != nil {
			e.logger.Warn("load history failed", zap.String("conversation", req.ConversationID), zap.Error(err))
		}
		msgs = append(msgs, prior...)
	}
	for _, m := range req.Messages {
		if m.Role == provider.RoleSystem {
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (e *Engine) persist(ctx context.Context, req ChatRequest, reply string) {
	if e.history == nil {
		return
	}
	last := req.Messages[len(req.Messages)-1]
	toSave := []provider.Message{}
	if last.Role == provider.RoleUser {
		toSave = append(toSave, last)
	}
	toSave = append(toSave, provider.Message{Role: provider.RoleAssistant, Content: reply})
	for _, m := range toSave {
		if err := e.history.AppendMessage(ctx, req.ConversationID, m); err != nil {
			e.logger.Warn("append history failed", zap.String("conversation", req.ConversationID), zap.Error(err))
			return
		}
	}
}

// complete performs one model call, streaming when events are wanted.
func (e *Engine) complete(ctx context.Context, req *provider.ChatRequest, stream bool, emit Emitter) (*provider.ChatResponse, error) {
	if !stream {
		return e.model.Chat(ctx, req)
	}
	ch, err := e.model.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	resp := &provider.ChatResponse{Model: req.Model}
	var content strings.Builder
	for chunk := range ch {
		if chunk.Content != "" {
			content.WriteString(chunk.Content)
			emit(Event{Type: EventText, Content: chunk.Content})
		}
		resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
		if chunk.FinishReason != "" {
			resp.FinishReason = chunk.FinishReason
		}
		if chunk.Err != nil {
			return nil, chunk.Err
		}
	}
	resp.Content = content.String()
	return resp, nil
}

// runTool executes one tool call. Executor failures become an error payload
// for the model; they never abort the turn.
func (e *Engine) runTool(ctx context.Context, mgr *toolstate.Manager, tools skill.ToolSet, tc provider.ToolCall, chain *ThinkingChain, emit Emitter) (ToolCallRecord, []string) {
	rec := ToolCallRecord{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
	emit(Event{Type: EventToolCall, ToolCall: &rec})
	chain.add(StepToolCall, fmt.Sprintf("%s(%s)", rec.Name, truncateStr(rec.Arguments, 200)), nil)

	start := time.Now()
	out, err := tools.Execute(ctx, tc.Function.Name, json.RawMessage(tc.Function.Arguments))
	rec.Duration = time.Since(start)
	if err != nil {
		rec.Error = err.Error()
		b, _ := json.Marshal(map[string]string{"error": err.Error()})
		out = string(b)
		e.logger.Debug("tool failed", zap.String("tool", rec.Name), zap.Error(err))
	}
	rec.Result = out

	var unlocked []string
	if err == nil && tc.Function.Name == skill.DiscoverToolName {
		unlocked = e.applyDiscovery(mgr, out, chain, emit)
	}

	chain.add(StepToolResult, fmt.Sprintf("%s -> %s", rec.Name, truncateStr(out, 200)), nil)
	emit(Event{Type: EventToolResult, ToolCall: &rec})
	return rec, unlocked
}

func (e *Engine) applyDiscovery(mgr *toolstate.Manager, output string, chain *ThinkingChain, emit Emitter) []string {
	res, err := skill.ParseDiscoveryResult(output)
	if err != nil {
		e.logger.Warn("discovery result unreadable", zap.Error(err))
		return nil
	}
	category := res.Category
	if category == "all" {
		category = ""
	}
	added := mgr.OnSkillsDiscovered(res.Query, res.SkillIDs, category)
	if len(added) > 0 {
		chain.add(StepSkillsUnlock, fmt.Sprintf("Unlocked %s", strings.Join(added, ", ")), added)
		emit(Event{Type: EventSkillsUnlocked, Skills: added})
	}
	return added
}

// toolDefinitions converts a tool-set into provider tool definitions, in
// the tool-set's stable order.
func toolDefinitions(ts skill.ToolSet) []provider.Tool {
	sorted := ts.Sorted()
	out := make([]provider.Tool, 0, len(sorted))
	for _, t := range sorted {
		params := t.InputSchema
		if params == nil {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		out = append(out, provider.Tool{
			Type: "function",
			Function: provider.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return window.Truncate(s, max) + "..."
}
