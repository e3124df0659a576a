package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nidhogg/skillchat/internal/provider"
	"github.com/nidhogg/skillchat/internal/skill"
	"github.com/nidhogg/skillchat/internal/toolstate"
	"github.com/nidhogg/skillchat/internal/window"
	"go.uber.org/zap"
)

// scriptedModel replays responses in order and records every request.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*provider.ChatResponse
	requests  []*provider.ChatRequest
	err       error
}

func (m *scriptedModel) next(req *provider.ChatRequest) (*provider.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	cp.Messages = append([]provider.Message(nil), req.Messages...)
	m.requests = append(m.requests, &cp)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &provider.ChatResponse{Content: "done"}, nil
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r, nil
}

func (m *scriptedModel) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	return m.next(req)
}

func (m *scriptedModel) ChatStream(_ context.Context, req *provider.ChatRequest) (<-chan *provider.StreamChunk, error) {
	resp, err := m.next(req)
	if err != nil {
		return nil, err
	}
	ch := make(chan *provider.StreamChunk, 3)
	if resp.Content != "" {
		ch <- &provider.StreamChunk{Content: resp.Content}
	}
	usage := resp.Usage
	ch <- &provider.StreamChunk{ToolCalls: resp.ToolCalls, Usage: &usage, Done: true}
	close(ch)
	return ch, nil
}

type memHistory struct {
	msgs map[string][]provider.Message
}

func (h *memHistory) AppendMessage(_ context.Context, id string, m provider.Message) error {
	h.msgs[id] = append(h.msgs[id], m)
	return nil
}

func (h *memHistory) GetMessages(_ context.Context, id string, limit int) ([]provider.Message, error) {
	msgs := h.msgs[id]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func toolCall(id, name, args string) provider.ToolCall {
	return provider.ToolCall{ID: id, Type: "function", Function: provider.ToolCallFunction{Name: name, Arguments: args}}
}

func newTestEngine(t *testing.T, model ChatModel, opts ...Option) *Engine {
	t.Helper()
	r := skill.NewRegistry(zap.NewNop())
	r.Register(skill.Config{
		ID: "calculator", Name: "Calculator", Description: "Evaluate math expressions",
		Keywords: []string{"math", "calculate"}, Tier: skill.TierCore, Category: skill.CategoryProductivity,
		Executor: skill.ExecutorFunc(func(_ context.Context, in json.RawMessage) (string, error) {
			var args struct {
				Expression string `json:"expression"`
			}
			if err := json.Unmarshal(in, &args); err != nil {
				return "", err
			}
			if args.Expression == "boom" {
				return "", errors.New("cannot evaluate")
			}
			return "4", nil
		}),
	})
	r.Register(skill.Config{
		ID: "web_fetch", Name: "Web Fetch", Description: "Fetch a web page",
		Keywords: []string{"web", "url"}, Tier: skill.TierNetwork, Category: skill.CategoryNetwork,
		RequiresNetwork: true,
		Executor:        skill.ExecutorFunc(func(context.Context, json.RawMessage) (string, error) { return "page", nil }),
	})
	d := skill.NewDiscovery(r)
	sessions := toolstate.NewStore(r, d, nil, toolstate.StoreConfig{}, zap.NewNop())
	return NewEngine(model, sessions, zap.NewNop(), opts...)
}

func toolNames(req *provider.ChatRequest) []string {
	names := make([]string, len(req.Tools))
	for i, t := range req.Tools {
		names[i] = t.Function.Name
	}
	return names
}

func TestChatWithoutToolsReturnsContent(t *testing.T) {
	model := &scriptedModel{responses: []*provider.ChatResponse{{Content: "hello there"}}}
	e := newTestEngine(t, model)

	res, err := e.Chat(context.Background(), ChatRequest{
		ConversationID: "c1",
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Content != "hello there" {
		t.Errorf("expected content, got %q", res.Content)
	}
	if len(model.requests) != 1 {
		t.Fatalf("expected 1 model call, got %d", len(model.requests))
	}
	got := toolNames(model.requests[0])
	if len(got) != 1 || got[0] != skill.DiscoverToolName {
		t.Errorf("fresh conversation should only offer discovery, got %v", got)
	}
	if model.requests[0].Messages[0].Role != provider.RoleSystem {
		t.Errorf("first message should be system prompt")
	}
}

func TestDiscoveryUnlocksSkillForNextRound(t *testing.T) {
	model := &scriptedModel{responses: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{toolCall("1", skill.DiscoverToolName, `{"query":"math"}`)}},
		{ToolCalls: []provider.ToolCall{toolCall("2", "calculator", `{"expression":"2+2"}`)}},
		{Content: "2+2 is 4"},
	}}
	e := newTestEngine(t, model)

	var events []EventType
	res, err := e.Chat(context.Background(), ChatRequest{
		ConversationID: "c1",
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: "what is 2+2?"}},
	}, func(ev Event) { events = append(events, ev.Type) })
	if err != nil {
		t.Fatalf("chat: %v", err)
	}

	if res.Content != "2+2 is 4" {
		t.Errorf("unexpected content %q", res.Content)
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(res.ToolCalls))
	}
	if res.ToolCalls[1].Result != "4" {
		t.Errorf("calculator result = %q", res.ToolCalls[1].Result)
	}
	if len(res.LoadedSkills) != 1 || res.LoadedSkills[0] != "calculator" {
		t.Errorf("loaded skills = %v", res.LoadedSkills)
	}
	if len(res.Unlocked) != 1 || res.Unlocked[0] != "calculator" {
		t.Errorf("unlocked = %v", res.Unlocked)
	}

	if got := toolNames(model.requests[1]); len(got) != 2 || got[1] != "calculator" {
		t.Errorf("second round tools = %v", got)
	}
	if !strings.Contains(model.requests[1].Messages[0].Content, "Calculator") {
		t.Errorf("system prompt should list loaded skills: %q", model.requests[1].Messages[0].Content)
	}

	sawUnlock := false
	for _, ev := range events {
		if ev == EventSkillsUnlocked {
			sawUnlock = true
		}
	}
	if !sawUnlock {
		t.Errorf("expected skills_unlocked event, got %v", events)
	}
	if events[len(events)-1] != EventDone {
		t.Errorf("last event should be done, got %v", events[len(events)-1])
	}
}

func TestUnlockedSkillsPersistAcrossTurns(t *testing.T) {
	model := &scriptedModel{responses: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{toolCall("1", skill.DiscoverToolName, `{"query":"calculate"}`)}},
		{Content: "ready"},
		{Content: "second turn"},
	}}
	e := newTestEngine(t, model)
	ctx := context.Background()

	for _, msg := range []string{"get a calculator", "now use it"} {
		if _, err := e.Chat(ctx, ChatRequest{
			ConversationID: "c1",
			Messages:       []provider.Message{{Role: provider.RoleUser, Content: msg}},
		}, nil); err != nil {
			t.Fatalf("chat: %v", err)
		}
	}
	if got := toolNames(model.requests[2]); len(got) != 2 {
		t.Errorf("second turn should still offer calculator, got %v", got)
	}

	// A different conversation starts fresh.
	if _, err := e.Chat(ctx, ChatRequest{
		ConversationID: "c2",
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	}, nil); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got := toolNames(model.requests[3]); len(got) != 1 {
		t.Errorf("other conversation leaked tools: %v", got)
	}
}

func TestDisabledSkillIsNotUnlocked(t *testing.T) {
	model := &scriptedModel{responses: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{toolCall("1", skill.DiscoverToolName, `{"query":"web"}`)}},
		{Content: "no web"},
	}}
	e := newTestEngine(t, model)

	res, err := e.Chat(context.Background(), ChatRequest{
		ConversationID: "c1",
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: "fetch a url"}},
	}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(res.LoadedSkills) != 0 {
		t.Errorf("network skill should stay locked, got %v", res.LoadedSkills)
	}
}

func TestUnavailableToolReturnsErrorToModel(t *testing.T) {
	model := &scriptedModel{responses: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{toolCall("1", "calculator", `{"expression":"1+1"}`)}},
		{Content: "sorry"},
	}}
	e := newTestEngine(t, model)

	res, err := e.Chat(context.Background(), ChatRequest{
		ConversationID: "c1",
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: "1+1"}},
	}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.ToolCalls[0].Error == "" {
		t.Fatalf("expected tool error for locked calculator")
	}
	last := model.requests[1].Messages[len(model.requests[1].Messages)-1]
	if last.Role != provider.RoleTool || last.ToolCallID != "1" || !strings.Contains(last.Content, "error") {
		t.Errorf("unexpected tool message %+v", last)
	}
}

func TestExecutorErrorDoesNotAbortTurn(t *testing.T) {
	model := &scriptedModel{responses: []*provider.ChatResponse{
		{ToolCalls: []provider.ToolCall{toolCall("1", "calculator", `{"expression":"boom"}`)}},
		{Content: "it failed"},
	}}
	e := newTestEngine(t, model)

	res, err := e.Chat(context.Background(), ChatRequest{
		ConversationID: "c1",
		LoadedSkills:   []string{"calculator"},
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: "boom"}},
	}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.ToolCalls[0].Error != "cannot evaluate" {
		t.Errorf("error = %q", res.ToolCalls[0].Error)
	}
	if res.Content != "it failed" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestMaxRoundsStopsToolLoop(t *testing.T) {
	loop := &provider.ChatResponse{ToolCalls: []provider.ToolCall{toolCall("1", skill.DiscoverToolName, `{"query":"math"}`)}}
	model := &scriptedModel{responses: []*provider.ChatResponse{loop, loop, {Content: "2 + 2 is 4"}}}
	e := newTestEngine(t, model, WithMaxRounds(2))

	res, err := e.Chat(context.Background(), ChatRequest{
		ConversationID: "c1",
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: "loop"}},
	}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(model.requests) != 3 {
		t.Fatalf("expected 2 tool rounds and a final call, got %d", len(model.requests))
	}
	if len(model.requests[2].Tools) != 0 {
		t.Errorf("final call should offer no tools, got %v", toolNames(model.requests[2]))
	}
	if res.Content != "2 + 2 is 4" {
		t.Errorf("content = %q", res.Content)
	}
}

func TestRoundLimitWithoutAnswerSavesNotice(t *testing.T) {
	loop := &provider.ChatResponse{ToolCalls: []provider.ToolCall{toolCall("1", skill.DiscoverToolName, `{"query":"math"}`)}}
	model := &scriptedModel{responses: []*provider.ChatResponse{loop, loop}}
	model.responses = append(model.responses, &provider.ChatResponse{ToolCalls: loop.ToolCalls})
	hist := &memHistory{msgs: map[string][]provider.Message{}}
	e := newTestEngine(t, model, WithMaxRounds(2), WithHistory(hist, 10))

	res, err := e.Chat(context.Background(), ChatRequest{
		ConversationID: "c1",
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: "loop"}},
	}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Content != RoundLimitNotice {
		t.Errorf("content = %q", res.Content)
	}
	saved := hist.msgs["c1"]
	if len(saved) != 2 || saved[1].Content != RoundLimitNotice {
		t.Errorf("unexpected saved history %+v", saved)
	}
}

func TestModelErrorIsReturned(t *testing.T) {
	model := &scriptedModel{err: errors.New("offline")}
	e := newTestEngine(t, model)

	_, err := e.Chat(context.Background(), ChatRequest{
		ConversationID: "c1",
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "offline") {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestEmptyRequestRejected(t *testing.T) {
	e := newTestEngine(t, &scriptedModel{})
	_, err := e.Chat(context.Background(), ChatRequest{ConversationID: "c1"}, nil)
	if !errors.Is(err, ErrEmptyConversation) {
		t.Fatalf("expected ErrEmptyConversation, got %v", err)
	}
}

func TestHistoryIsLoadedAndSaved(t *testing.T) {
	h := &memHistory{msgs: map[string][]provider.Message{
		"c1": {
			{Role: provider.RoleUser, Content: "earlier"},
			{Role: provider.RoleAssistant, Content: "reply"},
		},
	}}
	model := &scriptedModel{responses: []*provider.ChatResponse{{Content: "ok"}}}
	e := newTestEngine(t, model, WithHistory(h, 10))

	if _, err := e.Chat(context.Background(), ChatRequest{
		ConversationID: "c1",
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: "now"}},
	}, nil); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if n := len(model.requests[0].Messages); n != 4 {
		t.Errorf("expected system + 2 history + 1 new, got %d", n)
	}
	if n := len(h.msgs["c1"]); n != 4 {
		t.Errorf("expected 4 stored messages, got %d", n)
	}
}

func TestGeneratedConversationID(t *testing.T) {
	e := newTestEngine(t, &scriptedModel{})
	res, err := e.Chat(context.Background(), ChatRequest{
		Messages: []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
	}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.ConversationID == "" {
		t.Fatal("expected generated conversation id")
	}
	if _, ok := e.Sessions().Get(res.ConversationID); !ok {
		t.Error("session should exist for generated id")
	}
}

func TestWindowTrimsLongHistory(t *testing.T) {
	long := strings.Repeat("abcd", 200)
	h := &memHistory{msgs: map[string][]provider.Message{"c": {
		{Role: provider.RoleUser, Content: long},
		{Role: provider.RoleAssistant, Content: long},
		{Role: provider.RoleUser, Content: long},
		{Role: provider.RoleAssistant, Content: long},
	}}}
	model := &scriptedModel{}
	fitter := window.NewFitter(window.Config{MaxTokens: 800, ReserveRatio: 0.5}, nil, zap.NewNop())
	e := newTestEngine(t, model, WithHistory(h, 10), WithWindow(fitter))

	_, err := e.Chat(context.Background(), ChatRequest{
		ConversationID: "c",
		Messages:       []provider.Message{{Role: provider.RoleUser, Content: "latest"}},
	}, nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	sent := model.requests[0].Messages
	if len(sent) != 4 {
		t.Fatalf("expected the oldest turn to be dropped, got %d messages", len(sent))
	}
	if sent[0].Role != provider.RoleSystem || sent[len(sent)-1].Content != "latest" {
		t.Errorf("unexpected window: first %s, last %q", sent[0].Role, sent[len(sent)-1].Content)
	}
}
