package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nidhogg/skillchat/internal/agent"
	"github.com/nidhogg/skillchat/internal/command"
	"github.com/nidhogg/skillchat/internal/provider"
	"github.com/nidhogg/skillchat/internal/skill"
	"github.com/nidhogg/skillchat/internal/store"
	"github.com/nidhogg/skillchat/internal/toolstate"
	"go.uber.org/zap"
)

// replyModel answers every request with the same text and no tool calls.
type replyModel struct{ reply string }

func (m replyModel) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	return &provider.ChatResponse{Model: req.Model, Content: m.reply, FinishReason: "stop"}, nil
}

func (m replyModel) ChatStream(_ context.Context, _ *provider.ChatRequest) (<-chan *provider.StreamChunk, error) {
	ch := make(chan *provider.StreamChunk, 2)
	ch <- &provider.StreamChunk{Content: m.reply}
	ch <- &provider.StreamChunk{FinishReason: "stop", Done: true}
	close(ch)
	return ch, nil
}

func echo(_ context.Context, input json.RawMessage) (string, error) { return string(input), nil }

// newTestServer wires a Handler over in-memory deps.
func newTestServer(t *testing.T) (*httptest.Server, *skill.Registry) {
	t.Helper()
	logger := zap.NewNop()

	registry := skill.NewRegistry(logger)
	registry.Register(skill.Config{
		ID: "calculator", Name: "Calculator", Description: "Evaluate math expressions",
		Keywords: []string{"math", "calculate"}, Tier: skill.TierCore, Category: skill.CategoryProductivity,
		Executor: skill.ExecutorFunc(echo),
	})
	registry.Register(skill.Config{
		ID: "format_code", Name: "Format Code", Description: "Format source code",
		Keywords: []string{"format", "code"}, Tier: skill.TierEnhanced, Category: skill.CategoryDeveloper,
		Executor: skill.ExecutorFunc(echo),
	})
	registry.Register(skill.Config{
		ID: "web_fetch", Name: "Web Fetch", Description: "Fetch a web page",
		Keywords: []string{"web", "fetch", "url"}, Tier: skill.TierNetwork, Category: skill.CategoryNetwork,
		RequiresNetwork: true, Executor: skill.ExecutorFunc(echo),
	})
	discovery := skill.NewDiscovery(registry)

	mem := store.NewMemory()
	sessions := toolstate.NewStore(registry, discovery, mem, toolstate.StoreConfig{}, logger)
	engine := agent.NewEngine(replyModel{reply: "hello there"}, sessions, logger,
		agent.WithHistory(mem, 20), agent.WithDefaultModel("test-model"))

	status := func(context.Context) provider.Status {
		return provider.Status{Connected: true, Provider: "fake", Models: []string{"test-model"}}
	}
	commands := command.NewRegistry()
	command.RegisterBuiltins(commands, registry, discovery)
	h := NewHandler(engine, registry, discovery, commands, status, logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts, registry
}

func do(t *testing.T, ts *httptest.Server, method, path string, body interface{}) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, ts.URL+path, rd)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		resp.Body.Close()
		t.Fatalf("expected %d, got %d", want, resp.StatusCode)
	}
}

func TestHealthAndStatus(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, ts, "GET", "/api/health", nil)
	expectStatus(t, resp, 200)
	var health map[string]interface{}
	decodeJSON(t, resp, &health)
	if health["status"] != "ok" || health["skills"] != float64(3) {
		t.Errorf("unexpected health body: %v", health)
	}

	resp = do(t, ts, "GET", "/api/status", nil)
	expectStatus(t, resp, 200)
	var st provider.Status
	decodeJSON(t, resp, &st)
	if !st.Connected || len(st.Models) != 1 {
		t.Errorf("unexpected status: %+v", st)
	}

	resp = do(t, ts, "GET", "/api/gateways", nil)
	expectStatus(t, resp, 200)
	var gws []map[string]interface{}
	decodeJSON(t, resp, &gws)
	if gws == nil || len(gws) != 0 {
		t.Errorf("expected an empty gateway list, got %v", gws)
	}
}

func TestListSkillsFilters(t *testing.T) {
	ts, _ := newTestServer(t)

	cases := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?tier=core", 1},
		{"?category=developer", 1},
		{"?category=all", 3},
		{"?enabled=true", 2},
		{"?enabled=false", 1},
	}
	for _, c := range cases {
		resp := do(t, ts, "GET", "/api/skills"+c.query, nil)
		expectStatus(t, resp, 200)
		var skills []skill.Descriptor
		decodeJSON(t, resp, &skills)
		if len(skills) != c.want {
			t.Errorf("%q: expected %d skills, got %d", c.query, c.want, len(skills))
		}
	}

	for _, bad := range []string{"?tier=gold", "?category=games", "?enabled=maybe"} {
		resp := do(t, ts, "GET", "/api/skills"+bad, nil)
		resp.Body.Close()
		if resp.StatusCode != 400 {
			t.Errorf("%q: expected 400, got %d", bad, resp.StatusCode)
		}
	}
}

func TestSearchSkills(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, ts, "GET", "/api/skills/search?q=math", nil)
	expectStatus(t, resp, 200)
	var found []skill.Descriptor
	decodeJSON(t, resp, &found)
	if len(found) != 1 || found[0].ID != "calculator" {
		t.Fatalf("expected calculator, got %+v", found)
	}

	resp = do(t, ts, "GET", "/api/skills/search?q=web&enabled_only=true", nil)
	expectStatus(t, resp, 200)
	decodeJSON(t, resp, &found)
	if len(found) != 0 {
		t.Errorf("disabled skill returned with enabled_only: %+v", found)
	}

	resp = do(t, ts, "GET", "/api/skills/search?q=x&limit=-1", nil)
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for negative limit, got %d", resp.StatusCode)
	}
}

func TestSkillGroupings(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, ts, "GET", "/api/skills/counts", nil)
	expectStatus(t, resp, 200)
	var counts map[string]int
	decodeJSON(t, resp, &counts)
	if counts["productivity"] != 1 || counts["developer"] != 1 || counts["network"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}

	resp = do(t, ts, "GET", "/api/skills/by-tier", nil)
	expectStatus(t, resp, 200)
	var byTier map[string][]skill.Descriptor
	decodeJSON(t, resp, &byTier)
	if len(byTier["network"]) != 1 {
		t.Errorf("expected one network skill, got %v", byTier)
	}

	resp = do(t, ts, "GET", "/api/skills/by-category", nil)
	expectStatus(t, resp, 200)
	var byCat map[string][]skill.Descriptor
	decodeJSON(t, resp, &byCat)
	if len(byCat["developer"]) != 1 {
		t.Errorf("expected one developer skill, got %v", byCat)
	}
}

func TestToggleAndResetSkill(t *testing.T) {
	ts, registry := newTestServer(t)

	resp := do(t, ts, "PUT", "/api/skills/web_fetch/enabled", map[string]bool{"enabled": true})
	expectStatus(t, resp, 200)
	var d skill.Descriptor
	decodeJSON(t, resp, &d)
	if !d.Enabled || !registry.IsEnabled("web_fetch") {
		t.Fatal("web_fetch should be enabled")
	}

	resp = do(t, ts, "PUT", "/api/skills/nope/enabled", map[string]bool{"enabled": true})
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 for unknown skill, got %d", resp.StatusCode)
	}

	resp = do(t, ts, "PUT", "/api/skills/web_fetch/enabled", map[string]string{})
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 without enabled, got %d", resp.StatusCode)
	}

	resp = do(t, ts, "POST", "/api/skills/reset", nil)
	expectStatus(t, resp, 200)
	resp.Body.Close()
	if registry.IsEnabled("web_fetch") {
		t.Error("reset should restore the network tier default")
	}

	resp = do(t, ts, "GET", "/api/skills/calculator", nil)
	expectStatus(t, resp, 200)
	decodeJSON(t, resp, &d)
	if d.Name != "Calculator" {
		t.Errorf("unexpected skill: %+v", d)
	}
	resp = do(t, ts, "GET", "/api/skills/missing", nil)
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestDiscover(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, ts, "POST", "/api/discover", map[string]string{"query": "format code"})
	expectStatus(t, resp, 200)
	var res skill.DiscoveryResult
	decodeJSON(t, resp, &res)
	if len(res.SkillIDs) != 1 || res.SkillIDs[0] != "format_code" {
		t.Fatalf("expected format_code, got %+v", res)
	}
	if res.Message == "" {
		t.Error("expected a message")
	}

	for name, body := range map[string]map[string]string{
		"blank query":      {"query": "  "},
		"unknown category": {"query": "math", "category": "bogus"},
	} {
		t.Run(name, func(t *testing.T) {
			resp := do(t, ts, "POST", "/api/discover", body)
			expectStatus(t, resp, 400)
			resp.Body.Close()
		})
	}
}

func TestChatAndHistory(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, ts, "POST", "/api/chat", map[string]interface{}{
		"conversation_id": "c1",
		"message":         "hi",
		"loaded_skills":   []string{"calculator"},
	})
	expectStatus(t, resp, 200)
	var result agent.ChatResult
	decodeJSON(t, resp, &result)
	if result.Content != "hello there" || result.ConversationID != "c1" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.LoadedSkills) != 1 || result.LoadedSkills[0] != "calculator" {
		t.Errorf("expected calculator loaded, got %v", result.LoadedSkills)
	}

	resp = do(t, ts, "GET", "/api/conversations/c1/messages", nil)
	expectStatus(t, resp, 200)
	var msgs []provider.Message
	decodeJSON(t, resp, &msgs)
	if len(msgs) != 2 || msgs[0].Content != "hi" || msgs[1].Content != "hello there" {
		t.Fatalf("unexpected history: %+v", msgs)
	}

	resp = do(t, ts, "POST", "/api/chat", map[string]interface{}{"conversation_id": "c1"})
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for empty chat, got %d", resp.StatusCode)
	}
}

func TestChatStream(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, ts, "POST", "/api/chat/stream", map[string]string{"conversation_id": "s1", "message": "hi"})
	expectStatus(t, resp, 200)
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var events []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	if len(events) < 2 || events[0] != "text" || events[len(events)-1] != "done" {
		t.Fatalf("unexpected event sequence: %v", events)
	}
}

func TestConversationTools(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, ts, "POST", "/api/conversations/c2/tools/load", map[string][]string{
		"skill_ids": {"calculator", "format_code", "web_fetch", "missing"},
	})
	expectStatus(t, resp, 200)
	var loaded struct {
		Added []string      `json:"added"`
		State toolsResponse `json:"state"`
	}
	decodeJSON(t, resp, &loaded)
	// Unknown and disabled ids are dropped.
	if len(loaded.Added) != 2 {
		t.Fatalf("expected 2 added, got %v", loaded.Added)
	}
	if len(loaded.State.Tools) != 3 {
		t.Errorf("expected discovery plus 2 tools, got %v", loaded.State.Tools)
	}

	resp = do(t, ts, "DELETE", "/api/conversations/c2/tools/calculator", nil)
	expectStatus(t, resp, 200)
	var st toolsResponse
	decodeJSON(t, resp, &st)
	if len(st.LoadedSkills) != 1 || st.LoadedSkills[0] != "format_code" {
		t.Errorf("unexpected loaded skills after unload: %v", st.LoadedSkills)
	}

	resp = do(t, ts, "DELETE", "/api/conversations/c2/tools/calculator", nil)
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("expected 404 unloading twice, got %d", resp.StatusCode)
	}

	resp = do(t, ts, "PUT", "/api/conversations/c3/tools", map[string]interface{}{
		"conversationId": "elsewhere",
		"loadedSkills":   []string{"format_code"},
		"discoveryHistory": []map[string]interface{}{
			{"query": "format", "results": []string{"format_code"}, "timestamp": "2026-01-02T03:04:05Z"},
		},
	})
	expectStatus(t, resp, 200)
	decodeJSON(t, resp, &st)
	if st.ConversationID != "c3" || len(st.DiscoveryHistory) != 1 {
		t.Fatalf("unexpected imported state: %+v", st)
	}

	resp = do(t, ts, "GET", "/api/conversations/c3/tools", nil)
	expectStatus(t, resp, 200)
	decodeJSON(t, resp, &st)
	if len(st.LoadedSkillNames) != 1 || st.LoadedSkillNames[0] != "Format Code" {
		t.Errorf("unexpected names: %v", st.LoadedSkillNames)
	}

	resp = do(t, ts, "DELETE", "/api/conversations/c3", nil)
	expectStatus(t, resp, 200)
	resp.Body.Close()

	resp = do(t, ts, "GET", "/api/conversations/c3/tools", nil)
	expectStatus(t, resp, 200)
	decodeJSON(t, resp, &st)
	if len(st.LoadedSkills) != 0 {
		t.Errorf("expected fresh state after delete, got %v", st.LoadedSkills)
	}
}

func TestChatSlashCommand(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := do(t, ts, "POST", "/api/chat", map[string]string{"conversation_id": "cmd", "message": "/discover math"})
	expectStatus(t, resp, 200)
	var result agent.ChatResult
	decodeJSON(t, resp, &result)
	if len(result.LoadedSkills) != 1 || result.LoadedSkills[0] != "calculator" {
		t.Fatalf("expected calculator loaded by /discover, got %+v", result)
	}

	// Commands never reach the model or the transcript.
	resp = do(t, ts, "GET", "/api/conversations/cmd/messages", nil)
	expectStatus(t, resp, 200)
	var msgs []provider.Message
	decodeJSON(t, resp, &msgs)
	if len(msgs) != 0 {
		t.Errorf("expected empty transcript, got %+v", msgs)
	}

	resp = do(t, ts, "POST", "/api/chat", map[string]string{"conversation_id": "cmd", "message": "/usr/bin is a path"})
	expectStatus(t, resp, 200)
	decodeJSON(t, resp, &result)
	if result.Content != "hello there" {
		t.Errorf("path-like message should go to the model, got %q", result.Content)
	}
}
