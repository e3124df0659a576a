package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/nidhogg/skillchat/internal/skill"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T, deps Deps) *skill.Registry {
	t.Helper()
	r := skill.NewRegistry(zap.NewNop())
	Register(r, deps)
	return r
}

// run executes a registered skill's tool with JSON input.
func run(t *testing.T, r *skill.Registry, id string, input string) (string, error) {
	t.Helper()
	d, ok := r.Get(id)
	require.True(t, ok, "skill %s not registered", id)
	tool := d.Tool()
	require.NotNil(t, tool.Executor, "skill %s has no executor", id)
	return tool.Executor.Execute(context.Background(), json.RawMessage(input))
}

func TestRegisterCatalog(t *testing.T) {
	r := newTestRegistry(t, Deps{})
	assert.Equal(t, 10, r.Len())

	byTier := r.GetSkillsByTier()
	assert.Len(t, byTier[skill.TierCore], 4)
	assert.Len(t, byTier[skill.TierEnhanced], 3)
	assert.Len(t, byTier[skill.TierNetwork], 1)
	assert.Len(t, byTier[skill.TierIntegration], 2)

	for _, d := range r.GetAllSkills() {
		assert.Equal(t, d.Tier.DefaultEnabled(), d.Enabled, d.ID)
		assert.NotEmpty(t, d.Keywords, d.ID)
		if d.Tier == skill.TierIntegration {
			assert.True(t, d.RequiresApproval, d.ID)
			assert.False(t, d.Executable(), "%s has no client configured", d.ID)
		}
		if d.Tier == skill.TierNetwork || d.Tier == skill.TierIntegration {
			assert.True(t, d.RequiresNetwork, d.ID)
		}
	}

	found := skill.NewDiscovery(r).Search("math", "")
	require.NotEmpty(t, found.SkillIDs)
	assert.Equal(t, "calculator", found.SkillIDs[0])
}

func TestCalculator(t *testing.T) {
	cases := []struct {
		expr string
		want float64
	}{
		{"2 + 2", 4},
		{"(2 + 3) * 4", 20},
		{"2^10", 1024},
		{"sqrt(16) + 1", 5},
		{"10 / 4", 2.5},
		{"max(3, 7, 5) % 4", 3},
		{"round(PI * 100) / 100", 3.14},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := Evaluate(context.Background(), tc.expr)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestCalculatorRejects(t *testing.T) {
	for _, expr := range []string{"", "alert('x')", "1/0", "foo + 1", "[1,2]", "x = {}"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Evaluate(context.Background(), expr)
			assert.Error(t, err)
		})
	}
}

func TestCalculatorSkillOutput(t *testing.T) {
	r := newTestRegistry(t, Deps{})
	out, err := run(t, r, "calculator", `{"expression":"6*7"}`)
	require.NoError(t, err)
	assert.Equal(t, 42.0, gjson.Get(out, "result").Float())
	assert.Equal(t, "42", gjson.Get(out, "formatted").String())
}

func TestNotesRoundTrip(t *testing.T) {
	r := newTestRegistry(t, Deps{})

	out, err := run(t, r, "save_note", `{"content":"---\ntitle: Shopping\ntags: [home, weekly]\n---\n- milk\n- **eggs**\n"}`)
	require.NoError(t, err)
	assert.Equal(t, "Shopping", gjson.Get(out, "title").String())
	assert.Equal(t, `["home","weekly"]`, gjson.Get(out, "tags").Raw)
	id := gjson.Get(out, "id").String()
	require.NotEmpty(t, id)

	_, err = run(t, r, "save_note", `{"content":"# Meeting notes\nship it"}`)
	require.NoError(t, err)

	out, err = run(t, r, "read_notes", `{"tag":"weekly"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gjson.Get(out, "count").Int())
	assert.NotContains(t, gjson.Get(out, "notes.0.content").String(), "title:")

	out, err = run(t, r, "read_notes", `{"query":"ship"}`)
	require.NoError(t, err)
	assert.Equal(t, "Meeting notes", gjson.Get(out, "notes.0.title").String())

	out, err = run(t, r, "read_notes", `{"id":"`+id+`","format":"html"}`)
	require.NoError(t, err)
	assert.Contains(t, gjson.Get(out, "notes.0.html").String(), "<strong>eggs</strong>")

	_, err = run(t, r, "read_notes", `{"id":"missing"}`)
	assert.Error(t, err)
	_, err = run(t, r, "save_note", `{"content":"  "}`)
	assert.Error(t, err)
}

func TestTasksFlow(t *testing.T) {
	r := newTestRegistry(t, Deps{})

	out, err := run(t, r, "manage_tasks", `{"action":"add","title":"file taxes","due":"2026-04-15"}`)
	require.NoError(t, err)
	id := gjson.Get(out, "task.id").String()
	require.NotEmpty(t, id)
	assert.Contains(t, gjson.Get(out, "task.due_at").String(), "2026-04-15")

	_, err = run(t, r, "manage_tasks", `{"action":"add","title":"call mom"}`)
	require.NoError(t, err)

	_, err = run(t, r, "manage_tasks", `{"action":"complete","id":"`+id+`"}`)
	require.NoError(t, err)

	out, err = run(t, r, "manage_tasks", `{"action":"list"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gjson.Get(out, "count").Int())
	assert.Equal(t, "call mom", gjson.Get(out, "tasks.0.title").String())

	out, err = run(t, r, "manage_tasks", `{"action":"list","include_done":true}`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gjson.Get(out, "count").Int())

	_, err = run(t, r, "manage_tasks", `{"action":"add"}`)
	assert.Error(t, err)
	_, err = run(t, r, "manage_tasks", `{"action":"add","title":"x","due":"someday"}`)
	assert.Error(t, err)
	_, err = run(t, r, "manage_tasks", `{"action":"archive"}`)
	assert.Error(t, err)
}

func TestMemorySkill(t *testing.T) {
	r := newTestRegistry(t, Deps{})

	_, err := run(t, r, "memory", `{"action":"remember","key":"Coffee","value":"oat flat white"}`)
	require.NoError(t, err)

	out, err := run(t, r, "memory", `{"action":"recall","query":"coffee order"}`)
	require.NoError(t, err)
	assert.Equal(t, "oat flat white", gjson.Get(out, "facts.0.value").String())

	out, err = run(t, r, "memory", `{"action":"forget","key":"coffee"}`)
	require.NoError(t, err)
	assert.True(t, gjson.Get(out, "forgotten").Bool())

	_, err = run(t, r, "memory", `{"action":"remember","key":"x"}`)
	assert.Error(t, err)
}

func TestFormatCode(t *testing.T) {
	cases := []struct {
		lang, in, want string
		minify         bool
	}{
		{lang: "go", in: "package main\nfunc main(){\nx:=1\n_=x\n}", want: "func main() {\n\tx := 1\n\t_ = x\n}\n"},
		{lang: "json", in: `{"a":[1,2]}`, want: "{\n  \"a\": [\n    1,\n    2\n  ]\n}"},
		{lang: "json", in: "{ \"a\" : 1 }", want: `{"a":1}`, minify: true},
		{lang: "yaml", in: "a:   1\nb:\n    - x\n", want: "a: 1\nb:\n  - x\n"},
		{lang: "toml", in: "title='x'\n[owner]\nname = 'y'", want: "[owner]\nname = "},
	}
	for _, tc := range cases {
		t.Run(tc.lang, func(t *testing.T) {
			got, err := FormatCode(tc.lang, tc.in, tc.minify)
			require.NoError(t, err)
			assert.Contains(t, got, tc.want)
		})
	}

	_, err := FormatCode("go", "func {", false)
	assert.Error(t, err)
	_, err = FormatCode("cobol", "x", false)
	assert.Error(t, err)
}

func TestParseData(t *testing.T) {
	r := newTestRegistry(t, Deps{})

	out, err := run(t, r, "parse_data", `{"data":"name,age\nann,31\nbob,27","query":"#(name==\"bob\").age"}`)
	require.NoError(t, err)
	assert.Equal(t, "csv", gjson.Get(out, "format").String())
	assert.Equal(t, "27", gjson.Get(out, "result").String())

	format, doc, err := ParseData("", "server:\n  port: 8080\n  hosts: [a, b]\n")
	require.NoError(t, err)
	assert.Equal(t, "yaml", format)
	assert.Equal(t, int64(8080), gjson.GetBytes(doc, "server.port").Int())
	assert.Equal(t, "b", gjson.GetBytes(doc, "server.hosts.1").String())

	format, doc, err = ParseData("toml", "[db]\nport = 5432\n")
	require.NoError(t, err)
	assert.Equal(t, "toml", format)
	assert.Equal(t, int64(5432), gjson.GetBytes(doc, "db.port").Int())

	format, _, err = ParseData("auto", `[{"a":1}]`)
	require.NoError(t, err)
	assert.Equal(t, "json", format)

	_, err = run(t, r, "parse_data", `{"data":"{\"a\":1}","query":"b"}`)
	assert.Error(t, err)
	_, _, err = ParseData("json", "{nope")
	assert.Error(t, err)
}

func TestWebFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(`<html><body><h1>Title</h1><p>Hello <b>world</b></p></body></html>`))
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte{0x89, 0x50})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := newTestRegistry(t, Deps{HTTPClient: srv.Client()})
	d, _ := r.Get("web_fetch")
	assert.False(t, d.Enabled, "network tier is off by default")

	out, err := run(t, r, "web_fetch", `{"url":"`+srv.URL+`/page"}`)
	require.NoError(t, err)
	content := gjson.Get(out, "content").String()
	assert.Contains(t, content, "# Title")
	assert.Contains(t, content, "**world**")
	assert.True(t, gjson.Get(out, "markdown").Bool())

	out, err = run(t, r, "web_fetch", `{"url":"`+srv.URL+`/page","raw":true,"max_length":100}`)
	require.NoError(t, err)
	assert.Contains(t, gjson.Get(out, "content").String(), "<h1>")

	for _, bad := range []string{srv.URL + "/image", srv.URL + "/missing", "ftp://example.com", "not a url"} {
		_, err := run(t, r, "web_fetch", `{"url":"`+bad+`"}`)
		assert.Error(t, err, bad)
	}
}

func TestSlackPost(t *testing.T) {
	var got struct{ channel, text, thread string }
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got.channel = r.PostForm.Get("channel")
		got.text = r.PostForm.Get("text")
		got.thread = r.PostForm.Get("thread_ts")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer srv.Close()

	client := slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/"))
	r := newTestRegistry(t, Deps{Slack: client})

	out, err := run(t, r, "slack_post", `{"channel":"#general","text":"deploy done","thread_ts":"1.2"}`)
	require.NoError(t, err)
	assert.Equal(t, "general", got.channel)
	assert.Equal(t, "deploy done", got.text)
	assert.Equal(t, "1.2", got.thread)
	assert.Equal(t, "1700000000.000100", gjson.Get(out, "ts").String())
}

type fakeDiscord struct {
	sent map[string]string
	err  error
}

func (f *fakeDiscord) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent[channelID] = content
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func TestDiscordPost(t *testing.T) {
	fake := &fakeDiscord{sent: map[string]string{}}
	r := newTestRegistry(t, Deps{Discord: fake})

	out, err := run(t, r, "discord_post", `{"channel_id":"42","content":"hi there"}`)
	require.NoError(t, err)
	assert.Equal(t, "hi there", fake.sent["42"])
	assert.Equal(t, "m1", gjson.Get(out, "message_id").String())

	_, err = run(t, r, "discord_post", `{"channel_id":"42","content":"`+strings.Repeat("x", 2001)+`"}`)
	assert.Error(t, err)

	fake.err = errors.New("missing access")
	_, err = run(t, r, "discord_post", `{"channel_id":"42","content":"hi"}`)
	assert.ErrorContains(t, err, "missing access")
}
