package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nidhogg/skillchat/internal/provider"
	"github.com/nidhogg/skillchat/internal/store"
	"github.com/nidhogg/skillchat/internal/toolstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "skillchat.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var (
	_ store.NoteStore       = (*Store)(nil)
	_ store.TaskStore       = (*Store)(nil)
	_ toolstate.Snapshotter = (*Store)(nil)
)

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "db.sqlite")
	ctx := context.Background()
	s, err := Open(ctx, path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.SaveToolState(ctx, toolstate.State{ConversationID: "c"}))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	_, found, err := s.LoadToolState(ctx, "c")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendMessage(ctx, "c1", provider.Message{Role: provider.RoleUser, Content: "first"}))
	require.NoError(t, s.AppendMessage(ctx, "c1", provider.Message{
		Role:      provider.RoleAssistant,
		ToolCalls: []provider.ToolCall{{ID: "t1", Type: "function", Function: provider.ToolCallFunction{Name: "discover_skills", Arguments: `{"query":"math"}`}}},
	}))
	require.NoError(t, s.AppendMessage(ctx, "c1", provider.Message{Role: provider.RoleTool, Name: "discover_skills", ToolCallID: "t1", Content: "{}"}))
	require.NoError(t, s.AppendMessage(ctx, "c2", provider.Message{Role: provider.RoleUser, Content: "other"}))

	msgs, err := s.GetMessages(ctx, "c1", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Len(t, msgs[0].ToolCalls, 1)
	assert.Equal(t, "discover_skills", msgs[0].ToolCalls[0].Function.Name)
	assert.Equal(t, "t1", msgs[1].ToolCallID)

	require.NoError(t, s.DeleteMessages(ctx, "c1"))
	msgs, err = s.GetMessages(ctx, "c1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestToolStateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	st := toolstate.State{
		ConversationID: "c1",
		LoadedSkills:   []string{"calculator"},
		DiscoveryHistory: []toolstate.DiscoveryEvent{
			{Query: "math", Results: []string{"calculator"}, Timestamp: ts},
		},
	}
	require.NoError(t, s.SaveToolState(ctx, st))
	st.LoadedSkills = append(st.LoadedSkills, "save_note")
	require.NoError(t, s.SaveToolState(ctx, st))

	got, found, err := s.LoadToolState(ctx, "c1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"calculator", "save_note"}, got.LoadedSkills)
	require.Len(t, got.DiscoveryHistory, 1)
	assert.True(t, ts.Equal(got.DiscoveryHistory[0].Timestamp))

	require.NoError(t, s.DeleteToolState(ctx, "c1"))
	_, found, err = s.LoadToolState(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNotes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	a := &store.Note{Title: "Recipe", Content: "flour and water", Tags: []string{"cooking"}}
	require.NoError(t, s.SaveNote(ctx, a))
	require.NotEmpty(t, a.ID)
	b := &store.Note{Title: "Ideas", Content: "a bread app"}
	require.NoError(t, s.SaveNote(ctx, b))

	all, err := s.ListNotes(ctx, store.NoteFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID)

	flour, err := s.ListNotes(ctx, store.NoteFilter{Query: "flour"})
	require.NoError(t, err)
	require.Len(t, flour, 1)
	assert.Equal(t, []string{"cooking"}, flour[0].Tags)

	tagged, err := s.ListNotes(ctx, store.NoteFilter{Tag: "cooking"})
	require.NoError(t, err)
	require.Len(t, tagged, 1)

	created := a.CreatedAt
	a.Content = "flour, water, salt"
	require.NoError(t, s.SaveNote(ctx, a))
	assert.True(t, created.Equal(a.CreatedAt))
	assert.True(t, a.UpdatedAt.After(created))

	require.NoError(t, s.DeleteNote(ctx, a.ID))
	_, err = s.GetNote(ctx, a.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTasks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	due := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	one := &store.Task{Title: "one", DueAt: &due}
	two := &store.Task{Title: "two"}
	require.NoError(t, s.AddTask(ctx, one))
	require.NoError(t, s.AddTask(ctx, two))

	done, err := s.CompleteTask(ctx, one.ID)
	require.NoError(t, err)
	assert.True(t, done.Done)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.DueAt)
	assert.True(t, due.Equal(*done.DueAt))

	open, err := s.ListTasks(ctx, false)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "two", open[0].Title)

	all, err := s.ListTasks(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "one", all[0].Title)

	_, err = s.CompleteTask(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteTask(ctx, "missing"), store.ErrNotFound)
}
