package store

import (
	"context"
	"testing"
	"time"

	"github.com/nidhogg/skillchat/internal/provider"
	"github.com/nidhogg/skillchat/internal/toolstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMessagesKeepsMostRecent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, c := range []string{"a", "b", "c"} {
		require.NoError(t, m.AppendMessage(ctx, "conv", provider.Message{Role: provider.RoleUser, Content: c}))
	}

	msgs, err := m.GetMessages(ctx, "conv", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Content)
	assert.Equal(t, "c", msgs[1].Content)

	require.NoError(t, m.DeleteMessages(ctx, "conv"))
	msgs, err = m.GetMessages(ctx, "conv", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestMemoryToolStateImplementsSnapshotter(t *testing.T) {
	var snaps toolstate.Snapshotter = NewMemory()
	ctx := context.Background()

	_, found, err := snaps.LoadToolState(ctx, "conv")
	require.NoError(t, err)
	assert.False(t, found)

	st := toolstate.State{ConversationID: "conv", LoadedSkills: []string{"calculator"}}
	require.NoError(t, snaps.SaveToolState(ctx, st))

	got, found, err := snaps.LoadToolState(ctx, "conv")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"calculator"}, got.LoadedSkills)
	assert.Empty(t, got.DiscoveryHistory)

	require.NoError(t, snaps.DeleteToolState(ctx, "conv"))
	_, found, _ = snaps.LoadToolState(ctx, "conv")
	assert.False(t, found)
}

func TestMemoryNotes(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { clock = clock.Add(time.Minute); return clock }

	groceries := &Note{Title: "Groceries", Content: "milk, eggs", Tags: []string{"home"}}
	require.NoError(t, m.SaveNote(ctx, groceries))
	require.NotEmpty(t, groceries.ID)
	require.NoError(t, m.SaveNote(ctx, &Note{Title: "Standup", Content: "ship the parser", Tags: []string{"work"}}))

	all, err := m.ListNotes(ctx, NoteFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Standup", all[0].Title, "newest first")

	byQuery, err := m.ListNotes(ctx, NoteFilter{Query: "MILK"})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	assert.Equal(t, groceries.ID, byQuery[0].ID)

	byTag, err := m.ListNotes(ctx, NoteFilter{Tag: "work"})
	require.NoError(t, err)
	require.Len(t, byTag, 1)

	created := groceries.CreatedAt
	groceries.Content = "milk, eggs, bread"
	require.NoError(t, m.SaveNote(ctx, groceries))
	got, err := m.GetNote(ctx, groceries.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got.CreatedAt)
	assert.True(t, got.UpdatedAt.After(created))

	require.NoError(t, m.DeleteNote(ctx, groceries.ID))
	_, err = m.GetNote(ctx, groceries.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.DeleteNote(ctx, groceries.ID), ErrNotFound)
}

func TestMemoryTasks(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first := &Task{Title: "write tests"}
	second := &Task{Title: "review"}
	require.NoError(t, m.AddTask(ctx, first))
	require.NoError(t, m.AddTask(ctx, second))

	done, err := m.CompleteTask(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, done.Done)
	require.NotNil(t, done.CompletedAt)

	open, err := m.ListTasks(ctx, false)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "review", open[0].Title)

	all, err := m.ListTasks(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "write tests", all[0].Title)

	_, err = m.CompleteTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, m.DeleteTask(ctx, second.ID))
	assert.ErrorIs(t, m.DeleteTask(ctx, second.ID), ErrNotFound)
}
