//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/nidhogg/skillchat/internal/provider"
	"github.com/nidhogg/skillchat/internal/toolstate"
	"github.com/nidhogg/skillchat/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

var testPG *Store

func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("skillchat_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	return dsn, func() { container.Terminate(ctx) }, nil
}

func TestMain(m *testing.M) {
	ctx := context.Background()
	dsn, cleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	testPG, err = New(ctx, dsn, zap.NewNop())
	if err == nil {
		err = testPG.Migrate(ctx, migrations.FS)
	}
	if err != nil {
		cleanup()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	code := m.Run()
	testPG.Close()
	cleanup()
	os.Exit(code)
}

func TestPostgresMigrateIsRerunnable(t *testing.T) {
	require.NoError(t, testPG.Migrate(context.Background(), migrations.FS))
}

func TestPostgresMessages(t *testing.T) {
	ctx := context.Background()
	for _, c := range []string{"one", "two", "three"} {
		require.NoError(t, testPG.AppendMessage(ctx, "pg-conv", provider.Message{Role: provider.RoleUser, Content: c}))
	}
	require.NoError(t, testPG.AppendMessage(ctx, "pg-conv", provider.Message{
		Role:      provider.RoleAssistant,
		ToolCalls: []provider.ToolCall{{ID: "1", Type: "function", Function: provider.ToolCallFunction{Name: "calculator", Arguments: "{}"}}},
	}))

	msgs, err := testPG.GetMessages(ctx, "pg-conv", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "three", msgs[0].Content)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "calculator", msgs[1].ToolCalls[0].Function.Name)
}

func TestPostgresToolState(t *testing.T) {
	ctx := context.Background()
	var snaps toolstate.Snapshotter = testPG

	_, found, err := snaps.LoadToolState(ctx, "pg-ts")
	require.NoError(t, err)
	assert.False(t, found)

	st := toolstate.State{ConversationID: "pg-ts", LoadedSkills: []string{"calculator", "save_note"}}
	require.NoError(t, snaps.SaveToolState(ctx, st))
	st.LoadedSkills = []string{"calculator"}
	require.NoError(t, snaps.SaveToolState(ctx, st))

	got, found, err := snaps.LoadToolState(ctx, "pg-ts")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"calculator"}, got.LoadedSkills)

	require.NoError(t, snaps.DeleteToolState(ctx, "pg-ts"))
	_, found, err = snaps.LoadToolState(ctx, "pg-ts")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPostgresNotesAndTasks(t *testing.T) {
	ctx := context.Background()

	n := &Note{Title: "Trip", Content: "book the train", Tags: []string{"travel"}}
	require.NoError(t, testPG.SaveNote(ctx, n))
	found, err := testPG.ListNotes(ctx, NoteFilter{Query: "TRAIN", Tag: "travel"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, n.ID, found[0].ID)
	require.NoError(t, testPG.DeleteNote(ctx, n.ID))
	_, err = testPG.GetNote(ctx, n.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	task := &Task{Title: "pack"}
	require.NoError(t, testPG.AddTask(ctx, task))
	done, err := testPG.CompleteTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, done.Done)
	open, err := testPG.ListTasks(ctx, false)
	require.NoError(t, err)
	for _, o := range open {
		assert.NotEqual(t, task.ID, o.ID)
	}
	_, err = testPG.CompleteTask(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
