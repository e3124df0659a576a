package memory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/nidhogg/skillchat/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInMemoryRememberAndRecall(t *testing.T) {
	m := NewInMemory()
	ctx := context.Background()
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	_, err := m.Remember(ctx, "  ", "x")
	assert.ErrorIs(t, err, ErrEmptyKey)

	f, err := m.Remember(ctx, "Favorite Color", "green")
	require.NoError(t, err)
	assert.Equal(t, "favorite color", f.Key)

	_, err = m.Remember(ctx, "dentist", "appointment on friday at 3pm")
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	updated, err := m.Remember(ctx, "favorite color", "blue")
	require.NoError(t, err)
	assert.Equal(t, "blue", updated.Value)
	assert.True(t, updated.CreatedAt.Before(updated.UpdatedAt))

	got, err := m.Recall(ctx, "what color do I like", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "favorite color", got[0].Key)
	assert.Equal(t, 1, got[0].AccessCount)
	assert.Greater(t, got[0].Score, 0.0)

	recent, err := m.Recall(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "favorite color", recent[0].Key, "most recently updated first")

	found, err := m.Forget(ctx, "Favorite Color")
	require.NoError(t, err)
	assert.True(t, found)
	found, err = m.Forget(ctx, "favorite color")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRankPrefersRecentFacts(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	facts := []Fact{
		{Key: "old", Value: "coffee order", UpdatedAt: now.Add(-30 * 24 * time.Hour)},
		{Key: "new", Value: "coffee order", UpdatedAt: now},
		{Key: "other", Value: "unrelated", UpdatedAt: now},
	}
	got := rank(facts, "coffee", 10, now)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Key)
	assert.Equal(t, "old", got[1].Key)
}

func TestDecayFloors(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 1.0, decay(now, now))
	assert.InDelta(t, 0.5, decay(now.Add(-DecayHalfLife), now), 1e-9)
	assert.Equal(t, minDecay, decay(now.Add(-365*24*time.Hour), now))
	assert.False(t, math.IsNaN(decay(now.Add(time.Hour), now)))
}

func TestTokenizeDropsShortWords(t *testing.T) {
	assert.Equal(t, []string{"my", "dog", "name"}, tokenize("My dog's name, a"))
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }

type fakeIndex struct {
	collections map[string]uint64
	points      map[string]map[string]string
	score       float32
	searchErr   error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{collections: map[string]uint64{}, points: map[string]map[string]string{}, score: 0.9}
}

func (f *fakeIndex) EnsureCollection(_ context.Context, name string, dim uint64) error {
	f.collections[name] = dim
	return nil
}

func (f *fakeIndex) Upsert(_ context.Context, _ string, points ...vectorstore.Point) error {
	for _, p := range points {
		f.points[p.ID] = p.Payload
	}
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ string, _ []float32, opts vectorstore.SearchOptions) ([]vectorstore.Match, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if f.score < opts.MinScore {
		return nil, nil
	}
	var out []vectorstore.Match
	for id, p := range f.points {
		out = append(out, vectorstore.Match{ID: id, Score: f.score, Payload: p})
	}
	return out, nil
}

func (f *fakeIndex) Delete(_ context.Context, _ string, ids ...string) error {
	for _, id := range ids {
		delete(f.points, id)
	}
	return nil
}

func TestSemanticStore(t *testing.T) {
	ctx := context.Background()
	idx := newFakeIndex()
	s, err := NewSemanticStore(ctx, NewInMemory(), idx, &fakeEmbedder{}, "", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), idx.collections[DefaultCollection])

	_, err = s.Remember(ctx, "wifi password", "hunter2")
	require.NoError(t, err)
	require.Contains(t, idx.points, pointID("wifi password"))

	got, err := s.Recall(ctx, "network credentials", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hunter2", got[0].Value)
	assert.InDelta(t, 0.9, got[0].Score, 1e-6)

	found, err := s.Forget(ctx, "WiFi Password")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, idx.points)
}

func TestSemanticStoreFallsBackToKeywords(t *testing.T) {
	ctx := context.Background()
	idx := newFakeIndex()
	idx.searchErr = errors.New("qdrant down")
	s, err := NewSemanticStore(ctx, NewInMemory(), idx, &fakeEmbedder{}, "facts", zap.NewNop())
	require.NoError(t, err)

	_, err = s.Remember(ctx, "parking spot", "level 3, row B")
	require.NoError(t, err)

	got, err := s.Recall(ctx, "parking", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "parking spot", got[0].Key)
}

func TestPointIDIsStable(t *testing.T) {
	assert.Equal(t, pointID("a"), pointID("a"))
	assert.NotEqual(t, pointID("a"), pointID("b"))
}
