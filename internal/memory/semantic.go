package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/skillchat/internal/embedding"
	"github.com/nidhogg/skillchat/internal/vectorstore"
	"go.uber.org/zap"
)

// DefaultCollection is the Qdrant collection for fact vectors.
const DefaultCollection = "skillchat_memory"

// Index is the vector index used by SemanticStore. *vectorstore.Client
// satisfies it.
type Index interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection string, points ...vectorstore.Point) error
	Search(ctx context.Context, collection string, vector []float32, opts vectorstore.SearchOptions) ([]vectorstore.Match, error)
	Delete(ctx context.Context, collection string, ids ...string) error
}

// SemanticStore layers vector recall over a base Store. The base store
// stays the source of truth; the index only ranks.
type SemanticStore struct {
	base       Store
	index      Index
	embedder   embedding.Provider
	collection string
	minScore   float32
	logger     *zap.Logger
}

// NewSemanticStore creates a SemanticStore and ensures its collection exists.
func NewSemanticStore(ctx context.Context, base Store, index Index, embedder embedding.Provider, collection string, logger *zap.Logger) (*SemanticStore, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if dim := embedder.Dimension(); dim > 0 {
		if err := index.EnsureCollection(ctx, collection, uint64(dim)); err != nil {
			return nil, fmt.Errorf("memory: ensure collection: %w", err)
		}
	}
	return &SemanticStore{
		base:       base,
		index:      index,
		embedder:   embedder,
		collection: collection,
		minScore:   0.3,
		logger:     logger,
	}, nil
}

// pointID derives a stable Qdrant point id from a fact key.
func pointID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("skillchat-memory:"+key)).String()
}

// Remember stores the fact in the base store, then indexes it. Indexing
// failures are logged; the fact remains recallable by keyword.
func (s *SemanticStore) Remember(ctx context.Context, key, value string) (Fact, error) {
	f, err := s.base.Remember(ctx, key, value)
	if err != nil {
		return Fact{}, err
	}
	vecs, err := s.embedder.Embed(ctx, []string{f.Key + ": " + f.Value})
	if err != nil {
		s.logger.Warn("memory: embed fact", zap.String("key", f.Key), zap.Error(err))
		return f, nil
	}
	payload := map[string]string{
		"key":        f.Key,
		"value":      f.Value,
		"updated_at": f.UpdatedAt.Format(time.RFC3339Nano),
	}
	point := vectorstore.Point{ID: pointID(f.Key), Vector: vecs[0], Payload: payload}
	if err := s.index.Upsert(ctx, s.collection, point); err != nil {
		s.logger.Warn("memory: index fact", zap.String("key", f.Key), zap.Error(err))
	}
	return f, nil
}

// Recall ranks by vector similarity. An empty query, or any embedding or
// search failure, falls back to the base store's keyword recall.
func (s *SemanticStore) Recall(ctx context.Context, query string, limit int) ([]Fact, error) {
	if limit <= 0 {
		limit = 10
	}
	if query == "" {
		return s.base.Recall(ctx, query, limit)
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		s.logger.Warn("memory: embed query, using keyword recall", zap.Error(err))
		return s.base.Recall(ctx, query, limit)
	}
	hits, err := s.index.Search(ctx, s.collection, vecs[0], vectorstore.SearchOptions{
		Limit:    uint64(limit),
		MinScore: s.minScore,
	})
	if err != nil {
		s.logger.Warn("memory: vector search, using keyword recall", zap.Error(err))
		return s.base.Recall(ctx, query, limit)
	}

	out := make([]Fact, 0, len(hits))
	for _, h := range hits {
		f := Fact{Key: h.Payload["key"], Value: h.Payload["value"], Score: float64(h.Score)}
		if ts, err := time.Parse(time.RFC3339Nano, h.Payload["updated_at"]); err == nil {
			f.UpdatedAt = ts
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return s.base.Recall(ctx, query, limit)
	}
	return out, nil
}

// Forget removes the fact from the base store and the index.
func (s *SemanticStore) Forget(ctx context.Context, key string) (bool, error) {
	key = NormalizeKey(key)
	found, err := s.base.Forget(ctx, key)
	if err != nil {
		return false, err
	}
	if err := s.index.Delete(ctx, s.collection, pointID(key)); err != nil {
		s.logger.Warn("memory: unindex fact", zap.String("key", key), zap.Error(err))
	}
	return found, nil
}
