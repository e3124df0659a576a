// Package vectorstore stores embedding vectors in Qdrant for semantic recall.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// DefaultPort is Qdrant's gRPC port.
const DefaultPort = 6334

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	APIKey string `json:"api_key,omitempty"`
	UseTLS bool   `json:"use_tls,omitempty"`
}

// Point is one stored vector with a flat string payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// Match is a search hit.
type Match struct {
	ID      string
	Score   float32
	Payload map[string]string
}

// SearchOptions bounds a similarity search. Hits scoring below MinScore are
// dropped by the server.
type SearchOptions struct {
	Limit    uint64
	MinScore float32
}

// Client is a thin typed wrapper over the Qdrant gRPC client.
type Client struct {
	qc *qdrant.Client
}

// NewClient connects to Qdrant. The connection is established lazily by gRPC.
func NewClient(cfg QdrantConfig) (*Client, error) {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	qc, err := qdrant.NewClient(&qdrant.Config{
		Host:        cfg.Host,
		Port:        port,
		APIKey:      cfg.APIKey,
		UseTLS:      cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{grpc.WithUserAgent("skillchat")},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s:%d: %w", cfg.Host, port, err)
	}
	return &Client{qc: qc}, nil
}

// EnsureCollection creates a cosine-distance collection of the given
// dimension unless one with that name exists.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	exists, err := c.qc.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	err = c.qc.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// Upsert writes points and waits until they are searchable. Point ids must
// be UUIDs.
func (c *Client) Upsert(ctx context.Context, collection string, points ...Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		payload := make(map[string]*qdrant.Value, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = qdrant.NewValueString(v)
		}
		structs[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectorsDense(p.Vector),
			Payload: payload,
		}
	}
	wait := true
	if _, err := c.qc.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	}); err != nil {
		return fmt.Errorf("upsert into %s: %w", collection, err)
	}
	return nil
}

// Search returns the nearest points to vector, best first.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, opts SearchOptions) ([]Match, error) {
	limit := opts.Limit
	if limit == 0 {
		limit = 10
	}
	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vector),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if opts.MinScore > 0 {
		req.ScoreThreshold = &opts.MinScore
	}
	hits, err := c.qc.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		payload := make(map[string]string, len(h.Payload))
		for k, v := range h.Payload {
			payload[k] = v.GetStringValue()
		}
		out = append(out, Match{ID: h.GetId().GetUuid(), Score: h.GetScore(), Payload: payload})
	}
	return out, nil
}

// Delete removes points by id. Missing ids are ignored by Qdrant.
func (c *Client) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	pids := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pids[i] = qdrant.NewIDUUID(id)
	}
	if _, err := c.qc.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pids...),
	}); err != nil {
		return fmt.Errorf("delete from %s: %w", collection, err)
	}
	return nil
}

// Close tears down the gRPC connection.
func (c *Client) Close() error {
	return c.qc.Close()
}
