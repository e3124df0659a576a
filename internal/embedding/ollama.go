package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaProvider implements Provider with the Ollama client's batch embed call.
type OllamaProvider struct {
	client    *api.Client
	model     string
	dimension int

	mu      sync.Mutex
	learned int
}

// NewOllamaProvider creates an OllamaProvider. An empty endpoint means the
// local default.
func NewOllamaProvider(cfg Config) (*OllamaProvider, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("embedding: parse endpoint: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "nomic-embed-text"
	}
	return &OllamaProvider{
		client:    api.NewClient(u, &http.Client{Timeout: 120 * time.Second}),
		model:     model,
		dimension: cfg.Dimension,
	}, nil
}

// Embed returns one vector per input text.
func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("embedding: ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding: expected %d vectors, got %d", len(texts), len(resp.Embeddings))
	}
	if len(resp.Embeddings[0]) > 0 {
		p.mu.Lock()
		p.learned = len(resp.Embeddings[0])
		p.mu.Unlock()
	}
	return resp.Embeddings, nil
}

// Dimension returns the vector size seen in the last response, or the
// configured default before any call.
func (p *OllamaProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.learned > 0 {
		return p.learned
	}
	return p.dimension
}
