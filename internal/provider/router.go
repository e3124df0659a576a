package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrNoProvider is returned when no provider can serve a model.
var ErrNoProvider = fmt.Errorf("no provider available")

// Router manages multiple LLM providers and routes requests by model.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string // model -> providerID
	fallbacks []string          // providers tried after the primary fails
	defaults  string            // default provider ID
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		logger:    logger,
	}
}

// Register adds a provider and binds it to the given models. The first
// registered provider becomes the default.
func (r *Router) Register(p Provider, models ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	for _, m := range models {
		r.bindings[m] = p.ID()
	}
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider",
		zap.String("id", p.ID()),
		zap.String("name", p.Name()),
		zap.Strings("models", models))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// DefaultID returns the current default provider ID.
func (r *Router) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// Bind routes model to providerID.
func (r *Router) Bind(model, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[model] = providerID
}

// SetFallbacks configures the providers tried, in order, when the primary fails.
func (r *Router) SetFallbacks(providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append([]string(nil), providerIDs...)
}

// Resolve picks the provider for model: an exact binding, then a
// "provider/model" prefix, then the default.
func (r *Router) Resolve(model string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(model)
}

func (r *Router) resolveLocked(model string) (Provider, string, error) {
	if pid, ok := r.bindings[model]; ok {
		if p, ok := r.providers[pid]; ok {
			return p, model, nil
		}
	}
	if pid, rest, ok := strings.Cut(model, "/"); ok {
		if p, ok := r.providers[pid]; ok {
			return p, rest, nil
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p, model, nil
	}
	return nil, model, fmt.Errorf("%w for model %q", ErrNoProvider, model)
}

// Chat sends a chat request through the provider serving req.Model, trying
// fallbacks if it fails.
func (r *Router) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary, model, err := r.resolveLocked(req.Model)
	fallbacks := r.fallbackProvidersLocked(primary)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	routed := *req
	routed.Model = model
	resp, err := primary.Chat(ctx, &routed)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("provider", primary.ID()), zap.String("model", req.Model), zap.Error(err))

	for _, fb := range fallbacks {
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fb.ID()), zap.Error(err))
	}

	return nil, fmt.Errorf("all providers failed for model %s: %w", req.Model, err)
}

func (r *Router) fallbackProvidersLocked(primary Provider) []Provider {
	var out []Provider
	for _, id := range r.fallbacks {
		p, ok := r.providers[id]
		if !ok || (primary != nil && p.ID() == primary.ID()) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ChatStream sends a streaming chat request. Streams do not fall back.
func (r *Router) ChatStream(ctx context.Context, req *ChatRequest) (<-chan *StreamChunk, error) {
	p, model, err := r.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	routed := *req
	routed.Model = model
	return p.ChatStream(ctx, &routed)
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers ordered by ID.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

// ListModels collects the models of every provider. Providers that fail
// are logged and skipped.
func (r *Router) ListModels(ctx context.Context) []Model {
	var out []Model
	for _, p := range r.ListProviders() {
		models, err := p.ListModels(ctx)
		if err != nil {
			r.logger.Warn("list models failed", zap.String("provider", p.ID()), zap.Error(err))
			continue
		}
		out = append(out, models...)
	}
	return out
}
