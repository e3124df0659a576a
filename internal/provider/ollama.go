package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

// DefaultOllamaEndpoint is the address of a stock local Ollama install.
const DefaultOllamaEndpoint = "http://localhost:11434"

// OllamaProvider talks to a local Ollama server through the official client.
type OllamaProvider struct {
	config ProviderConfig
	client *api.Client
	logger *zap.Logger
}

// NewOllamaProvider creates an Ollama provider.
func NewOllamaProvider(cfg ProviderConfig, logger *zap.Logger) (*OllamaProvider, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultOllamaEndpoint
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse ollama endpoint: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &OllamaProvider{
		config: cfg,
		client: api.NewClient(u, &http.Client{Timeout: timeout}),
		logger: logger,
	}, nil
}

func (p *OllamaProvider) ID() string   { return p.config.ID }
func (p *OllamaProvider) Name() string { return p.config.Name }

func (p *OllamaProvider) buildRequest(req *ChatRequest, stream bool) *api.ChatRequest {
	out := &api.ChatRequest{
		Model:    req.Model,
		Messages: toOllamaMessages(req.Messages),
		Stream:   &stream,
	}
	if req.Temperature > 0 || req.MaxTokens > 0 {
		out.Options = make(map[string]any)
		if req.Temperature > 0 {
			out.Options["temperature"] = req.Temperature
		}
		if req.MaxTokens > 0 {
			out.Options["num_predict"] = req.MaxTokens
		}
	}
	if len(req.Tools) > 0 {
		out.Tools = toOllamaTools(req.Tools)
	}
	return out
}

func toOllamaMessages(msgs []Message) []api.Message {
	out := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		msg := api.Message{Role: m.Role, Content: m.Content}
		if m.Role == RoleTool {
			msg.ToolCallID = m.ToolCallID
			msg.ToolName = m.Name
		}
		for _, tc := range m.ToolCalls {
			args := api.NewToolCallFunctionArguments()
			if parsed, err := tc.Function.ArgumentsMap(); err == nil {
				for k, v := range parsed {
					args.Set(k, v)
				}
			}
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
				ID: tc.ID,
				Function: api.ToolCallFunction{
					Name:      tc.Function.Name,
					Arguments: args,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

// toOllamaTools converts JSON-schema tool parameters into Ollama's typed form.
func toOllamaTools(tools []Tool) api.Tools {
	out := make(api.Tools, 0, len(tools))
	for _, t := range tools {
		schema := schemaMap(t.Function.Parameters)
		params := api.ToolFunctionParameters{Type: "object"}

		if props, ok := schema["properties"].(map[string]any); ok {
			pm := api.NewToolPropertiesMap()
			for name, raw := range props {
				if obj, ok := raw.(map[string]any); ok {
					pm.Set(name, toOllamaProperty(obj))
				}
			}
			params.Properties = pm
		}
		if required, ok := schema["required"].([]any); ok {
			for _, r := range required {
				if s, ok := r.(string); ok {
					params.Required = append(params.Required, s)
				}
			}
		}

		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func toOllamaProperty(prop map[string]any) api.ToolProperty {
	var out api.ToolProperty
	if typ, ok := prop["type"].(string); ok {
		out.Type = api.PropertyType{typ}
	}
	if desc, ok := prop["description"].(string); ok {
		out.Description = desc
	}
	if enum, ok := prop["enum"].([]any); ok {
		out.Enum = enum
	}
	if items, ok := prop["items"]; ok {
		out.Items = items
	}
	return out
}

// schemaMap normalizes any schema value (struct, RawMessage, map) to a map.
func schemaMap(v interface{}) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	var raw []byte
	switch s := v.(type) {
	case nil:
		return map[string]any{}
	case json.RawMessage:
		raw = s
	case []byte:
		raw = s
	default:
		b, err := json.Marshal(s)
		if err != nil {
			return map[string]any{}
		}
		raw = b
	}
	m := map[string]any{}
	_ = json.Unmarshal(raw, &m)
	return m
}

func fromOllamaToolCalls(calls []api.ToolCall, counter *int) []ToolCall {
	out := make([]ToolCall, 0, len(calls))
	for _, tc := range calls {
		*counter++
		args, _ := json.Marshal(tc.Function.Arguments.ToMap())
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("ollama-call-%d", *counter)
		}
		out = append(out, ToolCall{
			ID:   id,
			Type: "function",
			Function: ToolCallFunction{
				Name:      tc.Function.Name,
				Arguments: string(args),
			},
		})
	}
	return out
}

func ollamaUsage(resp api.ChatResponse) Usage {
	return Usage{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}
}

// Chat sends a non-streaming chat request.
func (p *OllamaProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var (
		content strings.Builder
		calls   []ToolCall
		counter int
		out     = &ChatResponse{Model: req.Model}
	)
	err := p.client.Chat(ctx, p.buildRequest(req, false), func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		calls = append(calls, fromOllamaToolCalls(resp.Message.ToolCalls, &counter)...)
		if resp.Done {
			out.FinishReason = resp.DoneReason
			out.Usage = ollamaUsage(resp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	out.Content = content.String()
	if len(calls) > 0 {
		out.ToolCalls = calls
	}
	return out, nil
}

// ChatStream streams a chat response. Ollama delivers tool calls whole, so
// they are forwarded as they arrive.
func (p *OllamaProvider) ChatStream(ctx context.Context, req *ChatRequest) (<-chan *StreamChunk, error) {
	chatReq := p.buildRequest(req, true)
	ch := make(chan *StreamChunk, 64)

	go func() {
		defer close(ch)
		counter := 0
		done := false
		err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			chunk := &StreamChunk{Content: resp.Message.Content}
			if len(resp.Message.ToolCalls) > 0 {
				chunk.ToolCalls = fromOllamaToolCalls(resp.Message.ToolCalls, &counter)
			}
			if resp.Done {
				u := ollamaUsage(resp)
				chunk.Usage = &u
				chunk.FinishReason = resp.DoneReason
				chunk.Done = true
				done = true
			}
			if chunk.Content == "" && len(chunk.ToolCalls) == 0 && !chunk.Done {
				return nil
			}
			select {
			case ch <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			p.logger.Warn("ollama stream failed", zap.String("model", req.Model), zap.Error(err))
			ch <- &StreamChunk{Done: true, Err: fmt.Errorf("ollama chat stream: %w", err)}
			return
		}
		if !done {
			ch <- &StreamChunk{Done: true}
		}
	}()
	return ch, nil
}

// ListModels returns the models pulled into the local Ollama install.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]Model, error) {
	resp, err := p.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ollama models: %w", err)
	}
	models := make([]Model, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, Model{ID: m.Name, Name: m.Name, Provider: p.config.ID})
	}
	return models, nil
}

// HealthCheck verifies the Ollama server answers.
func (p *OllamaProvider) HealthCheck(ctx context.Context) error {
	if err := p.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama heartbeat: %w", err)
	}
	return nil
}

// EnsureModel pulls model if it is not present locally.
func (p *OllamaProvider) EnsureModel(ctx context.Context, model string) error {
	models, err := p.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		if m.ID == model || strings.HasPrefix(m.ID, model+":") || strings.TrimSuffix(m.ID, ":latest") == model {
			return nil
		}
	}
	p.logger.Info("pulling ollama model", zap.String("model", model))
	var lastPct int64 = -1
	err = p.client.Pull(ctx, &api.PullRequest{Model: model}, func(resp api.ProgressResponse) error {
		if resp.Total > 0 {
			if pct := resp.Completed * 100 / resp.Total; pct/10 != lastPct/10 {
				lastPct = pct
				p.logger.Info("pull progress", zap.String("model", model), zap.Int64("percent", pct))
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pull %s: %w", model, err)
	}
	return nil
}
