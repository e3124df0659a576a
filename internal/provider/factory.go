package provider

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a provider from its config type.
func New(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Type {
	case "ollama", "":
		return NewOllamaProvider(cfg, logger)
	case "openai":
		return NewOpenAIProvider(cfg, logger), nil
	case "anthropic":
		return NewAnthropicProvider(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
