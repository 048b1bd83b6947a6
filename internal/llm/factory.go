package llm

import (
	"fmt"
	"time"
)

// ProviderConfig selects and configures an oracle provider. Provider picks
// the transport; the remaining fields apply where the provider supports them.
type ProviderConfig struct {
	// Provider is one of "ollama", "openai", "anthropic", or "" for none.
	Provider string

	// Model overrides the provider's default completion model.
	Model string

	// EmbeddingModel overrides the provider's default embedding model.
	// Ignored for anthropic, which has no embedding endpoint.
	EmbeddingModel string

	// BaseURL overrides the provider's default endpoint.
	BaseURL string

	// APIKey authenticates hosted providers. Unused for ollama.
	APIKey string

	// Timeout is the per-request timeout. Zero uses provider defaults.
	Timeout time.Duration
}

// NewTextGenerator builds the completion client for cfg. An empty provider
// returns (nil, nil): the resolver treats a nil generator as "oracle
// disabled" and uses local matching only.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: openai provider requires an API key")
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: anthropic provider requires an API key")
		}
		return NewAnthropicClient(AnthropicConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator builds the embedding client for cfg. Providers
// without an embedding endpoint (anthropic) and an empty provider return
// (nil, nil); the resolver degrades to string similarity when embeddings are
// unavailable.
func NewEmbeddingGenerator(cfg ProviderConfig) (EmbeddingGenerator, error) {
	switch cfg.Provider {
	case "", "anthropic":
		return nil, nil
	case "ollama":
		model := cfg.EmbeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.BaseURL,
			Model:   model,
			Timeout: cfg.Timeout,
		}), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: openai provider requires an API key")
		}
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.EmbeddingModel,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
