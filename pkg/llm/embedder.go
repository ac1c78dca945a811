package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
)

// EmbedderConfig represents the configuration for an embedder.
type EmbedderConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	BatchSize int
}

// NewEmbedderWithConfig returns an embedder for the configured provider.
func NewEmbedderWithConfig(config EmbedderConfig) (embeddings.Embedder, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}

	var client embeddings.EmbedderClient
	switch config.Provider {
	case ProviderOllama:
		if config.Model == "" {
			config.Model = "nomic-embed-text"
		}
		c, err := newOllama(config.Model, config.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
		}
		client = c
	case ProviderOpenAI:
		c, err := newOpenAI("", config.Model, config.BaseURL, config.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
		}
		client = c
	default:
		return nil, fmt.Errorf("unknown provider %q", config.Provider)
	}

	return embeddings.NewEmbedder(client,
		embeddings.WithBatchSize(config.BatchSize),
		embeddings.WithStripNewLines(false),
	)
}
