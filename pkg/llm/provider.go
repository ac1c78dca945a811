package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	defaultOllamaURL = "http://localhost:11434"
)

func newChatModel(config ChatConfig) (llms.Model, error) {
	switch config.Provider {
	case ProviderOllama:
		return newOllama(config.Model, config.BaseURL)
	case ProviderOpenAI:
		return newOpenAI(config.Model, "", config.BaseURL, config.APIKey)
	default:
		return nil, fmt.Errorf("unknown provider %q", config.Provider)
	}
}

func newOllama(model, baseURL string) (*ollama.LLM, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	return ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(baseURL),
	)
}

func newOpenAI(model, embeddingModel, baseURL, apiKey string) (*openai.LLM, error) {
	opts := []openai.Option{openai.WithToken(apiKey)}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	if embeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(embeddingModel))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	return openai.New(opts...)
}
