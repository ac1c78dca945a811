package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
)

// ChatConfig represents the configuration for a chat engine.
type ChatConfig struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
}

// ChatEngine is an engine that uses an LLM to generate chat responses.
type ChatEngine struct {
	config ChatConfig
	llm    llms.Model
}

// NewWithConfig creates a new ChatEngine backed by the configured provider.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	config, err := validateChatConfig(config)
	if err != nil {
		return nil, err
	}

	model, err := newChatModel(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    model,
	}, nil
}

// NewWithModel creates a ChatEngine around an existing model.
func NewWithModel(config ChatConfig, model llms.Model) (*ChatEngine, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	config, err := validateChatConfig(config)
	if err != nil {
		return nil, err
	}
	return &ChatEngine{
		config: config,
		llm:    model,
	}, nil
}

func validateChatConfig(config ChatConfig) (ChatConfig, error) {
	if config.Provider == "" {
		config.Provider = ProviderOllama
	}
	if config.Model == "" {
		config.Model = "mistral"
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return config, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return config, fmt.Errorf("max tokens cannot be negative")
	} else if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	return config, nil
}

func (ce *ChatEngine) Config() ChatConfig {
	return ce.config
}

// Generate runs the prompt and streams fragments to onFragment as they
// arrive. It returns the complete answer once the stream ends. An error
// from onFragment aborts generation.
func (ce *ChatEngine) Generate(ctx context.Context, messages []llms.MessageContent, onFragment func(string) error) (string, error) {
	var streamed []byte

	response, err := ce.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(ce.config.Temperature),
		llms.WithMaxTokens(ce.config.MaxTokens),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			streamed = append(streamed, chunk...)
			if onFragment == nil || len(chunk) == 0 {
				return nil
			}
			return onFragment(string(chunk))
		}),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}

	if response != nil && len(response.Choices) > 0 && response.Choices[0] != nil && response.Choices[0].Content != "" {
		content := response.Choices[0].Content
		// Providers that ignore the streaming callback still get one fragment out.
		if len(streamed) == 0 && onFragment != nil {
			if err := onFragment(content); err != nil {
				return "", err
			}
		}
		return content, nil
	}

	if len(streamed) == 0 {
		return "", errors.New("chat error: no response from LLM")
	}
	return string(streamed), nil
}
