package llm

import (
	"github.com/tmc/langchaingo/llms"
	"github.com/xhad/docchat/internal/types"
)

// TokenCounter counts tokens with the tokenizer of model, falling back to an
// approximation for models tiktoken does not know.
func TokenCounter(model string) types.TokenCounter {
	return func(text string) int {
		return llms.CountTokens(model, text)
	}
}
