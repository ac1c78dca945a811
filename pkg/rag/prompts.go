package rag

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"github.com/xhad/docchat/internal/models"
)

var (
	plainPrompt = prompts.NewPromptTemplate(
		`You are a helpful chatbot that will answer users questions. Answer in conversational tone.
Chat History: {{.chat_history}}
Question: {{.question}}
Helpful Answer:
`, []string{"chat_history", "question"})

	condensePrompt = prompts.NewPromptTemplate(
		`Given the following conversation and a follow-up question, rephrase the follow-up question to be a standalone question or statement.
Add the relevant context to the question from the memory to add context into the standalone question/statement.
If the memory is not relevant to the inputted question and context, then you can return the inputted question/statement with no modifications.
Make sure the context in the new standalone question is relevant to the current question.

Chat History:
{{.chat_history}}

Follow Up Input: {{.question}}

Standalone question or statement:
`, []string{"chat_history", "question"})

	groundedPrompt = prompts.NewPromptTemplate(
		`Use the following pieces of context to answer the question at the end.
If you don't know the answer, just say that you don't know, don't try to make up an answer.
Please reply in a conversational tone.

{{.context}}

Question: {{.question}}

Helpful Answer:
`, []string{"context", "question"})
)

func formatHistory(turns []models.Turn) string {
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		speaker := "Human"
		if turn.Role == models.RoleAssistant {
			speaker = "AI"
		}
		lines = append(lines, speaker+": "+turn.Text)
	}
	return strings.Join(lines, "\n")
}

func formatContext(results []models.ScoredChunk) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Content)
	}
	return strings.Join(parts, "\n\n")
}

func render(tmpl prompts.PromptTemplate, values map[string]any) ([]llms.MessageContent, error) {
	text, err := tmpl.Format(values)
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, text),
	}, nil
}
