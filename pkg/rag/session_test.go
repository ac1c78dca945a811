package rag_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/llm"
	"github.com/xhad/docchat/pkg/llm/llmtest"
	"github.com/xhad/docchat/pkg/processor"
	"github.com/xhad/docchat/pkg/rag"
	"github.com/xhad/docchat/pkg/store"
)

const facts = "Socks come in many colors and sizes.\n\n" +
	"The tax filing deadline is in April.\n\n" +
	"Rivers flow into lakes and oceans."

func wordCount(text string) int {
	return len(strings.Fields(text))
}

type fixture struct {
	model    *llmtest.Model
	embedder *llmtest.Embedder
	session  *rag.Session
}

type option func(*rag.SessionConfig)

func withProcessor(t *testing.T, size, overlap int) option {
	t.Helper()
	p, err := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: size, ChunkOverlap: overlap})
	require.NoError(t, err)
	return func(c *rag.SessionConfig) { c.Processor = p }
}

func withK(k int) option {
	return func(c *rag.SessionConfig) { c.K = k }
}

func withBuilder(builder types.IndexBuilder) option {
	return func(c *rag.SessionConfig) { c.Builder = builder }
}

func withMemoryLimit(limit int) option {
	return func(c *rag.SessionConfig) { c.MemoryTokenLimit = limit }
}

func newFixture(t *testing.T, model *llmtest.Model, opts ...option) *fixture {
	t.Helper()

	emb := &llmtest.Embedder{}
	builder, err := store.NewMemoryBuilder(emb, store.EmbedConfig{BatchSize: 2})
	require.NoError(t, err)

	chat, err := llm.NewWithModel(llm.ChatConfig{}, model)
	require.NoError(t, err)

	config := rag.SessionConfig{
		Builder:      builder,
		Generator:    chat,
		TokenCounter: wordCount,
	}
	for _, opt := range opts {
		opt(&config)
	}

	session, err := rag.NewSession(config)
	require.NoError(t, err)

	return &fixture{model: model, embedder: emb, session: session}
}

// newGrounded returns a fixture with facts indexed one sentence per chunk.
func newGrounded(t *testing.T, model *llmtest.Model, opts ...option) *fixture {
	t.Helper()
	opts = append([]option{withProcessor(t, 60, 10), withK(1)}, opts...)
	f := newFixture(t, model, opts...)

	doc, err := f.session.Upload(context.Background(), "facts.txt", []byte(facts))
	require.NoError(t, err)
	require.Equal(t, rag.Document{Filename: "facts.txt", Chunks: 3}, doc)
	return f
}

func TestNewSession_RequiresCollaborators(t *testing.T) {
	_, err := rag.NewSession(rag.SessionConfig{})
	assert.Error(t, err)

	builder, err := store.NewMemoryBuilder(&llmtest.Embedder{}, store.EmbedConfig{})
	require.NoError(t, err)
	_, err = rag.NewSession(rag.SessionConfig{Builder: builder})
	assert.Error(t, err)
}

func TestSession_StartsPlain(t *testing.T) {
	f := newFixture(t, &llmtest.Model{})

	assert.Equal(t, rag.ModePlain, f.session.Mode())
	assert.Equal(t, "plain", f.session.Mode().String())
	assert.Empty(t, f.session.History())
	_, ok := f.session.Document()
	assert.False(t, ok)
}

func TestSession_PlainAsk(t *testing.T) {
	f := newFixture(t, &llmtest.Model{Replies: []string{"  Hi there!\n"}})

	answer, err := f.session.Ask(context.Background(), "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", answer)

	assert.Equal(t, 1, f.model.Calls())
	assert.Equal(t, 0, f.embedder.Queries())
	assert.Contains(t, f.model.Prompts()[0], "Question: Hello")
	assert.Equal(t, []models.Turn{
		{Role: models.RoleUser, Text: "Hello"},
		{Role: models.RoleAssistant, Text: "Hi there!"},
	}, f.session.History())
}

func TestSession_PlainAskIncludesHistory(t *testing.T) {
	f := newFixture(t, &llmtest.Model{Replies: []string{"Nice to meet you, Ada.", "Your name is Ada."}})
	ctx := context.Background()

	_, err := f.session.Ask(ctx, "My name is Ada.")
	require.NoError(t, err)
	_, err = f.session.Ask(ctx, "What is my name?")
	require.NoError(t, err)

	second := f.model.Prompts()[1]
	assert.Contains(t, second, "Human: My name is Ada.")
	assert.Contains(t, second, "AI: Nice to meet you, Ada.")
	assert.Len(t, f.session.History(), 4)
}

func TestSession_UploadLargeDocument(t *testing.T) {
	f := newFixture(t, &llmtest.Model{})
	text := strings.Repeat("abcd ", 600)

	doc, err := f.session.Upload(context.Background(), "notes.txt", []byte(text))
	require.NoError(t, err)

	assert.Equal(t, rag.Document{Filename: "notes.txt", Chunks: 4}, doc)
	assert.Equal(t, rag.ModeGrounded, f.session.Mode())
	got, ok := f.session.Document()
	assert.True(t, ok)
	assert.Equal(t, doc, got)
}

func TestSession_GroundedAskRetrieves(t *testing.T) {
	f := newGrounded(t, &llmtest.Model{Replies: []string{"It is in April."}})

	answer, err := f.session.Ask(context.Background(), "When is the tax deadline?")
	require.NoError(t, err)
	assert.Equal(t, "It is in April.", answer)

	// no history yet, so no condensation call
	require.Equal(t, 1, f.model.Calls())
	assert.Equal(t, 1, f.embedder.Queries())

	prompt := f.model.Prompts()[0]
	assert.Contains(t, prompt, "The tax filing deadline is in April.")
	assert.NotContains(t, prompt, "Rivers flow")
	assert.Contains(t, prompt, "Question: When is the tax deadline?")
}

func TestSession_CondensesFollowUp(t *testing.T) {
	f := newGrounded(t, &llmtest.Model{Replies: []string{
		"It is in April.",
		"What colors do socks come in?",
		"Many colors.",
	}})
	ctx := context.Background()

	_, err := f.session.Ask(ctx, "When is the tax deadline?")
	require.NoError(t, err)

	answer, err := f.session.Ask(ctx, "What about that?")
	require.NoError(t, err)
	assert.Equal(t, "Many colors.", answer)

	prompts := f.model.Prompts()
	require.Len(t, prompts, 3)

	assert.Contains(t, prompts[1], "Follow Up Input: What about that?")
	assert.Contains(t, prompts[1], "Human: When is the tax deadline?")
	assert.Contains(t, prompts[1], "AI: It is in April.")

	// retrieval used the standalone question, the prompt keeps the original one
	assert.Contains(t, prompts[2], "Socks come in many colors and sizes.")
	assert.Contains(t, prompts[2], "Question: What about that?")

	assert.Equal(t, []models.Turn{
		{Role: models.RoleUser, Text: "When is the tax deadline?"},
		{Role: models.RoleAssistant, Text: "It is in April."},
		{Role: models.RoleUser, Text: "What about that?"},
		{Role: models.RoleAssistant, Text: "Many colors."},
	}, f.session.History())
}

func TestSession_EmptyCondensationFallsBackToQuestion(t *testing.T) {
	f := newGrounded(t, &llmtest.Model{Replies: []string{"April.", "   ", "Into lakes and oceans."}})
	ctx := context.Background()

	_, err := f.session.Ask(ctx, "When is the tax deadline?")
	require.NoError(t, err)
	_, err = f.session.Ask(ctx, "Tell me about oceans")
	require.NoError(t, err)

	assert.Contains(t, f.model.Prompts()[2], "Rivers flow into lakes and oceans.")
}

func TestSession_RemoveDocument(t *testing.T) {
	f := newGrounded(t, &llmtest.Model{Default: "ok"})
	ctx := context.Background()

	require.NoError(t, f.session.RemoveDocument(ctx))
	assert.Equal(t, rag.ModePlain, f.session.Mode())

	_, err := f.session.Ask(ctx, "When is the tax deadline?")
	require.NoError(t, err)

	assert.Equal(t, 0, f.embedder.Queries())
	assert.Contains(t, f.model.Prompts()[0], "Chat History:")
	assert.NotContains(t, f.model.Prompts()[0], "tax filing")

	// removing twice is harmless
	assert.NoError(t, f.session.RemoveDocument(ctx))
}

func TestSession_UnsupportedFormatKeepsState(t *testing.T) {
	f := newGrounded(t, &llmtest.Model{Default: "ok"})
	ctx := context.Background()
	_, err := f.session.Ask(ctx, "When is the tax deadline?")
	require.NoError(t, err)
	batches := f.embedder.Batches()

	_, err = f.session.Upload(ctx, "report.docx", []byte("irrelevant"))

	var unsupported *types.UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, ".docx", unsupported.Extension)

	assert.Equal(t, rag.ModeGrounded, f.session.Mode())
	doc, ok := f.session.Document()
	assert.True(t, ok)
	assert.Equal(t, "facts.txt", doc.Filename)
	assert.Len(t, f.session.History(), 2)
	assert.Equal(t, batches, f.embedder.Batches())
}

func TestSession_EmptyDocumentDiscardsIndex(t *testing.T) {
	f := newGrounded(t, &llmtest.Model{})

	_, err := f.session.Upload(context.Background(), "blank.txt", []byte(" \n\t\n "))
	assert.ErrorIs(t, err, types.ErrEmptyDocument)

	assert.Equal(t, rag.ModePlain, f.session.Mode())
	_, ok := f.session.Document()
	assert.False(t, ok)
}

func TestSession_EmbeddingFailureDiscardsIndex(t *testing.T) {
	f := newGrounded(t, &llmtest.Model{Default: "ok"})
	ctx := context.Background()
	_, err := f.session.Ask(ctx, "When is the tax deadline?")
	require.NoError(t, err)

	f.embedder.FailDocuments = true
	_, err = f.session.Upload(ctx, "other.md", []byte("Something else entirely."))

	var providerErr *types.EmbeddingProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.ErrorIs(t, err, llmtest.ErrEmbedding)

	assert.Equal(t, rag.ModePlain, f.session.Mode())
	assert.Len(t, f.session.History(), 2)
}

func TestSession_ReplaceDocument(t *testing.T) {
	f := newGrounded(t, &llmtest.Model{Default: "ok"})
	ctx := context.Background()

	doc, err := f.session.Upload(ctx, "rivers.md", []byte("# Rivers\n\nThe Nile is a long river."))
	require.NoError(t, err)
	assert.Equal(t, "rivers.md", doc.Filename)

	_, err = f.session.Ask(ctx, "When is the tax deadline?")
	require.NoError(t, err)
	assert.NotContains(t, f.model.Prompts()[0], "tax filing")
}

func TestSession_RetrievalFailureKeepsMemory(t *testing.T) {
	f := newGrounded(t, &llmtest.Model{Default: "ok"})
	ctx := context.Background()
	_, err := f.session.Ask(ctx, "When is the tax deadline?")
	require.NoError(t, err)
	calls := f.model.Calls()

	f.embedder.FailQuery = true
	// the condensation call happens before retrieval fails
	_, err = f.session.Ask(ctx, "And rivers?")

	var providerErr *types.EmbeddingProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Len(t, f.session.History(), 2)
	assert.Equal(t, calls+1, f.model.Calls())
	assert.Equal(t, rag.ModeGrounded, f.session.Mode())
}

func TestSession_GenerationFailureKeepsMemory(t *testing.T) {
	boom := errors.New("model overloaded")
	f := newFixture(t, &llmtest.Model{Default: "fine", FailOn: map[int]error{1: boom}})
	ctx := context.Background()

	_, err := f.session.Ask(ctx, "first")
	require.NoError(t, err)

	_, err = f.session.Ask(ctx, "second")
	var genErr *types.GenerationProviderError
	require.ErrorAs(t, err, &genErr)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, []models.Turn{
		{Role: models.RoleUser, Text: "first"},
		{Role: models.RoleAssistant, Text: "fine"},
	}, f.session.History())
}

func TestSession_CondensationFailure(t *testing.T) {
	boom := errors.New("model overloaded")
	f := newGrounded(t, &llmtest.Model{Default: "ok", FailOn: map[int]error{1: boom}})
	ctx := context.Background()

	_, err := f.session.Ask(ctx, "When is the tax deadline?")
	require.NoError(t, err)
	queries := f.embedder.Queries()

	_, err = f.session.Ask(ctx, "And then?")
	var genErr *types.GenerationProviderError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, queries, f.embedder.Queries())
	assert.Len(t, f.session.History(), 2)
}

func TestSession_EmptyQuery(t *testing.T) {
	f := newFixture(t, &llmtest.Model{})

	_, err := f.session.Ask(context.Background(), "  \n")
	assert.ErrorIs(t, err, rag.ErrEmptyQuery)
	assert.Equal(t, 0, f.model.Calls())
}

func TestSession_MemoryStaysWithinBudget(t *testing.T) {
	f := newFixture(t, &llmtest.Model{Default: "four five six"}, withMemoryLimit(6))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.session.Ask(ctx, "one two three")
		require.NoError(t, err)

		total := 0
		for _, turn := range f.session.History() {
			total += wordCount(turn.Text)
		}
		assert.LessOrEqual(t, total, 6)
	}

	assert.Equal(t, []models.Turn{
		{Role: models.RoleUser, Text: "one two three"},
		{Role: models.RoleAssistant, Text: "four five six"},
	}, f.session.History())
}

func TestSession_ClearHistoryKeepsIndex(t *testing.T) {
	f := newGrounded(t, &llmtest.Model{Default: "ok"})
	ctx := context.Background()
	_, err := f.session.Ask(ctx, "When is the tax deadline?")
	require.NoError(t, err)

	f.session.ClearHistory()

	assert.Empty(t, f.session.History())
	assert.Equal(t, rag.ModeGrounded, f.session.Mode())
}

func TestSession_Reset(t *testing.T) {
	f := newGrounded(t, &llmtest.Model{Default: "ok"})
	ctx := context.Background()
	_, err := f.session.Ask(ctx, "When is the tax deadline?")
	require.NoError(t, err)

	require.NoError(t, f.session.Reset(ctx))

	assert.Empty(t, f.session.History())
	assert.Equal(t, rag.ModePlain, f.session.Mode())
}

func TestSession_SerialisesConcurrentAsks(t *testing.T) {
	f := newFixture(t, &llmtest.Model{Default: "ok", Fragments: 2}, withMemoryLimit(1000))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.session.Ask(ctx, "ping")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history := f.session.History()
	require.Len(t, history, 16)
	for i, turn := range history {
		if i%2 == 0 {
			assert.Equal(t, models.RoleUser, turn.Role)
		} else {
			assert.Equal(t, models.RoleAssistant, turn.Role)
		}
	}
}

type builderFunc func(ctx context.Context, chunks []models.Chunk) (types.Index, error)

func (f builderFunc) Build(ctx context.Context, chunks []models.Chunk) (types.Index, error) {
	return f(ctx, chunks)
}

// brokenIndex fails every search the way a lost database connection does.
type brokenIndex struct{ err error }

func (i brokenIndex) Len() int { return 1 }

func (i brokenIndex) Retrieve(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	return nil, i.err
}

func (i brokenIndex) Release(ctx context.Context) error { return nil }

func TestSession_IndexBackendBuildFailureIsProviderError(t *testing.T) {
	connReset := errors.New("failed to insert chunk 0: conn reset")
	f := newFixture(t, &llmtest.Model{}, withBuilder(builderFunc(
		func(ctx context.Context, chunks []models.Chunk) (types.Index, error) {
			return nil, connReset
		},
	)))

	_, err := f.session.Upload(context.Background(), "facts.txt", []byte(facts))

	var providerErr *types.EmbeddingProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.ErrorIs(t, err, connReset)
	assert.Equal(t, rag.ModePlain, f.session.Mode())
}

func TestSession_IndexBackendSearchFailureIsProviderError(t *testing.T) {
	connReset := errors.New("failed to query chunks: conn reset")
	f := newFixture(t, &llmtest.Model{Default: "ok"}, withBuilder(builderFunc(
		func(ctx context.Context, chunks []models.Chunk) (types.Index, error) {
			return brokenIndex{err: connReset}, nil
		},
	)))
	ctx := context.Background()

	_, err := f.session.Upload(ctx, "facts.txt", []byte(facts))
	require.NoError(t, err)

	_, err = f.session.Ask(ctx, "When is the tax deadline?")

	var providerErr *types.EmbeddingProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.ErrorIs(t, err, connReset)
	assert.Empty(t, f.session.History())
	assert.Equal(t, rag.ModeGrounded, f.session.Mode())
}
