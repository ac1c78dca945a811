// Package rag answers questions about an uploaded document, falling back to
// plain conversation when no document is loaded.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/loader"
	"github.com/xhad/docchat/pkg/logging"
	"github.com/xhad/docchat/pkg/memory"
	"github.com/xhad/docchat/pkg/processor"
)

// ErrEmptyQuery is returned for blank questions.
var ErrEmptyQuery = errors.New("query is empty")

// Generator produces an answer for a prompt, streaming fragments to
// onFragment when it is not nil.
type Generator interface {
	Generate(ctx context.Context, messages []llms.MessageContent, onFragment func(string) error) (string, error)
}

// Mode tells whether answers are grounded in an uploaded document.
type Mode int

const (
	// ModePlain answers from the conversation alone.
	ModePlain Mode = iota
	// ModeGrounded answers from passages retrieved from the current document.
	ModeGrounded
)

func (m Mode) String() string {
	if m == ModeGrounded {
		return "grounded"
	}
	return "plain"
}

// SessionConfig wires a Session to its collaborators. Builder, Generator
// and TokenCounter are required; the rest have defaults.
type SessionConfig struct {
	Loader       *loader.Registry
	Processor    *processor.Processor
	Builder      types.IndexBuilder
	Generator    Generator
	TokenCounter types.TokenCounter
	// MemoryTokenLimit bounds the retained conversation. Defaults to 2000.
	MemoryTokenLimit int
	// K is the number of passages retrieved per question. Defaults to 4.
	K      int
	Logger *zap.SugaredLogger
}

// Document describes the indexed document.
type Document struct {
	Filename string
	Chunks   int
}

// Session is one conversation: its memory and, optionally, the index of the
// uploaded document. All operations are serialised.
type Session struct {
	mu sync.Mutex

	loader    *loader.Registry
	processor *processor.Processor
	builder   types.IndexBuilder
	generator Generator
	k         int
	log       *zap.SugaredLogger

	memory   *memory.Memory
	index    types.Index
	document Document
}

// NewSession returns a session in plain mode with empty memory.
func NewSession(config SessionConfig) (*Session, error) {
	if config.Builder == nil {
		return nil, errors.New("index builder is required")
	}
	if config.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if config.TokenCounter == nil {
		return nil, errors.New("token counter is required")
	}
	if config.Loader == nil {
		config.Loader = loader.New()
	}
	if config.Processor == nil {
		p, err := processor.NewWithConfig(processor.ProcessorConfig{})
		if err != nil {
			return nil, err
		}
		config.Processor = p
	}
	if config.MemoryTokenLimit == 0 {
		config.MemoryTokenLimit = 2000
	}
	if config.K == 0 {
		config.K = 4
	}
	if config.K < 0 {
		return nil, fmt.Errorf("k must be positive, got %d", config.K)
	}

	mem, err := memory.New(config.MemoryTokenLimit, config.TokenCounter)
	if err != nil {
		return nil, err
	}

	return &Session{
		loader:    config.Loader,
		processor: config.Processor,
		builder:   config.Builder,
		generator: config.Generator,
		k:         config.K,
		log:       logging.OrNop(config.Logger),
		memory:    mem,
	}, nil
}

// Mode reports whether a document is indexed.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode()
}

func (s *Session) mode() Mode {
	if s.index == nil {
		return ModePlain
	}
	return ModeGrounded
}

// Document returns the indexed document, if any.
func (s *Session) Document() (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document, s.index != nil
}

// History returns the retained turns, oldest first.
func (s *Session) History() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory.Turns()
}

// Upload indexes a document, replacing any current one. An unsupported
// format leaves the session untouched. Any later failure discards the
// current index and leaves the session in plain mode.
func (s *Session) Upload(ctx context.Context, filename string, data []byte) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reader, err := s.loader.Lookup(filename)
	if err != nil {
		s.log.Warnw("Rejected upload", "filename", filename, "error", err)
		return Document{}, err
	}

	index, err := s.buildIndex(ctx, reader, data)
	if err != nil {
		err = indexError(ctx, err)
		_ = s.dropIndex(ctx)
		s.log.Warnw("Failed to index document", "filename", filename, "error", err)
		return Document{}, err
	}

	_ = s.dropIndex(ctx)
	s.index = index
	s.document = Document{Filename: filename, Chunks: index.Len()}
	s.log.Infow("Indexed document", "filename", filename, "chunks", index.Len())

	return s.document, nil
}

func (s *Session) buildIndex(ctx context.Context, reader types.Reader, data []byte) (types.Index, error) {
	text, err := reader.Read(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmptyDocument, err)
	}

	chunks, err := s.processor.Process(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrEmptyDocument, err)
	}
	if len(chunks) == 0 {
		return nil, types.ErrEmptyDocument
	}

	return s.builder.Build(ctx, chunks)
}

// RemoveDocument discards the current index, if any. The session is in
// plain mode afterwards even when releasing the index fails.
func (s *Session) RemoveDocument(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index != nil {
		s.log.Infow("Removed document", "filename", s.document.Filename)
	}
	return s.dropIndex(ctx)
}

// ClearHistory empties the conversation memory. The index is kept.
func (s *Session) ClearHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory.Clear()
}

// Reset empties the memory and discards the index.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory.Clear()
	return s.dropIndex(ctx)
}

func (s *Session) dropIndex(ctx context.Context) error {
	if s.index == nil {
		return nil
	}
	err := s.index.Release(ctx)
	if err != nil {
		s.log.Warnw("Failed to release index", "filename", s.document.Filename, "error", err)
		err = fmt.Errorf("failed to release index: %w", err)
	}
	s.index = nil
	s.document = Document{}
	return err
}

// Ask answers query and records the exchange in memory. On failure memory
// is left as it was.
func (s *Session) Ask(ctx context.Context, query string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	answer, err := s.answer(ctx, query, nil)
	if err != nil {
		return "", err
	}
	s.remember(query, answer)
	return answer, nil
}

func (s *Session) remember(query, answer string) {
	s.memory.Append(models.RoleUser, query)
	s.memory.Append(models.RoleAssistant, answer)
}

func (s *Session) answer(ctx context.Context, query string, onFragment func(string) error) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyQuery
	}

	history := s.memory.Turns()

	var prompt []llms.MessageContent
	var err error
	if s.index == nil {
		prompt, err = render(plainPrompt, map[string]any{
			"chat_history": formatHistory(history),
			"question":     query,
		})
	} else {
		prompt, err = s.groundedPrompt(ctx, query, history)
	}
	if err != nil {
		return "", err
	}

	answer, err := s.generator.Generate(ctx, prompt, onFragment)
	if err != nil {
		return "", generationError(ctx, err)
	}

	answer = strings.TrimSpace(answer)
	s.log.Debugw("Answered question", "mode", s.mode().String(), "answer_len", len(answer))
	return answer, nil
}

func (s *Session) groundedPrompt(ctx context.Context, query string, history []models.Turn) ([]llms.MessageContent, error) {
	standalone := query
	if len(history) > 0 {
		condense, err := render(condensePrompt, map[string]any{
			"chat_history": formatHistory(history),
			"question":     query,
		})
		if err != nil {
			return nil, err
		}
		rephrased, err := s.generator.Generate(ctx, condense, nil)
		if err != nil {
			return nil, generationError(ctx, err)
		}
		if rephrased = strings.TrimSpace(rephrased); rephrased != "" {
			standalone = rephrased
		}
		s.log.Debugw("Condensed question", "question", query, "standalone", standalone)
	}

	results, err := s.index.Retrieve(ctx, standalone, s.k)
	if err != nil {
		return nil, indexError(ctx, err)
	}

	return render(groundedPrompt, map[string]any{
		"context":  formatContext(results),
		"question": query,
	})
}

// indexError types a failure from building or searching an index. Anything
// that is not already classified is a failure of the index's provider.
func indexError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var providerErr *types.EmbeddingProviderError
	if errors.As(err, &providerErr) ||
		errors.Is(err, types.ErrEmptyDocument) ||
		errors.Is(err, types.ErrPreconditionViolated) {
		return err
	}
	return &types.EmbeddingProviderError{Err: err}
}

func generationError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &types.GenerationProviderError{Err: err}
}
