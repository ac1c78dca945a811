// Package llmtest provides deterministic stand-ins for language model and
// embedding providers.
package llmtest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/tmc/langchaingo/llms"
)

// Model is a scripted llms.Model. Each call pops the next reply; once the
// script is exhausted it echoes Default. Replies are streamed in Fragments
// pieces when a streaming callback is supplied.
type Model struct {
	mu sync.Mutex

	Replies   []string
	Default   string
	Fragments int
	// Err, when set, fails every call.
	Err error
	// FailOn fails the call with the given zero-based index.
	FailOn map[int]error

	calls [][]llms.MessageContent
}

// Prompts returns the text of every recorded call, one string per call.
func (m *Model) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.calls))
	for _, call := range m.calls {
		out = append(out, MessagesText(call))
	}
	return out
}

// Calls returns the number of GenerateContent calls made so far.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *Model) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, messages)
	reply := m.Default
	if len(m.Replies) > 0 {
		reply = m.Replies[0]
		m.Replies = m.Replies[1:]
	}
	err := m.Err
	if e, ok := m.FailOn[idx]; ok {
		err = e
	}
	fragments := m.Fragments
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if opts.StreamingFunc != nil {
		for _, part := range split(reply, fragments) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := opts.StreamingFunc(ctx, []byte(part)); err != nil {
				return nil, err
			}
		}
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: reply}},
	}, nil
}

func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// MessagesText flattens the text parts of messages.
func MessagesText(messages []llms.MessageContent) string {
	var b strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				b.WriteString(text.Text)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func split(s string, n int) []string {
	if n <= 1 || len(s) <= n {
		return []string{s}
	}
	size := (len(s) + n - 1) / n
	parts := make([]string, 0, n)
	for start := 0; start < len(s); start += size {
		end := start + size
		if end > len(s) {
			end = len(s)
		}
		parts = append(parts, s[start:end])
	}
	return parts
}

// ErrEmbedding is returned by Embedder when asked to fail.
var ErrEmbedding = errors.New("embedding service unavailable")

// Embedder produces bag-of-words hash vectors, so texts sharing words are
// similar. It implements embeddings.Embedder.
type Embedder struct {
	mu sync.Mutex

	Dim int
	// FailDocuments and FailQuery make the respective calls return ErrEmbedding.
	FailDocuments bool
	FailQuery     bool
	// FailAfter, when positive, fails EmbedDocuments once that many texts were embedded.
	FailAfter int

	embedded int
	batches  int
	queries  int
}

func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.batches++
	if e.FailDocuments || (e.FailAfter > 0 && e.embedded+len(texts) > e.FailAfter) {
		return nil, ErrEmbedding
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = Vector(text, e.dim())
	}
	e.embedded += len(texts)
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.queries++
	if e.FailQuery {
		return nil, ErrEmbedding
	}
	return Vector(text, e.dim()), nil
}

// Batches returns the number of EmbedDocuments calls.
func (e *Embedder) Batches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batches
}

// Queries returns the number of EmbedQuery calls.
func (e *Embedder) Queries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queries
}

func (e *Embedder) dim() int {
	if e.Dim <= 0 {
		return 64
	}
	return e.Dim
}

// Vector hashes the lower-cased words of text into a unit vector of size dim.
func Vector(text string, dim int) []float32 {
	v := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(dim)]++
	}

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
