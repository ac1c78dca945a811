package store

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/tmc/langchaingo/embeddings"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
)

// MemoryBuilder builds indexes held entirely in process memory.
type MemoryBuilder struct {
	embed *batchEmbedder
}

func NewMemoryBuilder(embedder embeddings.Embedder, config EmbedConfig) (*MemoryBuilder, error) {
	b, err := newBatchEmbedder(embedder, config)
	if err != nil {
		return nil, err
	}
	return &MemoryBuilder{embed: b}, nil
}

func (mb *MemoryBuilder) Build(ctx context.Context, chunks []models.Chunk) (types.Index, error) {
	if len(chunks) == 0 {
		return nil, types.ErrEmptyDocument
	}

	vectors, err := mb.embed.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}

	entries := make([]memoryEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = memoryEntry{chunk: c, vector: vectors[i], norm: norm(vectors[i])}
	}

	return &MemoryIndex{
		embed:   mb.embed,
		entries: entries,
	}, nil
}

type memoryEntry struct {
	chunk  models.Chunk
	vector []float32
	norm   float64
}

// MemoryIndex ranks chunks by cosine similarity with a brute-force scan.
type MemoryIndex struct {
	embed   *batchEmbedder
	entries []memoryEntry
}

func (mi *MemoryIndex) Len() int {
	if mi == nil {
		return 0
	}
	return len(mi.entries)
}

func (mi *MemoryIndex) Dimension() int {
	if mi.Len() == 0 {
		return 0
	}
	return len(mi.entries[0].vector)
}

func (mi *MemoryIndex) Retrieve(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if mi.Len() == 0 {
		return nil, fmt.Errorf("retrieve from empty index: %w", types.ErrPreconditionViolated)
	}
	if k <= 0 {
		return nil, fmt.Errorf("retrieve with k=%d: %w", k, types.ErrPreconditionViolated)
	}

	q, err := mi.embed.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(q) != mi.Dimension() {
		return nil, &types.EmbeddingProviderError{
			Err: fmt.Errorf("query vector has dimension %d, index has %d", len(q), mi.Dimension()),
		}
	}

	return mi.rank(q, k), nil
}

func (mi *MemoryIndex) rank(q []float32, k int) []models.ScoredChunk {
	qNorm := norm(q)
	results := make([]models.ScoredChunk, len(mi.entries))
	for i, e := range mi.entries {
		results[i] = models.ScoredChunk{Chunk: e.chunk, Score: cosine(q, qNorm, e.vector, e.norm)}
	}

	// Entries are in document order, so a stable sort lets earlier chunks win ties.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k]
}

// Release drops the vectors.
func (mi *MemoryIndex) Release(ctx context.Context) error {
	mi.entries = nil
	return nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (aNorm * bNorm)
}
