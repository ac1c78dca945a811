package store

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/time/rate"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
)

// EmbedConfig controls how chunks are sent to the embedding provider.
type EmbedConfig struct {
	BatchSize int
	// RateLimit caps embedding requests per second. Zero means unlimited.
	RateLimit float64
}

type batchEmbedder struct {
	embedder  embeddings.Embedder
	batchSize int
	limiter   *rate.Limiter
}

func newBatchEmbedder(embedder embeddings.Embedder, config EmbedConfig) (*batchEmbedder, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return &batchEmbedder{
		embedder:  embedder,
		batchSize: config.BatchSize,
		limiter:   limiter,
	}, nil
}

// embedChunks returns one vector per chunk, all of the same dimension.
func (b *batchEmbedder) embedChunks(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))

	for start := 0; start < len(chunks); start += b.batchSize {
		end := start + b.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		if err := b.limiter.Wait(ctx); err != nil {
			return nil, &types.EmbeddingProviderError{Err: err}
		}

		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, sanitizeUTF8(c.Content))
		}

		batch, err := b.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, &types.EmbeddingProviderError{Err: err}
		}
		if len(batch) != len(texts) {
			return nil, &types.EmbeddingProviderError{
				Err: fmt.Errorf("got %d embeddings for %d chunks", len(batch), len(texts)),
			}
		}
		vectors = append(vectors, batch...)
	}

	for i, v := range vectors {
		if len(v) == 0 || len(v) != len(vectors[0]) {
			return nil, &types.EmbeddingProviderError{
				Err: fmt.Errorf("vector dimension mismatch at chunk %d: got %d, want %d", i, len(v), len(vectors[0])),
			}
		}
	}
	return vectors, nil
}

func (b *batchEmbedder) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, &types.EmbeddingProviderError{Err: err}
	}
	v, err := b.embedder.EmbedQuery(ctx, sanitizeUTF8(query))
	if err != nil {
		return nil, &types.EmbeddingProviderError{Err: err}
	}
	return v, nil
}
