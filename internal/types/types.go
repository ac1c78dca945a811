package types

import (
	"context"

	"github.com/xhad/docchat/internal/models"
)

// Reader extracts the text of a single document format.
type Reader interface {
	Read(data []byte) (string, error)
}

// Index is an immutable collection of embedded chunks.
type Index interface {
	Len() int
	// Retrieve returns the min(k, Len()) chunks most similar to query, best first.
	Retrieve(ctx context.Context, query string, k int) ([]models.ScoredChunk, error)
	// Release frees whatever backs the index. The index must not be used afterwards.
	Release(ctx context.Context) error
}

// IndexBuilder embeds chunks into a fresh Index. A failed build leaves nothing behind.
type IndexBuilder interface {
	Build(ctx context.Context, chunks []models.Chunk) (Index, error)
}

// TokenCounter reports the provider cost of a piece of text.
type TokenCounter func(text string) int
