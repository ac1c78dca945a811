package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docchat/pkg/llm/llmtest"
	"github.com/xhad/docchat/pkg/store"
)

func getTestConfig(t *testing.T) store.VectorStoreConfig {
	t.Helper()
	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		t.Skip("DATABASE_URL not set")
	}
	return store.VectorStoreConfig{
		ConnString: connString,
		TableName:  "test_document_chunks",
		VectorDim:  64,
	}
}

func TestVectorStore(t *testing.T) {
	config := getTestConfig(t)
	ctx := context.Background()

	s, err := store.NewWithConfig(ctx, config, &llmtest.Embedder{Dim: 64})
	require.NoError(t, err)
	defer s.Close()

	index, err := s.Build(ctx, corpus)
	require.NoError(t, err)
	defer index.Release(ctx)

	assert.Equal(t, len(corpus), index.Len())

	results, err := index.Retrieve(ctx, "colorful socks", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Content, "socks")
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	results, err = index.Retrieve(ctx, "colorful socks", 100)
	require.NoError(t, err)
	assert.Len(t, results, len(corpus))
}

func TestVectorStore_IndexesAreIsolated(t *testing.T) {
	config := getTestConfig(t)
	ctx := context.Background()

	s, err := store.NewWithConfig(ctx, config, &llmtest.Embedder{Dim: 64})
	require.NoError(t, err)
	defer s.Close()

	first, err := s.Build(ctx, corpus[:2])
	require.NoError(t, err)
	second, err := s.Build(ctx, corpus[2:])
	require.NoError(t, err)
	defer second.Release(ctx)

	require.NoError(t, first.Release(ctx))

	results, err := second.Retrieve(ctx, "socks", 10)
	require.NoError(t, err)
	assert.Len(t, results, len(corpus)-2)
}

func TestVectorStore_DimensionMismatch(t *testing.T) {
	config := getTestConfig(t)
	ctx := context.Background()

	s, err := store.NewWithConfig(ctx, config, &llmtest.Embedder{Dim: 32})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Build(ctx, corpus)
	assert.Error(t, err)
}
