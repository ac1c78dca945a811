package store

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/tmc/langchaingo/embeddings"

	"github.com/xhad/docchat/internal/models"
	"github.com/xhad/docchat/internal/types"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	Embed      EmbedConfig
}

// VectorStore builds indexes whose similarity search runs inside Postgres
// with pgvector. Every built index owns its rows, keyed by a fresh index id,
// so replacing an index never touches the rows of another one.
type VectorStore struct {
	config VectorStoreConfig
	table  string
	pool   *pgxpool.Pool
	embed  *batchEmbedder
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig, embedder embeddings.Embedder) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "document_chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768 // nomic-embed-text
	}

	embed, err := newBatchEmbedder(embedder, config.Embed)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
		pool:   pool,
		embed:  embed,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	// Search is always scoped to one index id, so the primary key is the only
	// index needed and ranking stays exact.
	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			index_id UUID NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			PRIMARY KEY (index_id, chunk_index)
		)`, vs.table, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return nil
}

func (vs *VectorStore) Build(ctx context.Context, chunks []models.Chunk) (types.Index, error) {
	if len(chunks) == 0 {
		return nil, types.ErrEmptyDocument
	}

	vectors, err := vs.embed.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}
	if dim := len(vectors[0]); dim != vs.config.VectorDim {
		return nil, &types.EmbeddingProviderError{
			Err: fmt.Errorf("embedding dimension %d does not match table dimension %d", dim, vs.config.VectorDim),
		}
	}

	id := uuid.New()

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return nil, searchError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (index_id, chunk_index, content, embedding)
		VALUES ($1, $2, $3, $4)`, vs.table)

	for i, chunk := range chunks {
		_, err = tx.Exec(ctx, stmt,
			id,
			chunk.Index,
			sanitizeUTF8(chunk.Content),
			pgvector.NewVector(vectors[i]),
		)
		if err != nil {
			return nil, searchError(fmt.Sprintf("failed to insert chunk %d", chunk.Index), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, searchError("failed to commit transaction", err)
	}

	return &pgIndex{vs: vs, id: id, size: len(chunks)}, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

type pgIndex struct {
	vs   *VectorStore
	id   uuid.UUID
	size int
}

func (pi *pgIndex) Len() int {
	return pi.size
}

func (pi *pgIndex) Retrieve(ctx context.Context, query string, k int) ([]models.ScoredChunk, error) {
	if pi.size == 0 {
		return nil, fmt.Errorf("retrieve from empty index: %w", types.ErrPreconditionViolated)
	}
	if k <= 0 {
		return nil, fmt.Errorf("retrieve with k=%d: %w", k, types.ErrPreconditionViolated)
	}

	q, err := pi.vs.embed.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`
		SELECT chunk_index, content, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE index_id = $2
		ORDER BY embedding <=> $1, chunk_index
		LIMIT $3`, pi.vs.table)

	rows, err := pi.vs.pool.Query(ctx, sql, pgvector.NewVector(q), pi.id, k)
	if err != nil {
		return nil, searchError("failed to query chunks", err)
	}
	defer rows.Close()

	var results []models.ScoredChunk
	for rows.Next() {
		var r models.ScoredChunk
		if err := rows.Scan(&r.Index, &r.Content, &r.Score); err != nil {
			return nil, searchError("failed to scan row", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, searchError("failed to read rows", err)
	}

	return results, nil
}

// Release deletes the rows owned by this index.
func (pi *pgIndex) Release(ctx context.Context) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE index_id = $1", pi.vs.table)
	if _, err := pi.vs.pool.Exec(ctx, sql, pi.id); err != nil {
		return fmt.Errorf("failed to delete index %s: %w", pi.id, err)
	}
	pi.size = 0
	return nil
}

// searchError reports a failed database call as a provider failure, since
// the database is the remote half of the index.
func searchError(msg string, err error) error {
	return &types.EmbeddingProviderError{Err: fmt.Errorf("%s: %w", msg, err)}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
