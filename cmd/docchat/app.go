package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xhad/docchat/internal/types"
	"github.com/xhad/docchat/pkg/config"
	"github.com/xhad/docchat/pkg/llm"
	"github.com/xhad/docchat/pkg/loader"
	"github.com/xhad/docchat/pkg/processor"
	"github.com/xhad/docchat/pkg/rag"
	"github.com/xhad/docchat/pkg/scraper"
	"github.com/xhad/docchat/pkg/store"
)

// app holds the components shared by every session.
type app struct {
	config    *config.Config
	log       *zap.SugaredLogger
	chat      *llm.ChatEngine
	builder   types.IndexBuilder
	loader    *loader.Registry
	processor *processor.Processor
	tokens    types.TokenCounter
	close     func()
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*app, error) {
	chat, err := llm.NewWithConfig(llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.EmbeddingModel,
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		BatchSize: cfg.Index.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	proc, err := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		config:    cfg,
		log:       log,
		chat:      chat,
		loader:    loader.New(),
		processor: proc,
		tokens:    llm.TokenCounter(cfg.LLM.Model),
		close:     func() {},
	}

	embed := store.EmbedConfig{BatchSize: cfg.Index.BatchSize, RateLimit: cfg.Index.RateLimit}
	switch cfg.Index.Backend {
	case config.BackendPGVector:
		vs, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString: cfg.Database.URL,
			TableName:  cfg.Database.TableName,
			VectorDim:  cfg.Database.VectorDim,
			Embed:      embed,
		}, embedder)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
		a.builder = vs
		a.close = vs.Close
	default:
		mb, err := store.NewMemoryBuilder(embedder, embed)
		if err != nil {
			return nil, err
		}
		a.builder = mb
	}

	log.Infow("Initialized",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"embedding_model", cfg.LLM.EmbeddingModel,
		"backend", cfg.Index.Backend,
	)
	return a, nil
}

func (a *app) newSession() (*rag.Session, error) {
	return rag.NewSession(rag.SessionConfig{
		Loader:           a.loader,
		Processor:        a.processor,
		Builder:          a.builder,
		Generator:        a.chat,
		TokenCounter:     a.tokens,
		MemoryTokenLimit: a.config.Memory.TokenLimit,
		K:                a.config.Index.K,
		Logger:           a.log,
	})
}

func (a *app) newScraper(onProgress func(string)) (*scraper.Scraper, error) {
	return scraper.NewWithConfig(scraper.ScraperConfig{
		MaxDepth:   a.config.Scraper.MaxDepth,
		MaxPages:   a.config.Scraper.MaxPages,
		RateLimit:  a.config.Scraper.RateLimit,
		OnProgress: onProgress,
		Logger:     a.log,
	})
}
