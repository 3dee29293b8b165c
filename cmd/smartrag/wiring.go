package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/smartrag/smartrag/internal/ai"
	"github.com/smartrag/smartrag/internal/conversation"
	"github.com/smartrag/smartrag/internal/dbconn"
	"github.com/smartrag/smartrag/internal/dbexec"
	"github.com/smartrag/smartrag/internal/docsearch"
	"github.com/smartrag/smartrag/internal/intent"
	"github.com/smartrag/smartrag/internal/merge"
	"github.com/smartrag/smartrag/internal/ratelimit"
	"github.com/smartrag/smartrag/internal/router"
	"github.com/smartrag/smartrag/internal/schema"
	"github.com/smartrag/smartrag/internal/sqlgen"
	"github.com/smartrag/smartrag/internal/vectorstore"
	"github.com/smartrag/smartrag/pkg/config"
)

const defaultQueryTimeout = 30 * time.Second

// buildRouter wires every component from cfg, in the order each
// depends on the last: connection pool and schema registry first,
// then the AI provider chain, then every component that consumes it.
func buildRouter(ctx context.Context, cfg *config.Config) (*router.Router, error) {
	pool := dbconn.NewPool(ctx, cfg.Databases)

	registry := schema.NewRegistry(pool)
	if cfg.EnableAutoSchemaAnalysis {
		if err := registry.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("initialize schema registry: %w", err)
		}
	}

	repo, err := buildRepository(ctx, cfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("build document repository: %w", err)
	}

	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig())
	chain := ai.BuildChain(cfg.AI, cfg.Retry, limiter)
	if chain.Name() == "none" {
		return nil, fmt.Errorf("no AI provider enabled in configuration")
	}

	searchCfg := docsearch.Config{
		SemanticWeight:               cfg.Scoring.SemanticWeight,
		KeywordWeight:                cfg.Scoring.KeywordWeight,
		SemanticSearchThreshold:      cfg.Scoring.SemanticSearchThreshold,
		StrongDocumentMatchThreshold: cfg.Scoring.StrongDocumentMatchThreshold,
		MinResults:                   cfg.Scoring.MinResults,
		MaxResults:                   cfg.Scoring.MaxResults,
		CoherenceBonus:               1.1,
		ContextualBonus:              1.1,
	}
	searcher := docsearch.NewSearcher(repo, chain, searchCfg)

	analyzer := intent.NewAnalyzer(router.NewChatAdapter(chain), registry)
	generator := sqlgen.NewGenerator(router.NewChatAdapter(chain), registry, cfg.Retry)
	executor := dbexec.NewExecutor(pool, defaultQueryTimeout, 0)
	merger := merge.NewMerger(registry, pool, collectMappings(cfg.Databases))

	store, err := conversation.Open(cfg.ConversationStorePath)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}

	return router.New(chain, analyzer, searcher, generator, executor, merger, store, cfg.Scoring.SemanticSearchThreshold), nil
}

func buildRepository(ctx context.Context, cfg config.VectorStoreConfig) (vectorstore.Repository, error) {
	if cfg.Backend != "qdrant" {
		return vectorstore.NewMemoryRepository(), nil
	}

	host, port, err := splitHostPort(cfg.QdrantURL)
	if err != nil {
		return nil, err
	}
	return vectorstore.NewQdrantRepository(ctx, host, port, cfg.Collection, uint64(cfg.Dimensions))
}

func splitHostPort(rawURL string) (string, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", 0, fmt.Errorf("parse qdrant url %q: %w", rawURL, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return "", 0, fmt.Errorf("qdrant url %q must include a port: %w", rawURL, err)
	}
	return u.Hostname(), port, nil
}

func collectMappings(dbs []config.DatabaseConnectionConfig) []config.CrossDatabaseMapping {
	var mappings []config.CrossDatabaseMapping
	for _, db := range dbs {
		mappings = append(mappings, db.CrossDatabaseMappings...)
	}
	return mappings
}
