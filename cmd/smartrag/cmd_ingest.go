package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/smartrag/smartrag/internal/ai"
	"github.com/smartrag/smartrag/internal/document"
	"github.com/smartrag/smartrag/internal/ratelimit"
	"github.com/smartrag/smartrag/internal/vectorstore"
	"github.com/smartrag/smartrag/pkg/config"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Chunk and embed a text file into the document index",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runIngest(args[0])
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(path string) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading %s: %v\n", path, err)
		os.Exit(1)
	}

	ctx := context.Background()
	repo, err := buildRepository(ctx, cfg.VectorStore)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error building document repository: %v\n", err)
		os.Exit(1)
	}

	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig())
	chain := ai.BuildChain(cfg.AI, cfg.Retry, limiter)

	documentID := uuid.New().String()
	chunker := document.NewChunker(document.Config{
		MaxChunkSize: cfg.Chunking.MaxChunkSize,
		MinChunkSize: cfg.Chunking.MinChunkSize,
		ChunkOverlap: cfg.Chunking.ChunkOverlap,
	})
	chunks := chunker.ChunkText(documentID, string(raw), document.ContentTypeDocument)
	if len(chunks) == 0 {
		fmt.Fprintln(os.Stderr, "no chunks produced, file may be empty")
		os.Exit(1)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := chain.GenerateEmbeddingsBatch(ctx, texts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating embeddings: %v\n", err)
		os.Exit(1)
	}
	for i := range chunks {
		chunks[i].Embedding = embeddings[i]
		chunks[i].CreatedAt = time.Now()
		if chunks[i].Language == "" {
			chunks[i].Language = cfg.DefaultLanguage
		}
	}

	if err := upsertAll(ctx, repo, chunks); err != nil {
		fmt.Fprintf(os.Stderr, "error indexing chunks: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("indexed %d chunks from %s as document %s\n", len(chunks), filepath.Base(path), documentID)
}

func upsertAll(ctx context.Context, repo vectorstore.Repository, chunks []document.Chunk) error {
	return repo.UpsertBatch(ctx, chunks)
}
