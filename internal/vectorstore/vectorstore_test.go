package vectorstore

import (
	"context"
	"testing"

	"github.com/smartrag/smartrag/internal/document"
)

func TestMemoryRepository_VectorSearch(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	chunks := []document.Chunk{
		{ID: "1", DocumentID: "d1", Text: "Paris is the capital of France.", ContentType: document.ContentTypeDocument, Embedding: []float32{1, 0, 0}},
		{ID: "2", DocumentID: "d1", Text: "Berlin is the capital of Germany.", ContentType: document.ContentTypeDocument, Embedding: []float32{0, 1, 0}},
		{ID: "3", DocumentID: "d2", Text: "Unrelated audio transcript.", ContentType: document.ContentTypeAudio, Embedding: []float32{0, 0, 1}},
	}
	if err := repo.UpsertBatch(ctx, chunks); err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}

	results, err := repo.VectorSearch(ctx, []float32{1, 0, 0}, 2, Filters{})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Chunk.ID != "1" {
		t.Errorf("expected best match to be chunk 1, got %s", results[0].Chunk.ID)
	}
	if results[0].Similarity < 0.99 {
		t.Errorf("expected near-perfect similarity, got %f", results[0].Similarity)
	}
}

func TestMemoryRepository_VectorSearch_FiltersByContentType(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_ = repo.UpsertBatch(ctx, []document.Chunk{
		{ID: "1", ContentType: document.ContentTypeDocument, Embedding: []float32{1, 0}},
		{ID: "2", ContentType: document.ContentTypeAudio, Embedding: []float32{1, 0}},
	})

	results, err := repo.VectorSearch(ctx, []float32{1, 0}, 10, Filters{ContentType: document.ContentTypeAudio})
	if err != nil {
		t.Fatalf("VectorSearch: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "2" {
		t.Fatalf("expected only the audio chunk, got %+v", results)
	}
}

func TestMemoryRepository_TextSearch(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_ = repo.UpsertBatch(ctx, []document.Chunk{
		{ID: "1", Text: "The quick brown fox"},
		{ID: "2", Text: "A lazy dog sleeps"},
	})

	results, err := repo.TextSearch(ctx, []string{"fox"}, Filters{})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if len(results) != 1 || results[0].ID != "1" {
		t.Fatalf("expected chunk 1 only, got %+v", results)
	}
}

func TestMemoryRepository_DeleteByDocument(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_ = repo.UpsertBatch(ctx, []document.Chunk{
		{ID: "1", DocumentID: "d1"},
		{ID: "2", DocumentID: "d2"},
	})

	if err := repo.DeleteByDocument(ctx, "d1"); err != nil {
		t.Fatalf("DeleteByDocument: %v", err)
	}

	all, _ := repo.GetAll(ctx)
	if len(all) != 1 || all[0].ID != "2" {
		t.Fatalf("expected only chunk 2 to remain, got %+v", all)
	}
}

func TestMemoryRepository_ClearAll(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	_ = repo.Upsert(ctx, document.Chunk{ID: "1"})
	_ = repo.ClearAll(ctx)

	all, _ := repo.GetAll(ctx)
	if len(all) != 0 {
		t.Fatalf("expected empty repository after ClearAll, got %d", len(all))
	}
}

func TestCosineSimilarity(t *testing.T) {
	if sim := cosineSimilarity([]float32{1, 0}, []float32{1, 0}); sim < 0.999 {
		t.Errorf("expected identical vectors to have similarity ~1, got %f", sim)
	}
	if sim := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); sim > 0.001 {
		t.Errorf("expected orthogonal vectors to have similarity ~0, got %f", sim)
	}
	if sim := cosineSimilarity(nil, []float32{1}); sim != 0 {
		t.Errorf("expected mismatched-length vectors to yield 0, got %f", sim)
	}
}
