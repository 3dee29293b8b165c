package docsearch

import (
	"context"
	"errors"
	"testing"

	"github.com/smartrag/smartrag/internal/document"
	"github.com/smartrag/smartrag/internal/vectorstore"
)

type stubEmbedder struct {
	vec []float32
	err error
}

func (s stubEmbedder) GenerateEmbedding(_ context.Context, _ string) ([]float32, error) {
	return s.vec, s.err
}

func seedRepo(t *testing.T) *vectorstore.MemoryRepository {
	t.Helper()
	repo := vectorstore.NewMemoryRepository()
	chunks := []document.Chunk{
		{ID: "1", DocumentID: "d1", Text: "Paris is the capital of France.", ContentType: document.ContentTypeDocument, Embedding: []float32{1, 0, 0}},
		{ID: "2", DocumentID: "d1", Text: "Berlin is the capital of Germany.", ContentType: document.ContentTypeDocument, Embedding: []float32{0, 1, 0}},
	}
	if err := repo.UpsertBatch(context.Background(), chunks); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return repo
}

func TestSearcher_Search_HappyPath(t *testing.T) {
	repo := seedRepo(t)
	embedder := stubEmbedder{vec: []float32{1, 0, 0}}
	searcher := NewSearcher(repo, embedder, DefaultConfig())

	result, err := searcher.Search(context.Background(), "capital of France", vectorstore.Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(result.Chunks) == 0 {
		t.Fatal("expected at least one result")
	}
	if result.Chunks[0].Chunk.ID != "1" {
		t.Errorf("expected Paris chunk to rank first, got %s", result.Chunks[0].Chunk.ID)
	}
	if result.Degraded {
		t.Error("expected non-degraded result")
	}
}

func TestSearcher_Search_EmbeddingFailureDegradesToKeyword(t *testing.T) {
	repo := vectorstore.NewMemoryRepository()
	_ = repo.UpsertBatch(context.Background(), []document.Chunk{
		{ID: "1", Text: "Paris is the capital of France."},
		{ID: "2", Text: "Something else entirely."},
	})
	embedder := stubEmbedder{err: errors.New("provider unavailable")}
	cfg := DefaultConfig()
	cfg.SemanticSearchThreshold = 0.01
	searcher := NewSearcher(repo, embedder, cfg)

	result, err := searcher.Search(context.Background(), "capital France", vectorstore.Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !result.Degraded {
		t.Error("expected degraded=true on embedding failure")
	}
}

func TestSearcher_StrongMatch(t *testing.T) {
	repo := seedRepo(t)
	embedder := stubEmbedder{vec: []float32{1, 0, 0}}
	cfg := DefaultConfig()
	cfg.StrongDocumentMatchThreshold = 0.5 // within reach of a pure semantic match at weight 0.8
	searcher := NewSearcher(repo, embedder, cfg)

	result, err := searcher.Search(context.Background(), "Paris capital France", vectorstore.Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !result.Strong {
		t.Error("expected a strong match given near-identical embeddings and keyword overlap")
	}
}

func TestKeywordScore(t *testing.T) {
	score := keywordScore([]string{"paris", "capital"}, "Paris is the capital of France.")
	if score <= 0 {
		t.Errorf("expected positive keyword score, got %f", score)
	}
	if s := keywordScore(nil, "anything"); s != 0 {
		t.Errorf("expected 0 for empty query tokens, got %f", s)
	}
}

func TestHasSemanticCoherence(t *testing.T) {
	if !hasSemanticCoherence([]string{"paris", "capital", "france"}, "Paris is the capital of France.") {
		t.Error("expected coherence for in-order tokens")
	}
}

func TestAdmitAtThreshold(t *testing.T) {
	scored := []ScoredChunk{{Score: 5}, {Score: 1}, {Score: 0.1}}
	admitted := admitAtThreshold(scored, 1)
	if len(admitted) != 2 {
		t.Errorf("expected 2 admitted at threshold 1, got %d", len(admitted))
	}
}

func TestParseContentTypeFilter(t *testing.T) {
	cases := []struct {
		query     string
		wantQuery string
		wantType  document.ContentType
	}{
		{"-d the handbook says what?", "the handbook says what?", document.ContentTypeDocument},
		{"-a  transcript of the call", "transcript of the call", document.ContentTypeAudio},
		{"-i diagram of the pipeline", "diagram of the pipeline", document.ContentTypeImage},
		{"-db top customers by revenue", "top customers by revenue", document.ContentTypeDatabase},
		{"-d", "", document.ContentTypeDocument},
		{"plain query with no flag", "plain query with no flag", ""},
		{"-dash is not a flag", "-dash is not a flag", ""},
	}
	for _, tc := range cases {
		gotQuery, gotType := ParseContentTypeFilter(tc.query)
		if gotQuery != tc.wantQuery || gotType != tc.wantType {
			t.Errorf("ParseContentTypeFilter(%q) = (%q, %q), want (%q, %q)",
				tc.query, gotQuery, gotType, tc.wantQuery, tc.wantType)
		}
	}
}
