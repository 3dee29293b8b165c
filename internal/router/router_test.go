package router

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/smartrag/smartrag/internal/ai"
	"github.com/smartrag/smartrag/internal/conversation"
	"github.com/smartrag/smartrag/internal/dbconn"
	"github.com/smartrag/smartrag/internal/dbexec"
	"github.com/smartrag/smartrag/internal/docsearch"
	"github.com/smartrag/smartrag/internal/document"
	"github.com/smartrag/smartrag/internal/intent"
	"github.com/smartrag/smartrag/internal/merge"
	"github.com/smartrag/smartrag/internal/ratelimit"
	"github.com/smartrag/smartrag/internal/schema"
	"github.com/smartrag/smartrag/internal/sqlgen"
	"github.com/smartrag/smartrag/internal/vectorstore"
	"github.com/smartrag/smartrag/pkg/config"
)

// fakeAIProvider answers with scripted text depending on which prompt
// kind it recognizes, so a single provider can drive intent analysis,
// SQL generation, and synthesis within one test.
type fakeAIProvider struct {
	intentReply string
	sqlReply    string
	answerReply string
}

func (f *fakeAIProvider) Name() string { return "fake" }

func (f *fakeAIProvider) GenerateResponse(_ context.Context, prompt string, _ []ai.Turn, _ int) (string, error) {
	switch {
	case strings.Contains(prompt, "routing assistant"):
		return f.intentReply, nil
	case strings.Contains(prompt, "Only SELECT is permitted"):
		return f.sqlReply, nil
	default:
		return f.answerReply, nil
	}
}

func (f *fakeAIProvider) GenerateEmbedding(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f *fakeAIProvider) GenerateEmbeddingsBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func noRetryChain(provider ai.Provider) *ai.FallbackChain {
	retry := config.RetryConfig{MaxRetryAttempts: 0, RetryPolicy: "None"}
	limiter := ratelimit.NewLimiter(&ratelimit.Config{Enabled: false})
	return ai.NewFallbackChain([]ai.Provider{provider}, retry, limiter)
}

func seedSchemaRegistry(t *testing.T) (*schema.Registry, *dbconn.Pool) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO customers (id, name) VALUES (1,'Ada'),(2,'Grace')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	db.Close()

	ctx := context.Background()
	pool := dbconn.NewPool(ctx, []config.DatabaseConnectionConfig{
		{Name: "shop", Dialect: config.DialectSQLite, ConnectionString: path, Enabled: true},
	})
	t.Cleanup(func() { pool.Close() })

	registry := schema.NewRegistry(pool)
	if err := registry.Initialize(ctx); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	return registry, pool
}

func buildRouter(t *testing.T, fake *fakeAIProvider, registry *schema.Registry, pool *dbconn.Pool, repo vectorstore.Repository) *Router {
	t.Helper()
	chain := noRetryChain(fake)

	analyzer := intent.NewAnalyzer(NewChatAdapter(chain), registry)
	searcher := docsearch.NewSearcher(repo, chain, docsearch.DefaultConfig())
	generator := sqlgen.NewGenerator(NewChatAdapter(chain), registry, config.RetryConfig{MaxRetryAttempts: 0, RetryPolicy: "None"})
	executor := dbexec.NewExecutor(pool, 5*time.Second, 100)
	merger := merge.NewMerger(registry, pool, nil)

	storePath := filepath.Join(t.TempDir(), "conversation.db")
	store, err := conversation.Open(storePath)
	if err != nil {
		t.Fatalf("open conversation store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return New(chain, analyzer, searcher, generator, executor, merger, store, 0.3)
}

func TestAsk_DatabaseOnlyHappyPath(t *testing.T) {
	registry, pool := seedSchemaRegistry(t)
	repo := vectorstore.NewMemoryRepository()

	fake := &fakeAIProvider{
		intentReply: `{"targets":[{"database":"shop","tables":["customers"],"purpose":"list customers"}],"confidence":0.9,"strategy":"database_only"}`,
		sqlReply:    "```sql\nSELECT name FROM customers\n```",
		answerReply: "Ada and Grace are customers.",
	}
	r := buildRouter(t, fake, registry, pool, repo)

	answer, err := r.Ask(context.Background(), "session-1", "list all customers", 10, Options{})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(answer.AnswerText, "Ada") {
		t.Errorf("expected synthesized answer to mention data, got %q", answer.AnswerText)
	}

	turns, err := r.store.GetRecent("session-1", 10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(turns) != 2 || turns[0].Role != "user" || turns[1].Role != "assistant" {
		t.Errorf("expected user+assistant turns recorded, got %+v", turns)
	}
}

func TestAsk_ExplicitNegationFastFails(t *testing.T) {
	registry, pool := seedSchemaRegistry(t)
	repo := vectorstore.NewMemoryRepository()

	fake := &fakeAIProvider{intentReply: "[NO_ANSWER_FOUND]"}
	r := buildRouter(t, fake, registry, pool, repo)

	answer, err := r.Ask(context.Background(), "session-2", "something unanswerable", 10, Options{})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer.AnswerText != "I could not find the answer to your question" {
		t.Errorf("expected canonical not-found message, got %q", answer.AnswerText)
	}
}

func TestAsk_DocumentOnlyUsesChunksWhenNoTargets(t *testing.T) {
	registry, pool := seedSchemaRegistry(t)
	repo := vectorstore.NewMemoryRepository()
	if err := repo.Upsert(context.Background(), document.Chunk{
		ID: "c1", DocumentID: "doc-1", Text: "Paris is the capital of France.",
		ContentType: document.ContentTypeDocument, Embedding: []float32{1, 0, 0},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	fake := &fakeAIProvider{
		intentReply: `{"targets":[],"confidence":0.9,"strategy":"document_only"}`,
		answerReply: "Paris is the capital of France.",
	}
	r := buildRouter(t, fake, registry, pool, repo)

	answer, err := r.Ask(context.Background(), "session-3", "capital of France?", 10, Options{})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(answer.AnswerText, "Paris") {
		t.Errorf("expected document-sourced answer, got %q", answer.AnswerText)
	}
}

func TestAsk_ContentTypeFlagFiltersAndStripsQuery(t *testing.T) {
	registry, pool := seedSchemaRegistry(t)
	repo := vectorstore.NewMemoryRepository()
	if err := repo.UpsertBatch(context.Background(), []document.Chunk{
		{ID: "doc1", DocumentID: "d1", Text: "Paris is the capital of France.",
			ContentType: document.ContentTypeDocument, Embedding: []float32{1, 0, 0}},
		{ID: "img1", DocumentID: "d2", Text: "Paris is the capital of France.",
			ContentType: document.ContentTypeImage, Embedding: []float32{1, 0, 0}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	fake := &fakeAIProvider{
		intentReply: `{"targets":[],"confidence":0.9,"strategy":"document_only"}`,
		answerReply: "Paris is the capital of France.",
	}
	r := buildRouter(t, fake, registry, pool, repo)

	answer, err := r.Ask(context.Background(), "session-flag", "-i capital of France?", 10, Options{})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(answer.AnswerText, "Paris") {
		t.Errorf("expected image-chunk-sourced answer, got %q", answer.AnswerText)
	}
	if len(answer.Sources) != 1 || answer.Sources[0].SourceType != string(document.ContentTypeImage) {
		t.Errorf("expected the image chunk as the only source, got %+v", answer.Sources)
	}

	turns, err := r.store.GetRecent("session-flag", 10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(turns) == 0 || turns[0].Text != "-i capital of France?" {
		t.Errorf("expected original query recorded verbatim in history, got %+v", turns)
	}
}

func TestAsk_MalformedIntentFallsBackToDocumentOnly(t *testing.T) {
	registry, pool := seedSchemaRegistry(t)
	repo := vectorstore.NewMemoryRepository()

	fake := &fakeAIProvider{intentReply: "not json at all"}
	r := buildRouter(t, fake, registry, pool, repo)

	answer, err := r.Ask(context.Background(), "session-4", "anything", 10, Options{})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer.AnswerText != "I could not find the answer to your question" {
		t.Errorf("expected not-found fallback with no chunks indexed, got %q", answer.AnswerText)
	}
}
