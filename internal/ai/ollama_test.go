package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smartrag/smartrag/pkg/config"
)

func newTestOllama(t *testing.T, handler http.HandlerFunc) (*OllamaProvider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	p := NewOllamaProvider(config.OllamaConfig{BaseURL: srv.URL, EmbeddingModel: "m-embed", ChatModel: "m-chat"})
	return p, srv
}

func TestOllamaProvider_GenerateEmbedding(t *testing.T) {
	p, srv := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embedding: []float64{0.1, 0.2, 0.3}})
	})
	defer srv.Close()

	vec, err := p.GenerateEmbedding(context.Background(), "hello")
	if err != nil {
		t.Fatalf("GenerateEmbedding: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(vec))
	}
}

func TestOllamaProvider_GenerateEmbeddingsBatch(t *testing.T) {
	p, srv := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embedding: []float64{1, 2}})
	})
	defer srv.Close()

	vecs, err := p.GenerateEmbeddingsBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("GenerateEmbeddingsBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 results, got %d", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 2 {
			t.Errorf("result %d: expected 2 dims, got %d", i, len(v))
		}
	}
}

func TestOllamaProvider_GenerateResponse(t *testing.T) {
	var captured ollamaChatRequest
	p, srv := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaChatMessage{Role: "assistant", Content: "Paris."},
			Done:    true,
		})
	})
	defer srv.Close()

	history := []Turn{{Role: "user", Text: "hi"}, {Role: "assistant", Text: "hello"}}
	text, err := p.GenerateResponse(context.Background(), "what is the capital of France?", history, 256)
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	if text != "Paris." {
		t.Errorf("expected 'Paris.', got %q", text)
	}
	if len(captured.Messages) != 3 {
		t.Errorf("expected 3 messages (2 history + prompt), got %d", len(captured.Messages))
	}
}

func TestOllamaProvider_ErrorResponseIsTransient(t *testing.T) {
	p, srv := newTestOllama(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("model loading"))
	})
	defer srv.Close()

	_, err := p.GenerateEmbedding(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}
	var aiErr *Error
	if !asError(err, &aiErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if !aiErr.Transient {
		t.Error("expected transient error")
	}
}

func TestOllamaProvider_Defaults(t *testing.T) {
	p := NewOllamaProvider(config.OllamaConfig{})
	if p.baseURL == "" || p.embeddingModel == "" || p.chatModel == "" {
		t.Error("expected non-empty defaults")
	}
}
