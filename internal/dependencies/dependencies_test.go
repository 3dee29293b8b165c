package dependencies

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/smartrag/smartrag/pkg/config"
)

func TestCheckOllama_MissingModelReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]string{{"name": "llama3:latest"}},
		})
	}))
	defer srv.Close()

	cfg := config.OllamaConfig{Enabled: true, BaseURL: srv.URL, ChatModel: "llama3", EmbeddingModel: "nomic-embed-text"}
	info := checkOllama(context.Background(), cfg)

	if info.Status != StatusAvailable {
		t.Fatalf("expected available, got %s", info.Status)
	}
	if len(info.MissingItems) != 1 || info.MissingItems[0] != "nomic-embed-text" {
		t.Fatalf("expected nomic-embed-text missing, got %v", info.MissingItems)
	}
}

func TestCheckOllama_Disabled(t *testing.T) {
	info := checkOllama(context.Background(), config.OllamaConfig{Enabled: false})
	if info.Status != StatusDisabled {
		t.Fatalf("expected disabled, got %s", info.Status)
	}
}

func TestCheckOllama_Unreachable(t *testing.T) {
	info := checkOllama(context.Background(), config.OllamaConfig{Enabled: true, BaseURL: "http://127.0.0.1:1"})
	if info.Status != StatusMissing {
		t.Fatalf("expected missing, got %s", info.Status)
	}
}

func TestCheckOpenAI_MissingAPIKey(t *testing.T) {
	info := checkOpenAI(config.OpenAIConfig{Enabled: true, ChatModel: "gpt-4o-mini"})
	if info.Status != StatusMissing {
		t.Fatalf("expected missing, got %s", info.Status)
	}
}

func TestCheckVectorStore_MemoryBackendAlwaysAvailable(t *testing.T) {
	cfg := &config.Config{VectorStore: config.VectorStoreConfig{Backend: "memory"}}
	info := checkVectorStore(context.Background(), cfg)
	if info.Status != StatusAvailable {
		t.Fatalf("expected available, got %s", info.Status)
	}
}

func TestCheckVectorStore_QdrantReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &config.Config{VectorStore: config.VectorStoreConfig{Backend: "qdrant", QdrantURL: srv.URL}}
	info := checkVectorStore(context.Background(), cfg)
	if info.Status != StatusAvailable {
		t.Fatalf("expected available, got %s", info.Status)
	}
}

func TestFormatReport_IncludesBothSections(t *testing.T) {
	result := &CheckResult{
		AIProvider:  Info{Name: "Ollama", Status: StatusAvailable, Message: "running"},
		VectorStore: Info{Name: "Qdrant", Status: StatusMissing, Message: "not running"},
	}
	report := FormatReport(result)
	if !strings.Contains(report, "Ollama") || !strings.Contains(report, "Qdrant") {
		t.Fatalf("expected both sections in report, got %q", report)
	}
}

func TestDegraded(t *testing.T) {
	ok := &CheckResult{AIProvider: Info{Status: StatusAvailable}, VectorStore: Info{Status: StatusAvailable}}
	if ok.Degraded() {
		t.Fatal("expected not degraded")
	}
	bad := &CheckResult{AIProvider: Info{Status: StatusMissing}, VectorStore: Info{Status: StatusAvailable}}
	if !bad.Degraded() {
		t.Fatal("expected degraded")
	}
}
