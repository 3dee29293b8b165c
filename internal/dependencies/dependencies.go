// Package dependencies checks the optional external services SmartRAG
// talks to (Ollama, OpenAI, Qdrant) and reports what's missing, so the
// demo host's doctor command can tell an operator why a query
// returned a degraded answer instead of a good one. Generalized from a
// fixed Ollama+Qdrant pair to whichever AI provider and vector store
// backend are actually configured.
package dependencies

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smartrag/smartrag/pkg/config"
)

// Status is the health of one external dependency.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
	StatusDisabled    Status = "disabled"
	StatusMissing     Status = "missing"
)

// Info describes the result of checking one dependency.
type Info struct {
	Name         string
	Status       Status
	URL          string
	Message      string
	Models       []string
	MissingItems []string
}

// CheckResult bundles every dependency this configuration could need.
type CheckResult struct {
	AIProvider  Info
	VectorStore Info
}

// Check probes every service cfg configures, with a short timeout per
// probe so a doctor run never hangs on an unreachable host.
func Check(ctx context.Context, cfg *config.Config) *CheckResult {
	return &CheckResult{
		AIProvider:  checkAIProvider(ctx, cfg),
		VectorStore: checkVectorStore(ctx, cfg),
	}
}

func checkAIProvider(ctx context.Context, cfg *config.Config) Info {
	switch cfg.AI.Provider {
	case config.ProviderOllama:
		return checkOllama(ctx, cfg.AI.Ollama)
	case config.ProviderOpenAI:
		return checkOpenAI(cfg.AI.OpenAI)
	default:
		return Info{Name: cfg.AI.Provider, Status: StatusDisabled, Message: "unrecognized AI provider"}
	}
}

func checkOllama(ctx context.Context, cfg config.OllamaConfig) Info {
	info := Info{Name: "Ollama", URL: cfg.BaseURL}
	if !cfg.Enabled {
		info.Status = StatusDisabled
		info.Message = "Ollama is disabled in configuration"
		return info
	}

	client := &http.Client{Timeout: 5 * time.Second}
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		info.Status = StatusUnavailable
		info.Message = "failed to build request"
		return info
	}

	resp, err := client.Do(req)
	if err != nil {
		info.Status = StatusMissing
		info.Message = "Ollama is not running or not reachable"
		return info
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		info.Status = StatusUnavailable
		info.Message = fmt.Sprintf("Ollama returned status %d", resp.StatusCode)
		return info
	}

	var body struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		info.Status = StatusAvailable
		info.Message = "Ollama is running but the model list could not be read"
		return info
	}

	known := make(map[string]bool, len(body.Models))
	for _, m := range body.Models {
		info.Models = append(info.Models, m.Name)
		known[m.Name] = true
		known[strings.Split(m.Name, ":")[0]] = true
	}

	for _, model := range []string{cfg.ChatModel, cfg.EmbeddingModel} {
		base := strings.Split(model, ":")[0]
		if !known[model] && !known[base] {
			info.MissingItems = append(info.MissingItems, model)
		}
	}

	info.Status = StatusAvailable
	if len(info.MissingItems) > 0 {
		info.Message = fmt.Sprintf("missing required models: %s", strings.Join(info.MissingItems, ", "))
	} else {
		info.Message = "running with all required models present"
	}
	return info
}

func checkOpenAI(cfg config.OpenAIConfig) Info {
	info := Info{Name: "OpenAI", URL: cfg.BaseURL}
	if !cfg.Enabled {
		info.Status = StatusDisabled
		info.Message = "OpenAI is disabled in configuration"
		return info
	}
	if cfg.APIKey == "" {
		info.Status = StatusMissing
		info.Message = "ai.openai.api_key is not set"
		return info
	}
	info.Status = StatusAvailable
	info.Message = fmt.Sprintf("configured with chat model %s", cfg.ChatModel)
	return info
}

func checkVectorStore(ctx context.Context, cfg *config.Config) Info {
	info := Info{Name: "Qdrant", URL: cfg.VectorStore.QdrantURL}
	if cfg.VectorStore.Backend != "qdrant" {
		info.Name = "in-memory vector store"
		info.Status = StatusAvailable
		info.Message = "using the in-process repository, nothing external to check"
		return info
	}

	client := &http.Client{Timeout: 5 * time.Second}
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.VectorStore.QdrantURL+"/collections", nil)
	if err != nil {
		info.Status = StatusUnavailable
		info.Message = "failed to build request"
		return info
	}

	resp, err := client.Do(req)
	if err != nil {
		info.Status = StatusMissing
		info.Message = "Qdrant is not running or not reachable"
		return info
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		info.Status = StatusUnavailable
		info.Message = fmt.Sprintf("Qdrant returned status %d", resp.StatusCode)
		return info
	}

	info.Status = StatusAvailable
	info.Message = "running"
	return info
}

// Degraded reports whether any checked dependency is not fully
// available, meaning queries may fall back or return worse answers.
func (r *CheckResult) Degraded() bool {
	return r.AIProvider.Status != StatusAvailable || r.VectorStore.Status != StatusAvailable
}

// FormatReport renders a human-readable doctor report for the CLI.
func FormatReport(r *CheckResult) string {
	var b bytes.Buffer
	writeSection(&b, r.AIProvider)
	b.WriteString("\n")
	writeSection(&b, r.VectorStore)
	return b.String()
}

func writeSection(b *bytes.Buffer, info Info) {
	fmt.Fprintf(b, "%s... %s\n", info.Name, strings.ToUpper(string(info.Status)))
	if info.URL != "" {
		fmt.Fprintf(b, "  URL: %s\n", info.URL)
	}
	fmt.Fprintf(b, "  %s\n", info.Message)
	if len(info.Models) > 0 {
		fmt.Fprintf(b, "  Available models: %s\n", strings.Join(info.Models, ", "))
	}
}
