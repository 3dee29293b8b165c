package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/smartrag/smartrag/pkg/config"
)

// OllamaProvider talks to a local Ollama instance. Grounded on the
// teacher's internal/ai/ollama.go OllamaClient: same base URL default,
// same /api/embeddings and /api/chat request shapes, generalized to the
// Provider contract (float32 embeddings, history-aware chat, explicit
// max-token budget).
type OllamaProvider struct {
	baseURL        string
	embeddingModel string
	chatModel      string
	httpClient     *http.Client
}

// NewOllamaProvider builds a provider from OllamaConfig.
func NewOllamaProvider(cfg config.OllamaConfig) *OllamaProvider {
	p := &OllamaProvider{
		baseURL:        cfg.BaseURL,
		embeddingModel: cfg.EmbeddingModel,
		chatModel:      cfg.ChatModel,
		httpClient:     &http.Client{Timeout: defaultHTTPTimeout},
	}
	if p.baseURL == "" {
		p.baseURL = "http://localhost:11434"
	}
	if p.embeddingModel == "" {
		p.embeddingModel = "nomic-embed-text"
	}
	if p.chatModel == "" {
		p.chatModel = "qwen2.5:3b"
	}
	return p
}

func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (p *OllamaProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbeddingRequest{Model: p.embeddingModel, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	resp, err := p.post(ctx, "/api/embeddings", body)
	if err != nil {
		return nil, &Error{Provider: p.Name(), Transient: true, Err: err}
	}
	defer resp.Close()

	var parsed ollamaEmbeddingResponse
	if err := json.NewDecoder(resp).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	out := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// GenerateEmbeddingsBatch has no native Ollama batch endpoint; requests
// are parallelized with a bounded errgroup instead, matching the
// contract's "parallelizable; batch size is provider-dependent" note.
func (p *OllamaProvider) GenerateEmbeddingsBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := p.GenerateEmbedding(gctx, text)
			if err != nil {
				return err
			}
			out[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

func (p *OllamaProvider) GenerateResponse(ctx context.Context, prompt string, history []Turn, maxTokens int) (string, error) {
	messages := make([]ollamaChatMessage, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, ollamaChatMessage{Role: t.Role, Content: t.Text})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: prompt})

	req := ollamaChatRequest{Model: p.chatModel, Messages: messages, Stream: false}
	if maxTokens > 0 {
		req.Options = map[string]any{"num_predict": maxTokens}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := p.post(ctx, "/api/chat", body)
	if err != nil {
		return "", &Error{Provider: p.Name(), Transient: true, Err: err}
	}
	defer resp.Close()

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	return parsed.Message.Content, nil
}

func (p *OllamaProvider) post(ctx context.Context, path string, body []byte) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}
	return resp.Body, nil
}
