package ai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/smartrag/smartrag/pkg/config"
)

// OpenAIProvider talks to the OpenAI chat/embeddings API.
type OpenAIProvider struct {
	client         openai.Client
	embeddingModel string
	chatModel      string
}

// NewOpenAIProvider builds a provider from OpenAIConfig.
func NewOpenAIProvider(cfg config.OpenAIConfig) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}

	return &OpenAIProvider{
		client:         openai.NewClient(opts...),
		embeddingModel: embeddingModel,
		chatModel:      chatModel,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) GenerateResponse(ctx context.Context, prompt string, history []Turn, maxTokens int) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	for _, t := range history {
		switch t.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(t.Text))
		case "system":
			messages = append(messages, openai.SystemMessage(t.Text))
		default:
			messages = append(messages, openai.UserMessage(t.Text))
		}
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    p.chatModel,
		Messages: messages,
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &Error{Provider: p.Name(), Transient: isTransient(err), Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Provider: p.Name(), Transient: false, Err: fmt.Errorf("no choices returned")}
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.GenerateEmbeddingsBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *OpenAIProvider) GenerateEmbeddingsBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: p.embeddingModel,
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, &Error{Provider: p.Name(), Transient: isTransient(err), Err: err}
	}

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		out[int(d.Index)] = vec
	}
	return out, nil
}

// isTransient treats every client error as worth retrying or falling
// back from; errors are not classified by HTTP status here, so
// client-side failures such as a bad API key are retried as well.
func isTransient(err error) bool {
	return err != nil
}
