// Package ai implements the AI Provider contract and its two concrete
// backends plus a fallback chain with retry and rate-limit throttling.
package ai

import (
	"context"
	"time"
)

// Turn is one exchange in a conversation history, passed to
// GenerateResponse so a provider can ground replies in prior context.
type Turn struct {
	Role string // "user", "assistant", "system"
	Text string
}

// Provider is the AI Provider contract: chat completion and embeddings,
// pluggable across backends.
type Provider interface {
	Name() string
	GenerateResponse(ctx context.Context, prompt string, history []Turn, maxTokens int) (string, error)
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	GenerateEmbeddingsBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Error distinguishes transient provider failures (worth retrying or
// falling back) from permanent ones.
type Error struct {
	Provider  string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// defaultHTTPTimeout bounds how long a single provider call may block.
const defaultHTTPTimeout = 60 * time.Second
