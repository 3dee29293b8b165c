package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/smartrag/smartrag/internal/logging"
	"github.com/smartrag/smartrag/internal/ratelimit"
	"github.com/smartrag/smartrag/pkg/config"
)

var log = logging.GetLogger("ai")

// FallbackChain tries an ordered list of providers, retrying each with
// the configured backoff before moving to the next, and throttles every
// call through a shared rate limiter keyed by provider name.
type FallbackChain struct {
	providers []Provider
	retry     config.RetryConfig
	limiter   *ratelimit.Limiter
}

// NewFallbackChain builds a chain. providers is tried in order; an empty
// slice makes every call fail immediately with ErrNoProviders.
func NewFallbackChain(providers []Provider, retry config.RetryConfig, limiter *ratelimit.Limiter) *FallbackChain {
	return &FallbackChain{providers: providers, retry: retry, limiter: limiter}
}

// BuildChain wires the primary provider named by cfg.Provider followed,
// when cfg.EnableFallbackProviders is set, by cfg.FallbackProviders in
// order, skipping any provider that isn't enabled in its own config.
func BuildChain(cfg config.AIConfig, retry config.RetryConfig, limiter *ratelimit.Limiter) *FallbackChain {
	order := []string{cfg.Provider}
	if cfg.EnableFallbackProviders {
		order = append(order, cfg.FallbackProviders...)
	}

	seen := make(map[string]bool, len(order))
	var providers []Provider
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case config.ProviderOllama:
			if cfg.Ollama.Enabled {
				providers = append(providers, NewOllamaProvider(cfg.Ollama))
			}
		case config.ProviderOpenAI:
			if cfg.OpenAI.Enabled {
				providers = append(providers, NewOpenAIProvider(cfg.OpenAI))
			}
		}
	}

	return NewFallbackChain(providers, retry, limiter)
}

// ErrNoProviders is returned when a chain has no providers configured.
var ErrNoProviders = fmt.Errorf("no AI providers configured")

// Name identifies the chain as a Provider in its own right so callers
// can depend on the Provider interface without caring whether fallback
// is in play.
func (c *FallbackChain) Name() string {
	if len(c.providers) == 0 {
		return "none"
	}
	return c.providers[0].Name()
}

func (c *FallbackChain) GenerateResponse(ctx context.Context, prompt string, history []Turn, maxTokens int) (string, error) {
	var lastErr error
	for _, p := range c.providers {
		text, err := callWithRetry(c, ctx, p, func() (string, error) {
			return p.GenerateResponse(ctx, prompt, history, maxTokens)
		})
		if err == nil {
			return text, nil
		}
		lastErr = err
		log.Warn("provider exhausted retries, falling back", "provider", p.Name(), "error", err)
	}
	return "", fallbackErr(lastErr)
}

func (c *FallbackChain) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for _, p := range c.providers {
		vec, err := callWithRetry(c, ctx, p, func() ([]float32, error) {
			return p.GenerateEmbedding(ctx, text)
		})
		if err == nil {
			return vec, nil
		}
		lastErr = err
		log.Warn("provider exhausted retries, falling back", "provider", p.Name(), "error", err)
	}
	return nil, fallbackErr(lastErr)
}

func (c *FallbackChain) GenerateEmbeddingsBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for _, p := range c.providers {
		vecs, err := callWithRetry(c, ctx, p, func() ([][]float32, error) {
			return p.GenerateEmbeddingsBatch(ctx, texts)
		})
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		log.Warn("provider exhausted retries, falling back", "provider", p.Name(), "error", err)
	}
	return nil, fallbackErr(lastErr)
}

func fallbackErr(lastErr error) error {
	if lastErr == nil {
		return ErrNoProviders
	}
	return lastErr
}

// callWithRetry runs fn up to MaxRetryAttempts+1 times, honoring the
// limiter and the configured backoff between attempts. It stops early
// on a permanent (non-transient) *Error.
func callWithRetry[T any](c *FallbackChain, ctx context.Context, p Provider, fn func() (T, error)) (T, error) {
	var zero T
	attempts := c.retry.MaxRetryAttempts + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		if c.limiter != nil {
			result := c.limiter.Allow(p.Name())
			if !result.Allowed {
				if err := sleepCtx(ctx, result.RetryAfter); err != nil {
					return zero, err
				}
			}
		}

		out, err := fn()
		if err == nil {
			return out, nil
		}

		var aiErr *Error
		if asError(err, &aiErr) && !aiErr.Transient {
			return zero, err
		}
		if attempt == attempts {
			return zero, err
		}

		if err := sleepCtx(ctx, c.retry.RetryBackoff(attempt)); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("unreachable")
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
