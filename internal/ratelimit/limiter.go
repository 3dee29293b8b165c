package ratelimit

import (
	"sync"
	"time"
)

// LimitResult contains the result of a rate limit check
type LimitResult struct {
	Allowed    bool          // Whether the request is allowed
	RetryAfter time.Duration // Suggested wait time if not allowed
	LimitType  string        // "global" or provider name
	Remaining  float64       // Remaining tokens in the relevant bucket
}

// Limiter manages rate limiting with a global bucket and one bucket
// per AI provider
type Limiter struct {
	mu              sync.RWMutex
	enabled         bool
	globalBucket    *Bucket
	providerBuckets map[string]*Bucket
	config          *Config
	metrics         *Metrics
}

// NewLimiter creates a new rate limiter from configuration
func NewLimiter(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Limiter{
		enabled:         cfg.Enabled,
		providerBuckets: make(map[string]*Bucket),
		config:          cfg,
		metrics:         NewMetrics(),
	}

	// Create global bucket
	l.globalBucket = NewBucket(
		float64(cfg.Global.BurstSize),
		cfg.Global.RequestsPerSecond,
	)

	// Create per-provider buckets
	for _, providerLimit := range cfg.Providers {
		l.providerBuckets[providerLimit.Name] = NewBucket(
			float64(providerLimit.BurstSize),
			providerLimit.RequestsPerSecond,
		)
	}

	return l
}

// Allow checks if a request to the given provider is allowed
// Returns a LimitResult with the decision and metadata
func (l *Limiter) Allow(provider string) *LimitResult {
	if !l.enabled {
		return &LimitResult{
			Allowed:   true,
			LimitType: "disabled",
			Remaining: -1,
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	// Check global limit first
	if !l.globalBucket.TryConsume(1) {
		retryAfter := l.globalBucket.TimeToWait(1)
		l.metrics.RecordRejection("global", provider)
		return &LimitResult{
			Allowed:    false,
			RetryAfter: retryAfter,
			LimitType:  "global",
			Remaining:  l.globalBucket.Tokens(),
		}
	}

	// Check provider-specific limit if configured
	if providerBucket, exists := l.providerBuckets[provider]; exists {
		if !providerBucket.TryConsume(1) {
			// Refund the global token since we're rejecting
			g := l.globalBucket
			g.mu.Lock()
			g.tokens++
			if g.tokens > g.capacity {
				g.tokens = g.capacity
			}
			g.mu.Unlock()
			retryAfter := providerBucket.TimeToWait(1)
			l.metrics.RecordRejection(provider, provider)
			return &LimitResult{
				Allowed:    false,
				RetryAfter: retryAfter,
				LimitType:  provider,
				Remaining:  providerBucket.Tokens(),
			}
		}
		l.metrics.RecordAllowed(provider)
		return &LimitResult{
			Allowed:   true,
			LimitType: provider,
			Remaining: providerBucket.Tokens(),
		}
	}

	// No provider-specific limit, global check passed
	l.metrics.RecordAllowed(provider)
	return &LimitResult{
		Allowed:   true,
		LimitType: "global",
		Remaining: l.globalBucket.Tokens(),
	}
}

// IsEnabled returns whether rate limiting is enabled
func (l *Limiter) IsEnabled() bool {
	return l.enabled
}

// SetEnabled enables or disables rate limiting
func (l *Limiter) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// GetMetrics returns the current metrics
func (l *Limiter) GetMetrics() *Metrics {
	return l.metrics
}

// GetProviderBucket returns the bucket for a specific provider (for testing)
func (l *Limiter) GetProviderBucket(provider string) *Bucket {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.providerBuckets[provider]
}

// GetGlobalBucket returns the global bucket (for testing)
func (l *Limiter) GetGlobalBucket() *Bucket {
	return l.globalBucket
}

// Reset resets all buckets to full capacity
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.globalBucket.Reset()
	for _, bucket := range l.providerBuckets {
		bucket.Reset()
	}
}

// Stats returns current limiter statistics
type Stats struct {
	Enabled        bool               `json:"enabled"`
	GlobalTokens   float64            `json:"global_tokens"`
	ProviderTokens map[string]float64 `json:"provider_tokens"`
}

// GetStats returns current limiter statistics
func (l *Limiter) GetStats() *Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := &Stats{
		Enabled:        l.enabled,
		GlobalTokens:   l.globalBucket.Tokens(),
		ProviderTokens: make(map[string]float64),
	}

	for name, bucket := range l.providerBuckets {
		stats.ProviderTokens[name] = bucket.Tokens()
	}

	return stats
}
