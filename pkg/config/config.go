// Package config loads and validates SmartRAG's runtime configuration.
//
// Configuration is viper-backed: it searches the working directory, the
// user's home directory, and /etc for a config.yaml, falls back to
// built-in defaults when none is found, and fails startup (ConfigurationError)
// if the merged result is inconsistent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// DialectSQLite, DialectSqlServer, DialectMySQL, DialectPostgreSQL name the
// four supported relational dialects.
const (
	DialectSQLite     = "sqlite"
	DialectSqlServer  = "sqlserver"
	DialectMySQL      = "mysql"
	DialectPostgreSQL = "postgresql"
)

// RetryPolicy values recognized by RetryConfig.RetryPolicy.
const (
	RetryPolicyNone        = "none"
	RetryPolicyExponential = "exponential"
	RetryPolicyLinear      = "linear"
	RetryPolicyFixed       = "fixed"
)

// AI provider identifiers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config is the complete SmartRAG configuration surface.
type Config struct {
	Databases                []DatabaseConnectionConfig `mapstructure:"databases"`
	Chunking                 ChunkingConfig              `mapstructure:"chunking"`
	Scoring                  ScoringConfig               `mapstructure:"scoring"`
	Retry                    RetryConfig                 `mapstructure:"retry"`
	AI                       AIConfig                    `mapstructure:"ai"`
	VectorStore              VectorStoreConfig           `mapstructure:"vector_store"`
	Features                 FeaturesConfig              `mapstructure:"features"`
	Logging                  LoggingConfig               `mapstructure:"logging"`
	DefaultLanguage          string                      `mapstructure:"default_language"`
	EnableAutoSchemaAnalysis bool                        `mapstructure:"enable_auto_schema_analysis"`
	ConversationStorePath    string                      `mapstructure:"conversation_store_path"`
}

// DatabaseConnectionConfig describes one relational database the router
// may query. When Name is absent, dbconn.DeriveName builds one from
// Dialect and the length of ConnectionString.
type DatabaseConnectionConfig struct {
	Name                  string                  `mapstructure:"name"`
	ConnectionString      string                  `mapstructure:"connection_string"`
	Dialect               string                  `mapstructure:"dialect"`
	Enabled               bool                    `mapstructure:"enabled"`
	IncludedTables        []string                `mapstructure:"included_tables"`
	ExcludedTables        []string                `mapstructure:"excluded_tables"`
	MaxRowsPerQuery        int                     `mapstructure:"max_rows_per_query"`
	CrossDatabaseMappings []CrossDatabaseMapping  `mapstructure:"cross_database_mappings"`
	Description           string                  `mapstructure:"description"`
}

// CrossDatabaseMapping is an operator-declared join path between two
// independent databases, used when FK discovery across them is impossible.
type CrossDatabaseMapping struct {
	SourceDatabase string `mapstructure:"source_database"`
	SourceTable    string `mapstructure:"source_table"`
	SourceColumn   string `mapstructure:"source_column"`
	TargetDatabase string `mapstructure:"target_database"`
	TargetTable    string `mapstructure:"target_table"`
	TargetColumn   string `mapstructure:"target_column"`
}

// ChunkingConfig bounds the document ingestion chunker.
type ChunkingConfig struct {
	MaxChunkSize int `mapstructure:"max_chunk_size"`
	MinChunkSize int `mapstructure:"min_chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// ScoringConfig governs hybrid document scoring and adaptive thresholds.
type ScoringConfig struct {
	SemanticWeight               float64 `mapstructure:"semantic_weight"`
	KeywordWeight                float64 `mapstructure:"keyword_weight"`
	SemanticSearchThreshold      float64 `mapstructure:"semantic_search_threshold"`
	StrongDocumentMatchThreshold float64 `mapstructure:"strong_document_match_threshold"`
	MinResults                   int     `mapstructure:"min_results"`
	MaxResults                   int     `mapstructure:"max_results"`
}

// RetryConfig governs AI-call and SQL-generation retry behavior.
type RetryConfig struct {
	MaxRetryAttempts int    `mapstructure:"max_retry_attempts"`
	RetryDelayMs     int    `mapstructure:"retry_delay_ms"`
	RetryPolicy      string `mapstructure:"retry_policy"`
}

// AIConfig selects and configures the chat/embedding provider chain.
type AIConfig struct {
	Provider                string         `mapstructure:"provider"`
	EnableFallbackProviders bool           `mapstructure:"enable_fallback_providers"`
	FallbackProviders       []string       `mapstructure:"fallback_providers"`
	MaxTokens               int            `mapstructure:"max_tokens"`
	Ollama                  OllamaConfig   `mapstructure:"ollama"`
	OpenAI                  OpenAIConfig   `mapstructure:"openai"`
}

// OllamaConfig configures the local Ollama backend.
type OllamaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BaseURL        string `mapstructure:"base_url"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	ChatModel      string `mapstructure:"chat_model"`
}

// OpenAIConfig configures the OpenAI-compatible backend.
type OpenAIConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	ChatModel      string `mapstructure:"chat_model"`
}

// VectorStoreConfig selects and configures the chunk vector backend.
type VectorStoreConfig struct {
	Backend    string `mapstructure:"backend"` // "memory" or "qdrant"
	QdrantURL  string `mapstructure:"qdrant_url"`
	Collection string `mapstructure:"collection"`
	Dimensions int    `mapstructure:"dimensions"`
}

// FeaturesConfig gates per-source-type retrieval; the host that owns a
// content type is responsible for populating it, SmartRAG only filters on it.
type FeaturesConfig struct {
	EnableMcpSearch   bool `mapstructure:"enable_mcp_search"`
	EnableAudioSearch bool `mapstructure:"enable_audio_search"`
	EnableImageSearch bool `mapstructure:"enable_image_search"`
	EnableFileWatcher bool `mapstructure:"enable_file_watcher"`
}

// LoggingConfig mirrors internal/logging.Config.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// DefaultConfig returns configuration with SmartRAG's built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Chunking: ChunkingConfig{
			MaxChunkSize: 1000,
			MinChunkSize: 200,
			ChunkOverlap: 100,
		},
		Scoring: ScoringConfig{
			SemanticWeight:               0.8,
			KeywordWeight:                0.2,
			SemanticSearchThreshold:      0.5,
			StrongDocumentMatchThreshold: 4.8,
			MinResults:                   3,
			MaxResults:                   10,
		},
		Retry: RetryConfig{
			MaxRetryAttempts: 2,
			RetryDelayMs:     500,
			RetryPolicy:      RetryPolicyExponential,
		},
		AI: AIConfig{
			Provider:                ProviderOllama,
			EnableFallbackProviders: false,
			MaxTokens:               2048,
			Ollama: OllamaConfig{
				Enabled:        true,
				BaseURL:        "http://localhost:11434",
				EmbeddingModel: "nomic-embed-text",
				ChatModel:      "qwen2.5:3b",
			},
			OpenAI: OpenAIConfig{
				Enabled:        false,
				BaseURL:        "https://api.openai.com/v1",
				EmbeddingModel: "text-embedding-3-small",
				ChatModel:      "gpt-4o-mini",
			},
		},
		VectorStore: VectorStoreConfig{
			Backend:    "memory",
			QdrantURL:  "http://localhost:6333",
			Collection: "smartrag_chunks",
			Dimensions: 768,
		},
		Features: FeaturesConfig{},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		DefaultLanguage:          "en",
		EnableAutoSchemaAnalysis: true,
		ConversationStorePath:    filepath.Join(defaultConfigDir(), "conversations.db"),
	}
}

func defaultConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".smartrag")
}

// Load loads configuration from YAML, searching:
// 1. ./config.yaml
// 2. ~/.smartrag/config.yaml
// 3. /etc/smartrag/config.yaml
// falling back to DefaultConfig() when no file is found.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	homeDir, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(homeDir, ".smartrag"))
	v.AddConfigPath("/etc/smartrag")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("chunking.max_chunk_size", d.Chunking.MaxChunkSize)
	v.SetDefault("chunking.min_chunk_size", d.Chunking.MinChunkSize)
	v.SetDefault("chunking.chunk_overlap", d.Chunking.ChunkOverlap)

	v.SetDefault("scoring.semantic_weight", d.Scoring.SemanticWeight)
	v.SetDefault("scoring.keyword_weight", d.Scoring.KeywordWeight)
	v.SetDefault("scoring.semantic_search_threshold", d.Scoring.SemanticSearchThreshold)
	v.SetDefault("scoring.strong_document_match_threshold", d.Scoring.StrongDocumentMatchThreshold)
	v.SetDefault("scoring.min_results", d.Scoring.MinResults)
	v.SetDefault("scoring.max_results", d.Scoring.MaxResults)

	v.SetDefault("retry.max_retry_attempts", d.Retry.MaxRetryAttempts)
	v.SetDefault("retry.retry_delay_ms", d.Retry.RetryDelayMs)
	v.SetDefault("retry.retry_policy", d.Retry.RetryPolicy)

	v.SetDefault("ai.provider", d.AI.Provider)
	v.SetDefault("ai.max_tokens", d.AI.MaxTokens)
	v.SetDefault("ai.ollama.enabled", d.AI.Ollama.Enabled)
	v.SetDefault("ai.ollama.base_url", d.AI.Ollama.BaseURL)
	v.SetDefault("ai.ollama.embedding_model", d.AI.Ollama.EmbeddingModel)
	v.SetDefault("ai.ollama.chat_model", d.AI.Ollama.ChatModel)
	v.SetDefault("ai.openai.enabled", d.AI.OpenAI.Enabled)
	v.SetDefault("ai.openai.base_url", d.AI.OpenAI.BaseURL)
	v.SetDefault("ai.openai.embedding_model", d.AI.OpenAI.EmbeddingModel)
	v.SetDefault("ai.openai.chat_model", d.AI.OpenAI.ChatModel)

	v.SetDefault("vector_store.backend", d.VectorStore.Backend)
	v.SetDefault("vector_store.qdrant_url", d.VectorStore.QdrantURL)
	v.SetDefault("vector_store.collection", d.VectorStore.Collection)
	v.SetDefault("vector_store.dimensions", d.VectorStore.Dimensions)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("default_language", d.DefaultLanguage)
	v.SetDefault("enable_auto_schema_analysis", d.EnableAutoSchemaAnalysis)
	v.SetDefault("conversation_store_path", d.ConversationStorePath)
}

// Validate checks configuration consistency. A non-nil error is a
// ConfigurationError and is fatal at startup.
func (c *Config) Validate() error {
	if w := c.Scoring.SemanticWeight + c.Scoring.KeywordWeight; w < 0.999 || w > 1.001 {
		return fmt.Errorf("scoring.semantic_weight + scoring.keyword_weight must sum to 1, got %f", w)
	}
	if c.Scoring.MinResults < 0 || c.Scoring.MaxResults < c.Scoring.MinResults {
		return fmt.Errorf("scoring.max_results must be >= scoring.min_results")
	}

	switch c.Retry.RetryPolicy {
	case RetryPolicyNone, RetryPolicyExponential, RetryPolicyLinear, RetryPolicyFixed:
	default:
		return fmt.Errorf("retry.retry_policy must be one of: none, exponential, linear, fixed")
	}
	if c.Retry.MaxRetryAttempts < 0 {
		return fmt.Errorf("retry.max_retry_attempts must be >= 0")
	}

	switch c.AI.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("ai.provider must be one of: ollama, openai")
	}
	if c.AI.Provider == ProviderOllama && c.AI.Ollama.BaseURL == "" {
		return fmt.Errorf("ai.ollama.base_url is required when ai.provider is ollama")
	}
	if c.AI.Provider == ProviderOpenAI && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("ai.openai.api_key is required when ai.provider is openai")
	}

	for _, db := range c.Databases {
		switch db.Dialect {
		case DialectSQLite, DialectSqlServer, DialectMySQL, DialectPostgreSQL:
		default:
			return fmt.Errorf("database %q: dialect must be one of sqlite, sqlserver, mysql, postgresql, got %q", db.Name, db.Dialect)
		}
		if db.Enabled && db.ConnectionString == "" {
			return fmt.Errorf("database %q: connection_string is required when enabled", db.Name)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: console, json")
	}

	switch c.VectorStore.Backend {
	case "memory", "qdrant":
	default:
		return fmt.Errorf("vector_store.backend must be one of: memory, qdrant")
	}

	return nil
}

// RetryBackoff returns the delay before attempt n (1-indexed) according to RetryPolicy.
func (r RetryConfig) RetryBackoff(attempt int) time.Duration {
	base := time.Duration(r.RetryDelayMs) * time.Millisecond
	switch r.RetryPolicy {
	case RetryPolicyNone:
		return 0
	case RetryPolicyFixed:
		return base
	case RetryPolicyLinear:
		return base * time.Duration(attempt)
	case RetryPolicyExponential:
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
		}
		return d
	default:
		return base
	}
}
