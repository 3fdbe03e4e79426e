// Package config loads ragd configuration.
//
// Values come from, in increasing priority: built-in defaults, a YAML file
// and RAGD_-prefixed environment variables (RAGD_SECTION_FIELD maps to
// section.field, e.g. RAGD_GENERATION_API_KEY -> generation.api_key).
// A few conventional variables (GEMINI_API_KEY, OPENAI_API_KEY,
// MONGODB_URI, REDIS_ADDR) fill credentials left unset.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete ragd configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Chunking     ChunkingConfig     `koanf:"chunking"`
	Secrets      SecretsConfig      `koanf:"secrets"`
	Retrieval    RetrievalConfig    `koanf:"retrieval"`
	Embeddings   EmbeddingsConfig   `koanf:"embeddings"`
	Generation   GenerationConfig   `koanf:"generation"`
	Conversation ConversationConfig `koanf:"conversation"`
	Storage      StorageConfig      `koanf:"storage"`
	Queue        QueueConfig        `koanf:"queue"`
	Logging      LoggingConfig      `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	MaxUploadMB     int      `koanf:"max_upload_mb"`
	UploadDir       string   `koanf:"upload_dir"`
}

// ChunkingConfig sizes document chunks, in characters.
type ChunkingConfig struct {
	Size             int `koanf:"size"`
	Overlap          int `koanf:"overlap"`
	MinContentLength int `koanf:"min_content_length"`
}

// SecretsConfig controls credential redaction in ingested documents.
type SecretsConfig struct {
	Enabled     bool     `koanf:"enabled"`
	Replacement string   `koanf:"replacement"`
	AllowList   []string `koanf:"allow_list"`
	// Gitleaks adds the gitleaks default rule set to the built-in rules.
	Gitleaks bool `koanf:"gitleaks"`
}

// RetrievalConfig controls candidate and final result counts.
type RetrievalConfig struct {
	TopK int `koanf:"top_k"`
	TopN int `koanf:"top_n"`
	// Reranker is "score" or "overlap".
	Reranker string `koanf:"reranker"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "none", "gemini" or "openai".
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	Dimension int    `koanf:"dimension"`
	BatchSize int    `koanf:"batch_size"`
}

// GenerationConfig selects the language model and guards calls to it.
type GenerationConfig struct {
	// Provider is "none", "gemini" or "openai".
	Provider    string   `koanf:"provider"`
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	Temperature float64  `koanf:"temperature"`
	MaxTokens   int      `koanf:"max_tokens"`
	Timeout     Duration `koanf:"timeout"`

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit       float64  `koanf:"rate_limit"`
	Burst           int      `koanf:"burst"`
	BreakerFailures int      `koanf:"breaker_failures"`
	BreakerTimeout  Duration `koanf:"breaker_timeout"`
}

// ConversationConfig controls chat history handling.
type ConversationConfig struct {
	// HistoryMessages is how many prior messages go into the prompt.
	HistoryMessages int `koanf:"history_messages"`
	ListLimit       int `koanf:"list_limit"`
}

// StorageConfig selects where conversations, document status and the
// vector index live.
type StorageConfig struct {
	// Backend is "memory" or "mongo".
	Backend  string `koanf:"backend"`
	MongoURI Secret `koanf:"mongo_uri"`
	Database string `koanf:"database"`

	// Index is "memory" or "chromem".
	Index string `koanf:"index"`
	// IndexPath persists the chromem index; empty keeps it in memory.
	IndexPath     string `koanf:"index_path"`
	IndexCompress bool   `koanf:"index_compress"`
}

// QueueConfig configures asynchronous ingestion.
type QueueConfig struct {
	Enabled       bool     `koanf:"enabled"`
	RedisAddr     string   `koanf:"redis_addr"`
	RedisPassword Secret   `koanf:"redis_password"`
	RedisDB       int      `koanf:"redis_db"`
	Concurrency   int      `koanf:"concurrency"`
	Name          string   `koanf:"name"`
	MaxRetry      int      `koanf:"max_retry"`
	TaskTimeout   Duration `koanf:"task_timeout"`
}

// LoggingConfig holds the user-facing subset of logging settings.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	OTEL     bool   `koanf:"otel"`
	Sampling bool   `koanf:"sampling"`
	Stderr   bool   `koanf:"stderr"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: Duration(10 * time.Second),
			MaxUploadMB:     16,
			UploadDir:       "uploads",
		},
		Chunking: ChunkingConfig{Size: 500, Overlap: 50, MinContentLength: 10},
		Secrets:  SecretsConfig{Enabled: true, Replacement: "[REDACTED]"},
		Retrieval: RetrievalConfig{
			TopK:     5,
			TopN:     3,
			Reranker: "score",
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "none",
			Model:     "embedding-001",
			Dimension: 768,
			BatchSize: 100,
		},
		Generation: GenerationConfig{
			Provider:        "none",
			Model:           "gemini-1.5-flash",
			Temperature:     0.7,
			MaxTokens:       2048,
			Timeout:         Duration(60 * time.Second),
			RateLimit:       10,
			Burst:           20,
			BreakerFailures: 5,
			BreakerTimeout:  Duration(30 * time.Second),
		},
		Conversation: ConversationConfig{HistoryMessages: 6, ListLimit: 50},
		Storage:      StorageConfig{Backend: "memory", Database: "ragd", Index: "memory"},
		Queue: QueueConfig{
			RedisAddr:   "localhost:6379",
			Concurrency: 4,
			Name:        "ingestion",
			MaxRetry:    3,
			TaskTimeout: Duration(5 * time.Minute),
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Sampling: true},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			ServiceName: "ragd",
			SampleRate:  1.0,
		},
	}
}

var (
	providers = map[string]bool{"none": true, "gemini": true, "openai": true}
	rerankers = map[string]bool{"score": true, "overlap": true}
)

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.http_port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		add("server.max_upload_mb must be positive")
	}
	if c.Chunking.Size <= 0 {
		add("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		add("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap)
	}
	if c.Chunking.MinContentLength < 0 {
		add("chunking.min_content_length must not be negative")
	}
	if c.Retrieval.TopK <= 0 {
		add("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.TopN <= 0 || c.Retrieval.TopN > c.Retrieval.TopK {
		add("retrieval.top_n must be in [1, top_k], got %d", c.Retrieval.TopN)
	}
	if !rerankers[c.Retrieval.Reranker] {
		add("retrieval.reranker must be score or overlap, got %q", c.Retrieval.Reranker)
	}
	if !providers[c.Embeddings.Provider] {
		add("embeddings.provider must be none, gemini or openai, got %q", c.Embeddings.Provider)
	}
	if !providers[c.Generation.Provider] {
		add("generation.provider must be none, gemini or openai, got %q", c.Generation.Provider)
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		add("generation.temperature must be in [0, 2], got %v", c.Generation.Temperature)
	}
	if c.Generation.MaxTokens <= 0 {
		add("generation.max_tokens must be positive")
	}
	if c.Generation.Timeout.Duration() <= 0 {
		add("generation.timeout must be positive")
	}
	if c.Generation.RateLimit < 0 {
		add("generation.rate_limit must not be negative")
	}
	if c.Conversation.HistoryMessages < 0 {
		add("conversation.history_messages must not be negative")
	}
	switch c.Storage.Backend {
	case "memory":
	case "mongo":
		if !c.Storage.MongoURI.IsSet() {
			add("storage.mongo_uri is required for the mongo backend")
		}
	default:
		add("storage.backend must be memory or mongo, got %q", c.Storage.Backend)
	}
	switch c.Storage.Index {
	case "memory":
		if c.Storage.IndexPath != "" {
			add("storage.index_path requires storage.index chromem")
		}
	case "chromem":
	default:
		add("storage.index must be memory or chromem, got %q", c.Storage.Index)
	}
	if c.Queue.Enabled && c.Queue.RedisAddr == "" {
		add("queue.redis_addr is required when the queue is enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
		add("telemetry.protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol)
	}
	return errors.Join(errs...)
}
