package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), perm))
	return path
}

func clearFallbacks(t *testing.T) {
	t.Helper()
	for _, k := range []string{"GEMINI_API_KEY", "OPENAI_API_KEY", "MONGODB_URI", "REDIS_ADDR"} {
		t.Setenv(k, "")
	}
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	clearFallbacks(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Chunking.Size)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.Equal(t, 10, cfg.Chunking.MinContentLength)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 3, cfg.Retrieval.TopN)
	assert.Equal(t, "none", cfg.Embeddings.Provider)
	assert.Equal(t, 768, cfg.Embeddings.Dimension)
	assert.Equal(t, "gemini-1.5-flash", cfg.Generation.Model)
	assert.InDelta(t, 0.7, cfg.Generation.Temperature, 1e-9)
	assert.Equal(t, 2048, cfg.Generation.MaxTokens)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.True(t, cfg.Secrets.Enabled)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearFallbacks(t)
	path := writeConfig(t, `
server:
  http_port: 9000
chunking:
  size: 800
  overlap: 80
retrieval:
  top_k: 10
  top_n: 4
generation:
  provider: gemini
  api_key: from-file
  timeout: 15s
secrets:
  allow_list:
    - EXAMPLE$
`, 0o600)

	t.Setenv("RAGD_SERVER_HTTP_PORT", "9100")
	t.Setenv("RAGD_RETRIEVAL_RERANKER", "overlap")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "env overrides file")
	assert.Equal(t, 800, cfg.Chunking.Size)
	assert.Equal(t, 80, cfg.Chunking.Overlap)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, "overlap", cfg.Retrieval.Reranker)
	assert.Equal(t, "from-file", cfg.Generation.APIKey.Value())
	assert.Equal(t, 15*time.Second, cfg.Generation.Timeout.Duration())
	assert.Equal(t, 50, cfg.Conversation.ListLimit, "unset keys keep defaults")
	assert.Equal(t, []string{"EXAMPLE$"}, cfg.Secrets.AllowList)
	assert.True(t, cfg.Secrets.Enabled)
}

func TestLoad_EnvFallbacks(t *testing.T) {
	clearFallbacks(t)
	t.Setenv("RAGD_EMBEDDINGS_PROVIDER", "gemini")
	t.Setenv("RAGD_GENERATION_PROVIDER", "openai")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("OPENAI_API_KEY", "o-key")
	t.Setenv("REDIS_ADDR", "redis:6380")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "g-key", cfg.Embeddings.APIKey.Value())
	assert.Equal(t, "o-key", cfg.Generation.APIKey.Value())
	assert.Equal(t, "redis:6380", cfg.Queue.RedisAddr)
}

func TestLoad_InsecurePermissions(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: 9000\n", 0o644)
	_, err := Load(path)
	assert.ErrorContains(t, err, "insecure config file permissions")
}

func TestLoad_InvalidValues(t *testing.T) {
	clearFallbacks(t)
	path := writeConfig(t, "retrieval:\n  top_k: 2\n  top_n: 5\n", 0o600)
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorContains(t, err, "top_n")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"port", func(c *Config) { c.Server.Port = 0 }, "http_port"},
		{"overlap >= size", func(c *Config) { c.Chunking.Overlap = 500 }, "overlap"},
		{"top_k", func(c *Config) { c.Retrieval.TopK = 0 }, "top_k"},
		{"reranker", func(c *Config) { c.Retrieval.Reranker = "cross-encoder" }, "reranker"},
		{"embeddings provider", func(c *Config) { c.Embeddings.Provider = "cohere" }, "embeddings.provider"},
		{"generation provider", func(c *Config) { c.Generation.Provider = "claude" }, "generation.provider"},
		{"temperature", func(c *Config) { c.Generation.Temperature = 3 }, "temperature"},
		{"mongo without uri", func(c *Config) { c.Storage.Backend = "mongo" }, "mongo_uri"},
		{"backend", func(c *Config) { c.Storage.Backend = "sqlite" }, "backend"},
		{"index", func(c *Config) { c.Storage.Index = "faiss" }, "storage.index"},
		{"index path without chromem", func(c *Config) { c.Storage.IndexPath = "/var/lib/ragd" }, "index_path"},
		{"queue without redis", func(c *Config) { c.Queue.Enabled = true; c.Queue.RedisAddr = "" }, "redis_addr"},
		{"telemetry protocol", func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Protocol = "udp" }, "protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.http_port", envKey("RAGD_SERVER_HTTP_PORT"))
	assert.Equal(t, "generation.api_key", envKey("RAGD_GENERATION_API_KEY"))
	assert.Equal(t, "debug", envKey("RAGD_DEBUG"))
}

func TestSecret_NeverPrinted(t *testing.T) {
	s := Secret("sk-live-123")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "Secret([REDACTED])", s.GoString())
	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))
	assert.Equal(t, "sk-live-123", s.Value())
	assert.Empty(t, Secret("").String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
