package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every ragd environment variable.
	EnvPrefix = "RAGD_"

	maxConfigFileSize = 1024 * 1024
)

// DefaultPath returns ~/.config/ragd/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ragd", "config.yaml"), nil
}

// Load reads configuration from path (DefaultPath when empty; a missing
// file is not an error) and the environment, then validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if content, err := readConfigFile(path); err != nil {
		return nil, err
	} else if content != nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// RAGD_GENERATION_API_KEY -> generation.api_key: the first underscore
	// after the prefix separates section from field.
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyEnvFallbacks(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// readConfigFile returns nil content when path does not exist.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	// Validate through the open descriptor to avoid a stat/open race.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigFileProperties rejects group/world-accessible files (the
// file holds API keys) and oversized files.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("config path is a directory")
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyEnvFallbacks fills unset credentials from conventional variables.
func applyEnvFallbacks(cfg *Config) {
	keyFor := func(provider string) Secret {
		switch provider {
		case "gemini":
			return Secret(os.Getenv("GEMINI_API_KEY"))
		case "openai":
			return Secret(os.Getenv("OPENAI_API_KEY"))
		}
		return ""
	}
	if !cfg.Embeddings.APIKey.IsSet() {
		cfg.Embeddings.APIKey = keyFor(cfg.Embeddings.Provider)
	}
	if !cfg.Generation.APIKey.IsSet() {
		cfg.Generation.APIKey = keyFor(cfg.Generation.Provider)
	}
	if !cfg.Storage.MongoURI.IsSet() {
		cfg.Storage.MongoURI = Secret(os.Getenv("MONGODB_URI"))
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" && os.Getenv(EnvPrefix+"QUEUE_REDIS_ADDR") == "" {
		cfg.Queue.RedisAddr = addr
	}
}
