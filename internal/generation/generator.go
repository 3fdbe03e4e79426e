// Package generation produces answers from a language model.
//
// A Generator takes a system instruction and a fully assembled prompt and
// returns the model's text, either in one piece (Generate) or as a finite
// sequence of fragments (Stream). Providers are Gemini and any
// OpenAI-compatible endpoint; Unconfigured is the explicit variant used when
// no model is set up. Guarded adds a circuit breaker and a rate limit in
// front of any Generator.
package generation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"go.uber.org/zap"
)

var (
	// ErrUnconfigured is returned by Unconfigured for every call.
	ErrUnconfigured = errors.New("generation provider not configured")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid generation configuration")

	// ErrEmptyResponse indicates the model returned no text.
	ErrEmptyResponse = errors.New("model returned an empty response")

	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errors.New("generation circuit open")
)

// Generator produces text from a prompt.
type Generator interface {
	// Generate returns the full answer.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Stream returns the answer as fragments. The stream is lazy, finite
	// and cannot be restarted; callers must Close it.
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Request is one generation call.
type Request struct {
	// System is the fixed instruction placed before the prompt.
	System string
	// Prompt is the user-facing text: context, history and question.
	Prompt string
	// MaxTokens overrides the provider default when positive.
	MaxTokens int
}

// TokenUsage counts tokens for one call, as reported by the provider.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of u and o.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Response is a completed generation.
type Response struct {
	Text  string
	Usage TokenUsage
	Model string
	// CitationHints are the distinct [Source N] markers found in Text, in
	// order of first appearance.
	CitationHints []int
}

// Stream yields answer fragments.
//
//	for s.Next() {
//	    io.WriteString(w, s.Fragment())
//	}
//	if err := s.Err(); err != nil { ... }
//
// Err and Usage are valid once Next has returned false.
type Stream interface {
	Next() bool
	Fragment() string
	Err() error
	Usage() TokenUsage
	Close() error
}

// Provider names.
const (
	ProviderNone   = "none"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// ProviderConfig selects and configures a generator.
type ProviderConfig struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
}

// NewGenerator creates the generator named by cfg.Provider. "none" (or
// empty) returns Unconfigured.
func NewGenerator(ctx context.Context, cfg ProviderConfig, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "", ProviderNone:
		logger.Warn("no generation provider configured; chat answers will be degraded")
		return Unconfigured{}, nil
	case ProviderGemini:
		return NewGeminiGenerator(ctx, GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	case ProviderOpenAI:
		return NewOpenAIGenerator(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	}
	return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
}

// Collect drains s into a Response. The stream is closed.
func Collect(s Stream, model string) (*Response, error) {
	defer s.Close()
	var text []byte
	for s.Next() {
		text = append(text, s.Fragment()...)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	out := string(text)
	return &Response{Text: out, Usage: s.Usage(), Model: model, CitationHints: ParseCitationHints(out)}, nil
}

var citationMarker = regexp.MustCompile(`\[(?:Source|來源)\s*(\d+)\]`)

// ParseCitationHints returns the distinct source numbers referenced as
// "[Source N]" in text, in order of first appearance.
func ParseCitationHints(text string) []int {
	var out []int
	seen := make(map[int]bool)
	for _, m := range citationMarker.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
