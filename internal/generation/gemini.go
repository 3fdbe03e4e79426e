package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Gemini defaults.
const (
	DefaultGeminiModel = "gemini-1.5-flash"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
)

// GeminiConfig configures GeminiGenerator.
type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// GeminiGenerator generates with Google Gemini models.
type GeminiGenerator struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGeminiGenerator creates a Gemini generator.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini api key required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, cfg: cfg}, nil
}

func (g *GeminiGenerator) model(req Request) *genai.GenerativeModel {
	m := g.client.GenerativeModel(g.cfg.Model)
	m.SetTemperature(float32(g.cfg.Temperature))
	maxTokens := g.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	m.SetMaxOutputTokens(int32(maxTokens))
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	return m
}

// Generate implements Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	resp, err := g.model(req).GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	text := responseText(resp)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Text:          text,
		Usage:         geminiUsage(resp),
		Model:         g.cfg.Model,
		CitationHints: ParseCitationHints(text),
	}, nil
}

// Stream implements Generator.
func (g *GeminiGenerator) Stream(ctx context.Context, req Request) (Stream, error) {
	m := g.model(req)
	return newStream(ctx, func(ctx context.Context, emit func(string) error) (TokenUsage, error) {
		var usage TokenUsage
		it := m.GenerateContentStream(ctx, genai.Text(req.Prompt))
		for {
			resp, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return usage, nil
			}
			if err != nil {
				return usage, fmt.Errorf("gemini stream: %w", err)
			}
			if resp.UsageMetadata != nil {
				usage = geminiUsage(resp)
			}
			if err := emit(responseText(resp)); err != nil {
				return usage, err
			}
		}
	}), nil
}

// Close releases the client.
func (g *GeminiGenerator) Close() error { return g.client.Close() }

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}

func geminiUsage(resp *genai.GenerateContentResponse) TokenUsage {
	if resp == nil || resp.UsageMetadata == nil {
		return TokenUsage{}
	}
	u := resp.UsageMetadata
	return TokenUsage{
		PromptTokens:     int(u.PromptTokenCount),
		CompletionTokens: int(u.CandidatesTokenCount),
		TotalTokens:      int(u.TotalTokenCount),
	}
}
