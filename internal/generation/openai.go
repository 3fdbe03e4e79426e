package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig configures OpenAIGenerator.
type OpenAIConfig struct {
	// BaseURL of an OpenAI-compatible API. Empty means api.openai.com.
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// Validate checks the configuration.
func (c OpenAIConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.BaseURL == "" && c.APIKey == "" {
		return fmt.Errorf("%w: api key required for api.openai.com", ErrInvalidConfig)
	}
	return nil
}

// OpenAIGenerator generates through an OpenAI-compatible chat endpoint
// using langchaingo.
type OpenAIGenerator struct {
	llm *openai.LLM
	cfg OpenAIConfig
}

// NewOpenAIGenerator creates an OpenAI-compatible generator.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	token := cfg.APIKey
	if token == "" {
		// langchaingo requires a token; local servers ignore it.
		token = "placeholder"
	}
	opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(token)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	return &OpenAIGenerator{llm: llm, cfg: cfg}, nil
}

func (g *OpenAIGenerator) call(ctx context.Context, req Request, extra ...llms.CallOption) (*llms.ContentResponse, error) {
	var msgs []llms.MessageContent
	if req.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))

	maxTokens := g.cfg.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	opts := append([]llms.CallOption{
		llms.WithTemperature(g.cfg.Temperature),
		llms.WithMaxTokens(maxTokens),
	}, extra...)

	resp, err := g.llm.GenerateContent(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp, nil
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	resp, err := g.call(ctx, req)
	if err != nil {
		return nil, err
	}
	text := resp.Choices[0].Content
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Text:          text,
		Usage:         openAIUsage(resp.Choices[0].GenerationInfo),
		Model:         g.cfg.Model,
		CitationHints: ParseCitationHints(text),
	}, nil
}

// Stream implements Generator.
func (g *OpenAIGenerator) Stream(ctx context.Context, req Request) (Stream, error) {
	return newStream(ctx, func(ctx context.Context, emit func(string) error) (TokenUsage, error) {
		resp, err := g.call(ctx, req, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
			return emit(string(chunk))
		}))
		if err != nil {
			return TokenUsage{}, err
		}
		return openAIUsage(resp.Choices[0].GenerationInfo), nil
	}), nil
}

func openAIUsage(info map[string]any) TokenUsage {
	return TokenUsage{
		PromptTokens:     intField(info, "PromptTokens"),
		CompletionTokens: intField(info, "CompletionTokens"),
		TotalTokens:      intField(info, "TotalTokens"),
	}
}

func intField(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
