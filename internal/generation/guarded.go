package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("ragd.generation")

// GuardConfig configures Guarded.
type GuardConfig struct {
	// Name labels the breaker in logs.
	Name string
	// RateLimit is calls per second; zero disables limiting.
	RateLimit float64
	Burst     int
	// Failures is the consecutive failure count that opens the breaker.
	Failures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// Model is reported on spans.
	Model string
}

// Guarded wraps a Generator with a rate limiter, a circuit breaker and
// tracing. ErrUnconfigured and caller cancellation never trip the breaker.
type Guarded struct {
	next    Generator
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	model   string
	tokens  metric.Int64Counter
	logger  *zap.Logger
}

// NewGuarded wraps next.
func NewGuarded(next Generator, cfg GuardConfig, logger *zap.Logger) *Guarded {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "generation"
	}
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.Failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrUnconfigured) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("generation circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	tokens, err := otel.Meter("ragd.generation").Int64Counter(
		"ragd.generation.tokens",
		metric.WithDescription("Tokens reported by the generation provider"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		logger.Warn("failed to create token counter", zap.Error(err))
	}

	return &Guarded{
		next:    next,
		breaker: breaker,
		limiter: rate.NewLimiter(limit, burst),
		model:   cfg.Model,
		tokens:  tokens,
		logger:  logger,
	}
}

// State reports the breaker state.
func (g *Guarded) State() gobreaker.State { return g.breaker.State() }

// Close closes the wrapped generator when it holds resources.
func (g *Guarded) Close() error {
	if c, ok := g.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Generate implements Generator.
func (g *Guarded) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "generation.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("generation.model", g.model),
		attribute.Int("generation.prompt_chars", len(req.Prompt)),
	)

	out, err := g.guard(ctx, func() (interface{}, error) {
		return g.next.Generate(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	resp := out.(*Response)
	span.SetAttributes(
		attribute.Int("generation.total_tokens", resp.Usage.TotalTokens),
		attribute.Int("generation.citation_hints", len(resp.CitationHints)),
	)
	g.recordTokens(ctx, resp.Usage)
	return resp, nil
}

// Stream implements Generator. The breaker guards opening the stream;
// errors surfaced later through Stream.Err are not counted.
func (g *Guarded) Stream(ctx context.Context, req Request) (Stream, error) {
	ctx, span := tracer.Start(ctx, "generation.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("generation.model", g.model))

	out, err := g.guard(ctx, func() (interface{}, error) {
		return g.next.Stream(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out.(Stream), nil
}

func (g *Guarded) guard(ctx context.Context, call func() (interface{}, error)) (interface{}, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}
	out, err := g.breaker.Execute(call)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return out, err
}

func (g *Guarded) recordTokens(ctx context.Context, u TokenUsage) {
	if g.tokens == nil {
		return
	}
	g.tokens.Add(ctx, int64(u.PromptTokens), metric.WithAttributes(attribute.String("kind", "prompt")))
	g.tokens.Add(ctx, int64(u.CompletionTokens), metric.WithAttributes(attribute.String("kind", "completion")))
}
