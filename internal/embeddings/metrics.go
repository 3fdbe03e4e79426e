package embeddings

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/embeddings"

// Metrics holds embedding metrics.
type Metrics struct {
	meter     metric.Meter
	logger    *zap.Logger
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics creates embedding metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"ragd.embedding.duration_seconds",
		metric.WithDescription("Duration of embedding calls in seconds, by model and intent (document, query)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"ragd.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"ragd.embedding.errors_total",
		metric.WithDescription("Embedding failures by model and intent, including vector count mismatches"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// Record records one embedding call.
func (m *Metrics) Record(ctx context.Context, model, intent string, duration time.Duration, batchSize int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("intent", intent),
	)
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if batchSize > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batchSize), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// Instrument wraps p so every call is measured and its output validated.
func Instrument(p Provider, model string, m *Metrics) Provider {
	if m == nil {
		m = NewMetrics(nil)
	}
	return &instrumented{Provider: p, model: model, metrics: m}
}

type instrumented struct {
	Provider
	model   string
	metrics *Metrics
}

func (i *instrumented) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		i.metrics.Record(ctx, i.model, "document", time.Since(start), len(texts), err)
	}()

	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	vectors, err = i.Provider.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if err = checkVectors(vectors, len(texts)); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (i *instrumented) EmbedQuery(ctx context.Context, text string) (vector []float32, err error) {
	start := time.Now()
	defer func() {
		i.metrics.Record(ctx, i.model, "query", time.Since(start), 1, err)
	}()

	if text == "" {
		return nil, ErrEmptyInput
	}
	vector, err = i.Provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrEmbeddingFailed)
	}
	return vector, nil
}
