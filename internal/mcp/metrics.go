package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/ragerr"
)

const instrumentationName = "github.com/fyrsmithlabs/ragd/internal/mcp"

// Metrics records tool invocations.
type Metrics struct {
	meter       metric.Meter
	logger      *zap.Logger
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
	errors      metric.Int64Counter
	active      metric.Int64UpDownCounter
}

// NewMetrics creates the tool instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{meter: otel.Meter(instrumentationName), logger: logger}

	var err error
	m.invocations, err = m.meter.Int64Counter(
		"ragd.mcp.tool.invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		logger.Warn("failed to create invocations counter", zap.Error(err))
	}
	m.duration, err = m.meter.Float64Histogram(
		"ragd.mcp.tool.duration_seconds",
		metric.WithDescription("Duration of MCP tool invocations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", zap.Error(err))
	}
	m.errors, err = m.meter.Int64Counter(
		"ragd.mcp.tool.errors_total",
		metric.WithDescription("Total number of MCP tool errors by failing stage"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create errors counter", zap.Error(err))
	}
	m.active, err = m.meter.Int64UpDownCounter(
		"ragd.mcp.tool.active_requests",
		metric.WithDescription("Number of MCP tool calls in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create active requests counter", zap.Error(err))
	}
	return m
}

// Start marks a tool call in flight and returns the func that records its
// outcome.
func (m *Metrics) Start(ctx context.Context, tool string) func(err error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.active != nil {
		m.active.Add(ctx, 1, attrs)
	}
	start := time.Now()
	return func(err error) {
		if m.active != nil {
			m.active.Add(ctx, -1, attrs)
		}
		if m.invocations != nil {
			m.invocations.Add(ctx, 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if err != nil && m.errors != nil {
			m.errors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", errorReason(err)),
			))
		}
	}
}

// errorReason labels err by the pipeline stage that failed.
func errorReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	if stage := ragerr.StageOf(err); stage != "" {
		return string(stage)
	}
	return "internal"
}
