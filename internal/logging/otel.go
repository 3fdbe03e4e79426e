package logging

import (
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// newCore builds the stdout and OTEL cores, tees them and applies sampling.
func newCore(cfg *Config, out zapcore.WriteSyncer, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stdout {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, out, cfg.Level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		otelCore := otelzap.NewCore("ragd", otelzap.WithLoggerProvider(otelProvider))
		// The bridge has no level of its own.
		cores = append(cores, &levelRangeCore{Core: otelCore, min: cfg.Level, max: zapcore.FatalLevel})
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}
	return newSampledCore(core, cfg.Sampling), nil
}
