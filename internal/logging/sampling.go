package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore samples each level below Error with its own rate.
// Error and above always pass.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	cores := []zapcore.Core{
		&levelRangeCore{Core: core, min: zapcore.ErrorLevel, max: zapcore.FatalLevel},
	}
	for _, lvl := range []zapcore.Level{TraceLevel, zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel} {
		only := &levelRangeCore{Core: core, min: lvl, max: lvl}
		rate, ok := cfg.Levels[lvl]
		if !ok {
			cores = append(cores, only)
			continue
		}
		cores = append(cores, zapcore.NewSamplerWithOptions(
			only, cfg.Tick.Duration(), rate.Initial, rate.Thereafter,
		))
	}
	return zapcore.NewTee(cores...)
}

// levelRangeCore passes entries with min <= level <= max.
type levelRangeCore struct {
	zapcore.Core
	min, max zapcore.Level
}

func (c *levelRangeCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.min && lvl <= c.max && c.Core.Enabled(lvl)
}

func (c *levelRangeCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelRangeCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelRangeCore{Core: c.Core.With(fields), min: c.min, max: c.max}
}
