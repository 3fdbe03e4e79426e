package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug for per-chunk and per-fragment detail.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, accepting "trace" in addition to the
// zap level names.
func LevelFromString(level string) (zapcore.Level, error) {
	if strings.EqualFold(strings.TrimSpace(level), "trace") {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
