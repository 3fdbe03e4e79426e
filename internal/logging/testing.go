package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that records every entry for assertions.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates a logger that observes all levels, trace included.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// All returns all logged entries.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessageSnippet(msg)
}

// Reset clears recorded entries.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return
		}
	}
	tb.Errorf("expected log at %v containing %q, got %d entries", level, msg, t.observed.Len())
}

// AssertNotLogged fails tb if an entry at level contains msg.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			tb.Errorf("unexpected log at %v containing %q", level, msg)
		}
	}
}

// AssertField fails tb unless an entry containing msg has key=want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessageSnippet(msg).All() {
		if got, ok := e.ContextMap()[key]; ok && got == want {
			return
		}
	}
	tb.Errorf("field %q=%v not found in entries containing %q", key, want, msg)
}
