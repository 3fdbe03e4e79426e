package logging

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragd/internal/config"
)

const redacted = "[REDACTED]"

// Secret creates a field for a config.Secret showing only its length.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString creates a field with the value replaced by its length.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// RedactingEncoder wraps a zapcore.Encoder and redacts sensitive keys and
// values matching configured patterns. It covers both fields attached with
// With and fields passed on each call.
type RedactingEncoder struct {
	zapcore.Encoder
	keys     map[string]bool
	patterns []*regexp.Regexp
}

// NewRedactingEncoder wraps base with the redaction rules in cfg.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}

	keys := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		keys[strings.ToLower(f)] = true
	}

	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &RedactingEncoder{Encoder: base, keys: keys, patterns: patterns}, nil
}

func (e *RedactingEncoder) sensitiveKey(key string) bool {
	return e.keys[strings.ToLower(key)]
}

// scrub replaces pattern matches inside val.
func (e *RedactingEncoder) scrub(val string) string {
	for _, re := range e.patterns {
		val = re.ReplaceAllString(val, redacted)
	}
	return val
}

// EncodeEntry redacts the message and per-call fields before delegating.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if len(e.keys) == 0 && len(e.patterns) == 0 {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	ent.Message = e.scrub(ent.Message)
	clean := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		clean[i] = e.redactField(f)
	}
	return e.Encoder.EncodeEntry(ent, clean)
}

func (e *RedactingEncoder) redactField(f zapcore.Field) zapcore.Field {
	if e.sensitiveKey(f.Key) {
		return zap.String(f.Key, redacted)
	}
	switch f.Type {
	case zapcore.StringType:
		f.String = e.scrub(f.String)
	case zapcore.ErrorType:
		if err, ok := f.Interface.(error); ok && err != nil {
			return zap.String(f.Key, e.scrub(err.Error()))
		}
	}
	return f
}

// AddString redacts sensitive keys and value patterns.
func (e *RedactingEncoder) AddString(key, val string) {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddString(key, e.scrub(val))
}

// AddByteString redacts sensitive keys.
func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddByteString(key, val)
}

// AddReflected redacts sensitive keys.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

// AddObject redacts sensitive keys.
func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitiveKey(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// Clone implements zapcore.Encoder.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:  e.Encoder.Clone(),
		keys:     e.keys,
		patterns: e.patterns,
	}
}
