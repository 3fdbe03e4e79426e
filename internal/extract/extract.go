// Package extract pulls plain text out of uploaded files.
//
// Extractors return an empty string, not an error, for content they cannot
// interpret. Errors are reserved for I/O failures such as a missing file.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Extractor returns the text content of the file at path.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, path string) (string, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// MaxFileSize bounds the files read by the built-in extractors.
const MaxFileSize = 50 << 20

// Registry dispatches on file extension.
type Registry struct {
	byExt  map[string]Extractor
	logger *zap.Logger
}

// NewRegistry returns a registry with the plain-text and PDF extractors
// registered.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{byExt: make(map[string]Extractor), logger: logger}
	text := PlainText{}
	for _, ext := range []string{".txt", ".md", ".markdown", ".csv", ".json", ".html", ".htm"} {
		r.Register(ext, text)
	}
	r.Register(".pdf", PDF{logger: logger})
	return r
}

// Register maps a file extension (with leading dot) to an extractor.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// Supports reports whether path has a registered extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extract implements Extractor. Unsupported extensions yield "".
func (r *Registry) Extract(ctx context.Context, path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		r.logger.Debug("unsupported file type", zap.String("path", path), zap.String("ext", ext))
		return "", nil
	}
	return e.Extract(ctx, path)
}

// PlainText reads UTF-8 text files.
type PlainText struct{}

// Extract implements Extractor. Invalid UTF-8 sequences are dropped.
func (PlainText) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := readBounded(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), ""), nil
	}
	return string(data), nil
}

func readBounded(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("file %s is %d bytes, limit is %d", path, info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}
