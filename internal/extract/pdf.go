package extract

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// PDF extracts the text layer of PDF files page by page. Scanned PDFs
// without a text layer yield "".
type PDF struct {
	logger *zap.Logger
}

// NewPDF returns a PDF extractor.
func NewPDF(logger *zap.Logger) PDF {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PDF{logger: logger}
}

// Extract implements Extractor.
func (p PDF) Extract(ctx context.Context, path string) (text string, err error) {
	logger := p.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("file %s is %d bytes, limit is %d", path, info.Size(), MaxFileSize)
	}

	f, reader, err := pdf.Open(path)
	if err != nil {
		if f != nil {
			_ = f.Close()
		}
		logger.Warn("unparsable pdf", zap.String("path", path), zap.Error(err))
		return "", nil
	}
	defer f.Close()

	// The parser panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("pdf parser panicked", zap.String("path", path), zap.Any("panic", r))
			text, err = "", nil
		}
	}()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(make(map[string]*pdf.Font))
		if err != nil {
			logger.Debug("skipping pdf page", zap.String("path", path), zap.Int("page", i), zap.Error(err))
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(content)
	}
	return b.String(), nil
}
