// Package ingestion turns tenant documents into indexed chunks.
//
// Pipeline.Ingest cleans and chunks the text, embeds every chunk in one
// batch, and appends the whole batch to the tenant's index in one step, so
// searches see either none or all of a document. Each run is an attempt
// recorded in a StatusStore; failures mark the attempt failed and never
// touch other documents.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chunker"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/extract"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/ragerr"
	"github.com/fyrsmithlabs/ragd/internal/secrets"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const (
	// DefaultMinContentLength is the shortest trimmed text accepted.
	DefaultMinContentLength = 10
	// PreviewLength is the rune length of Result.Preview.
	PreviewLength = 500
	// MetadataSource is the chunk metadata key naming the original file.
	MetadataSource = "source"
)

var tracer = otel.Tracer("ragd.ingestion")

// Config sizes the pipeline.
type Config struct {
	ChunkSize        int
	ChunkOverlap     int
	MinContentLength int
}

// Request is one document to ingest.
type Request struct {
	TenantID   string
	DocumentID string
	Text       string
	Metadata   map[string]string
	// Replace swaps out chunks from an earlier ingestion of the same
	// document instead of appending alongside them.
	Replace bool
}

// FileRequest ingests the text extracted from a file.
type FileRequest struct {
	TenantID   string
	DocumentID string
	Path       string
	Metadata   map[string]string
	Replace    bool
}

// Result describes a completed ingestion.
type Result struct {
	TenantID   string        `json:"tenant_id"`
	DocumentID string        `json:"document_id"`
	ChunkCount int           `json:"chunk_count"`
	Replaced   int           `json:"replaced,omitempty"`
	Redacted   int           `json:"redacted,omitempty"`
	Preview    string        `json:"preview"`
	Attempt    int           `json:"attempt"`
	Duration   time.Duration `json:"duration"`
}

// Pipeline ingests documents into a vector index.
type Pipeline struct {
	chunker    *chunker.Chunker
	embedder   embeddings.Embedder
	index      vectorstore.Index
	statuses   StatusStore
	extractor  extract.Extractor
	minContent int
	scrubber   Scrubber
	logger     *logging.Logger
}

// Scrubber removes credentials from document text before it is chunked.
type Scrubber interface {
	Scrub(text string) secrets.Result
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithScrubber redacts secrets from every document before indexing.
func WithScrubber(s Scrubber) Option {
	return func(p *Pipeline) { p.scrubber = s }
}

// NewPipeline creates a Pipeline. A nil statuses uses a MemoryStatusStore;
// a nil extractor disables IngestFile.
func NewPipeline(
	cfg Config,
	embedder embeddings.Embedder,
	index vectorstore.Index,
	statuses StatusStore,
	extractor extract.Extractor,
	logger *logging.Logger,
	opts ...Option,
) (*Pipeline, error) {
	if embedder == nil || index == nil {
		return nil, errors.New("ingestion: embedder and index are required")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = chunker.DefaultSize
		cfg.ChunkOverlap = chunker.DefaultOverlap
	}
	ch, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	if cfg.MinContentLength <= 0 {
		cfg.MinContentLength = DefaultMinContentLength
	}
	if statuses == nil {
		statuses = NewMemoryStatusStore()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Pipeline{
		chunker:    ch,
		embedder:   embedder,
		index:      index,
		statuses:   statuses,
		extractor:  extractor,
		minContent: cfg.MinContentLength,
		logger:     logger.Named("ingestion"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Ingest indexes req.Text for req.TenantID.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	return p.ingest(ctx, req.TenantID, req.DocumentID, req.Metadata, req.Replace,
		func(context.Context) (string, error) { return req.Text, nil })
}

// IngestFile extracts text from req.Path and indexes it. The file's base
// name is recorded as the chunks' source.
func (p *Pipeline) IngestFile(ctx context.Context, req FileRequest) (*Result, error) {
	if p.extractor == nil {
		return nil, ragerr.New(ragerr.StageIngestion, "ingest_file",
			fmt.Errorf("%w: no extractor configured", ragerr.ErrInvalidArgument))
	}
	md := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		md[k] = v
	}
	if _, ok := md[MetadataSource]; !ok {
		md[MetadataSource] = filepath.Base(req.Path)
	}
	return p.ingest(ctx, req.TenantID, req.DocumentID, md, req.Replace,
		func(ctx context.Context) (string, error) {
			text, err := p.extractor.Extract(ctx, req.Path)
			if err != nil {
				return "", fmt.Errorf("extracting %s: %w", filepath.Base(req.Path), err)
			}
			return text, nil
		})
}

// MarkUploading records a document accepted for asynchronous ingestion.
func (p *Pipeline) MarkUploading(ctx context.Context, tenantID, documentID, source string) error {
	if err := p.statuses.MarkUploading(ctx, tenantID, documentID, source); err != nil {
		return ragerr.New(ragerr.StagePersistence, "mark_uploading", err)
	}
	return nil
}

// Status returns the processing record of a document.
func (p *Pipeline) Status(ctx context.Context, tenantID, documentID string) (DocumentStatus, error) {
	return p.statuses.Get(ctx, tenantID, documentID)
}

// Documents returns the processing records of tenantID's documents.
func (p *Pipeline) Documents(ctx context.Context, tenantID string) ([]DocumentStatus, error) {
	return p.statuses.List(ctx, tenantID)
}

// DeleteDocument removes a document's chunks and status. Idempotent;
// returns the number of chunks removed.
func (p *Pipeline) DeleteDocument(ctx context.Context, tenantID, documentID string) (int, error) {
	const op = "delete_document"
	removed, err := p.index.DeleteByDocument(ctx, tenantID, documentID)
	if err != nil {
		return 0, ragerr.New(ragerr.StageIngestion, op, err)
	}
	if err := p.statuses.Delete(ctx, tenantID, documentID); err != nil {
		return removed, ragerr.New(ragerr.StagePersistence, op, err)
	}
	ctx = logging.WithDocumentID(logging.WithTenantID(ctx, tenantID), documentID)
	p.logger.Info(ctx, "document deleted", zap.Int("chunks_removed", removed))
	return removed, nil
}

type textSource func(ctx context.Context) (string, error)

func (p *Pipeline) ingest(
	ctx context.Context,
	tenantID, documentID string,
	metadata map[string]string,
	replace bool,
	source textSource,
) (*Result, error) {
	const op = "ingest"
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(documentID) == "" {
		return nil, ragerr.New(ragerr.StageIngestion, op,
			fmt.Errorf("%w: tenant and document id are required", ragerr.ErrInvalidArgument))
	}

	start := time.Now()
	ctx = logging.WithDocumentID(logging.WithTenantID(ctx, tenantID), documentID)
	ctx, span := tracer.Start(ctx, "ingestion.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("document.id", documentID),
		attribute.Bool("ingestion.replace", replace),
	)

	st, err := p.statuses.Begin(ctx, tenantID, documentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, ragerr.New(ragerr.StagePersistence, op, err)
	}
	span.SetAttributes(attribute.Int("ingestion.attempt", st.Attempt))

	res, err := p.run(ctx, tenantID, documentID, metadata, replace, source)
	if err != nil {
		se := ragerr.New(ragerr.StageIngestion, op, err)
		span.RecordError(se)
		span.SetStatus(codes.Error, se.Error())
		if ferr := p.statuses.Fail(ctx, tenantID, documentID, st.Attempt, se.Error()); ferr != nil {
			p.logger.Error(ctx, "failed to record ingestion failure", zap.Error(ferr))
		}
		p.logger.Warn(ctx, "ingestion failed",
			zap.Int("attempt", st.Attempt),
			zap.String("stage", string(se.Stage)),
			zap.Bool("retryable", se.Retryable),
			zap.Error(se.Err),
		)
		return nil, se
	}

	if err := p.statuses.Complete(ctx, tenantID, documentID, st.Attempt, res.ChunkCount, res.Preview); err != nil {
		// The chunks are already searchable; report the bookkeeping failure.
		span.RecordError(err)
		return nil, ragerr.New(ragerr.StagePersistence, op, err)
	}

	res.Attempt = st.Attempt
	res.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("ingestion.chunks", res.ChunkCount))
	p.logger.Info(ctx, "document ingested",
		zap.Int("attempt", res.Attempt),
		zap.Int("chunks", res.ChunkCount),
		zap.Int("replaced", res.Replaced),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// run does the work of one attempt. Errors carry their stage.
func (p *Pipeline) run(
	ctx context.Context,
	tenantID, documentID string,
	metadata map[string]string,
	replace bool,
	source textSource,
) (*Result, error) {
	const op = "ingest"

	text, err := source(ctx)
	if err != nil {
		return nil, ragerr.New(ragerr.StageIngestion, op, err)
	}
	redacted := 0
	if p.scrubber != nil {
		if sr := p.scrubber.Scrub(text); len(sr.Findings) > 0 {
			text = sr.Text
			redacted = len(sr.Findings)
			p.logger.Warn(ctx, "secrets redacted from document",
				zap.Int("findings", redacted),
				zap.Strings("rules", sr.RuleIDs()),
			)
		}
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) < p.minContent {
		return nil, ragerr.New(ragerr.StageIngestion, op,
			fmt.Errorf("%w: fewer than %d characters", ragerr.ErrEmptyContent, p.minContent))
	}

	segments := p.chunker.Split(text)
	if len(segments) == 0 {
		return nil, ragerr.New(ragerr.StageIngestion, op,
			fmt.Errorf("%w: no chunks after cleaning", ragerr.ErrEmptyContent))
	}

	texts := make([]string, len(segments))
	for i, s := range segments {
		texts[i] = s.Text
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		if !errors.Is(err, ragerr.ErrEmbeddingUnavailable) && !errors.Is(err, ragerr.ErrEmbeddingFailed) {
			err = fmt.Errorf("%w: %w", ragerr.ErrEmbeddingFailed, err)
		}
		return nil, ragerr.New(ragerr.StageEmbedding, op, err)
	}
	if len(vectors) != len(segments) {
		return nil, ragerr.New(ragerr.StageEmbedding, op,
			fmt.Errorf("%w: got %d vectors for %d chunks", ragerr.ErrEmbeddingFailed, len(vectors), len(segments)))
	}

	now := time.Now().UTC()
	chunks := make([]vectorstore.Chunk, len(segments))
	for i, s := range segments {
		if len(vectors[i]) == 0 {
			return nil, ragerr.New(ragerr.StageEmbedding, op,
				fmt.Errorf("%w: empty vector for chunk %d", ragerr.ErrEmbeddingFailed, i))
		}
		md := make(map[string]string, len(metadata))
		for k, v := range metadata {
			md[k] = v
		}
		chunks[i] = vectorstore.Chunk{
			ID:         vectorstore.ChunkID(documentID, i),
			TenantID:   tenantID,
			DocumentID: documentID,
			ChunkIndex: i,
			Text:       s.Text,
			Vector:     vectors[i],
			Metadata:   md,
			CreatedAt:  now,
		}
	}

	if err := p.index.EnsureTenant(ctx, tenantID); err != nil {
		return nil, ragerr.New(ragerr.StageIngestion, op, fmt.Errorf("ensuring tenant index: %w", err))
	}
	replaced := 0
	if replace {
		replaced, err = p.index.ReplaceDocument(ctx, tenantID, documentID, chunks)
	} else {
		err = p.index.Insert(ctx, tenantID, chunks)
	}
	if err != nil {
		return nil, ragerr.New(ragerr.StageIngestion, op, fmt.Errorf("indexing chunks: %w", err))
	}

	return &Result{
		TenantID:   tenantID,
		DocumentID: documentID,
		ChunkCount: len(chunks),
		Replaced:   replaced,
		Redacted:   redacted,
		Preview:    preview(chunker.Clean(text), PreviewLength),
	}, nil
}

func preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}
