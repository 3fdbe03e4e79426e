package queue

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/ragerr"
	"github.com/fyrsmithlabs/ragd/internal/sanitize"
)

// FileIngester indexes a file on disk.
type FileIngester interface {
	IngestFile(ctx context.Context, req ingestion.FileRequest) (*ingestion.Result, error)
}

// Processor handles ingest:file tasks.
type Processor struct {
	ingester   FileIngester
	uploadRoot string
	logger     *logging.Logger
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithUploadRoot rejects tasks whose file lies outside dir.
func WithUploadRoot(dir string) ProcessorOption {
	return func(p *Processor) { p.uploadRoot = dir }
}

// NewProcessor creates a Processor.
func NewProcessor(ingester FileIngester, logger *logging.Logger, opts ...ProcessorOption) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Processor{ingester: ingester, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessIngestFile ingests the uploaded file named by the task. Errors
// that cannot succeed on retry are wrapped with asynq.SkipRetry. The file
// is removed once no further attempt will read it.
func (p *Processor) ProcessIngestFile(ctx context.Context, t *asynq.Task) error {
	payload, err := ParseIngestFilePayload(t)
	if err != nil {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	ctx = logging.WithTenantID(ctx, payload.TenantID)
	ctx = logging.WithDocumentID(ctx, payload.DocumentID)
	if p.uploadRoot != "" {
		if _, err := sanitize.ValidatePath(payload.Path, p.uploadRoot); err != nil {
			p.logger.Warn(ctx, "rejecting ingest task", zap.Error(err))
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
	}

	res, err := p.ingester.IngestFile(ctx, payload.Request())
	if err == nil {
		p.cleanup(ctx, payload.Path)
		p.logger.Info(ctx, "ingest task completed", zap.Int("chunks", res.ChunkCount))
		return nil
	}

	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, known := asynq.GetMaxRetry(ctx)
	if !ragerr.IsRetryable(err) {
		p.cleanup(ctx, payload.Path)
		p.logger.Warn(ctx, "ingest task failed permanently", zap.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	if known && retried >= maxRetry {
		p.cleanup(ctx, payload.Path)
	}
	p.logger.Warn(ctx, "ingest task failed", zap.Int("retried", retried), zap.Error(err))
	return err
}

func (p *Processor) cleanup(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn(ctx, "removing upload failed", zap.String("path", path), zap.Error(err))
	}
}

// Handler returns a mux routing ingest tasks to p.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeIngestFile, p.ProcessIngestFile)
	return mux
}

// WorkerConfig sizes the worker.
type WorkerConfig struct {
	Redis       RedisConfig
	Queue       string
	Concurrency int
}

// Worker consumes ingest tasks from Redis.
type Worker struct {
	server    *asynq.Server
	processor *Processor
	logger    *logging.Logger
}

// NewWorker creates a Worker. Run starts it.
func NewWorker(cfg WorkerConfig, processor *Processor, logger *logging.Logger) (*Worker, error) {
	if cfg.Redis.Addr == "" {
		return nil, errors.New("queue: redis address is required")
	}
	if processor == nil {
		return nil, errors.New("queue: processor is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	named := logger.Named("asynq")
	srv := asynq.NewServer(cfg.Redis.clientOpt(), asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		Logger:      named.Underlying().Sugar(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			named.Error(ctx, "task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
	return &Worker{server: srv, processor: processor, logger: logger}, nil
}

// Run processes tasks until ctx is cancelled, then drains in-flight work.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.processor.Handler()); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	w.logger.Info(ctx, "ingest worker started")
	<-ctx.Done()
	w.server.Shutdown()
	w.logger.Info(context.Background(), "ingest worker stopped")
	return nil
}
