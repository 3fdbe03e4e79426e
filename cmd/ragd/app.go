package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/extract"
	"github.com/fyrsmithlabs/ragd/internal/generation"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/queue"
	"github.com/fyrsmithlabs/ragd/internal/reranker"
	"github.com/fyrsmithlabs/ragd/internal/retrieval"
	"github.com/fyrsmithlabs/ragd/internal/secrets"
	"github.com/fyrsmithlabs/ragd/internal/services"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const mongoConnectTimeout = 10 * time.Second

// app holds every long-lived dependency of the server process.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	mongo     *mongo.Client
	embedder  embeddings.Provider
	generator *generation.Guarded
	index     vectorstore.Index
	queue     *queue.Client
	worker    *queue.Worker
	core      *services.Core
}

// newApp builds the object graph described by cfg. Close releases it.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.telemetry, err = telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, err
	}
	if a.logger, err = newLogger(cfg); err != nil {
		return nil, err
	}
	zl := a.logger.Underlying()

	if a.index, err = openIndex(ctx, cfg.Storage, zl.Named("vectorstore")); err != nil {
		return nil, fmt.Errorf("creating vector index: %w", err)
	}

	conversations, statuses, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	a.embedder, err = embeddings.NewProvider(ctx, embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		Dimension: cfg.Embeddings.Dimension,
		BatchSize: cfg.Embeddings.BatchSize,
	}, zl.Named("embeddings"))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	if !embeddings.IsConfigured(a.embedder) {
		a.logger.Warn(ctx, "no embedding provider configured; ingestion and retrieval are unavailable")
	}

	if a.generator, err = newGenerator(ctx, cfg.Generation, zl.Named("generation")); err != nil {
		return nil, err
	}

	rr, err := reranker.New(cfg.Retrieval.Reranker)
	if err != nil {
		return nil, err
	}
	retriever, err := retrieval.New(a.embedder, a.index, rr, zl.Named("retrieval"))
	if err != nil {
		return nil, err
	}

	var pipelineOpts []ingestion.Option
	if cfg.Secrets.Enabled {
		scrubber, err := secrets.New(secrets.Config{
			Replacement: cfg.Secrets.Replacement,
			AllowList:   cfg.Secrets.AllowList,
			Gitleaks:    cfg.Secrets.Gitleaks,
		})
		if err != nil {
			return nil, fmt.Errorf("creating secret scrubber: %w", err)
		}
		pipelineOpts = append(pipelineOpts, ingestion.WithScrubber(scrubber))
	}
	pipeline, err := ingestion.NewPipeline(ingestion.Config{
		ChunkSize:        cfg.Chunking.Size,
		ChunkOverlap:     cfg.Chunking.Overlap,
		MinContentLength: cfg.Chunking.MinContentLength,
	}, a.embedder, a.index, statuses, extract.NewRegistry(zl.Named("extract")), a.logger, pipelineOpts...)
	if err != nil {
		return nil, err
	}

	orchestrator, err := chat.New(chat.Config{
		TopK:              cfg.Retrieval.TopK,
		TopN:              cfg.Retrieval.TopN,
		HistoryMessages:   cfg.Conversation.HistoryMessages,
		GenerationTimeout: cfg.Generation.Timeout.Duration(),
		MaxTokens:         cfg.Generation.MaxTokens,
	}, retriever, a.generator, conversations, a.logger)
	if err != nil {
		return nil, err
	}

	opts := services.Options{
		Pipeline:  pipeline,
		Retriever: retriever,
		Chat:      orchestrator,
		Tenants:   tenant.NewManager(a.index, conversations, statuses, a.logger),
		Logger:    a.logger,
	}
	if cfg.Queue.Enabled {
		redis := queue.RedisConfig{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword.Value(),
			DB:       cfg.Queue.RedisDB,
		}
		a.queue, err = queue.NewClient(redis, queue.TaskOptions{
			Queue:    cfg.Queue.Name,
			MaxRetry: cfg.Queue.MaxRetry,
			Timeout:  cfg.Queue.TaskTimeout.Duration(),
		}, a.logger.Named("queue"))
		if err != nil {
			return nil, err
		}
		opts.Enqueuer = a.queue
	}
	if a.core, err = services.NewCore(opts); err != nil {
		return nil, err
	}

	if cfg.Queue.Enabled {
		a.worker, err = queue.NewWorker(queue.WorkerConfig{
			Redis: queue.RedisConfig{
				Addr:     cfg.Queue.RedisAddr,
				Password: cfg.Queue.RedisPassword.Value(),
				DB:       cfg.Queue.RedisDB,
			},
			Queue:       cfg.Queue.Name,
			Concurrency: cfg.Queue.Concurrency,
		}, queue.NewProcessor(a.core, a.logger.Named("worker"), queue.WithUploadRoot(cfg.Server.UploadDir)), a.logger)
		if err != nil {
			return nil, err
		}
	}

	a.logger.Info(ctx, "ragd initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("generation", cfg.Generation.Provider),
		zap.String("reranker", cfg.Retrieval.Reranker),
		zap.Bool("secret_redaction", cfg.Secrets.Enabled),
		zap.Bool("queue", cfg.Queue.Enabled),
		zap.Bool("telemetry", a.telemetry.IsEnabled()),
	)
	return a, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := logging.FromAppConfig(cfg.Logging, version)
	if err != nil {
		return nil, err
	}
	if lc.Output.OTEL {
		return logging.NewLogger(lc, global.GetLoggerProvider())
	}
	return logging.NewLogger(lc, nil)
}

func newGenerator(ctx context.Context, gc config.GenerationConfig, logger *zap.Logger) (*generation.Guarded, error) {
	gen, err := generation.NewGenerator(ctx, generation.ProviderConfig{
		Provider:    gc.Provider,
		Model:       gc.Model,
		BaseURL:     gc.BaseURL,
		APIKey:      gc.APIKey.Value(),
		Temperature: gc.Temperature,
		MaxTokens:   gc.MaxTokens,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}
	return generation.NewGuarded(gen, generation.GuardConfig{
		Name:        gc.Provider,
		RateLimit:   gc.RateLimit,
		Burst:       gc.Burst,
		Failures:    uint32(gc.BreakerFailures),
		OpenTimeout: gc.BreakerTimeout.Duration(),
		Model:       gc.Model,
	}, logger), nil
}

// openStores returns the conversation and document status stores for the
// configured backend.
func (a *app) openStores(ctx context.Context) (conversation.Store, ingestion.StatusStore, error) {
	sc := a.cfg.Storage
	if sc.Backend != "mongo" {
		return conversation.NewMemoryStore(), ingestion.NewMemoryStatusStore(), nil
	}

	cctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(cctx, options.Client().ApplyURI(sc.MongoURI.Value()))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	a.mongo = client
	if err := client.Ping(cctx, nil); err != nil {
		return nil, nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(sc.Database)
	zl := a.logger.Underlying()
	conversations := conversation.NewMongoStore(db, zl.Named("conversation"))
	statuses := ingestion.NewMongoStatusStore(db, zl.Named("status"))
	if err := conversations.EnsureIndexes(cctx); err != nil {
		return nil, nil, fmt.Errorf("creating conversation indexes: %w", err)
	}
	if err := statuses.EnsureIndexes(cctx); err != nil {
		return nil, nil, fmt.Errorf("creating status indexes: %w", err)
	}
	a.logger.Info(ctx, "connected to MongoDB", zap.String("database", sc.Database))
	return conversations, statuses, nil
}

// Close releases every dependency that was opened, in reverse order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.queue != nil {
		errs = append(errs, a.queue.Close())
	}
	if a.generator != nil {
		errs = append(errs, a.generator.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.mongo != nil {
		errs = append(errs, a.mongo.Disconnect(ctx))
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

func openIndex(ctx context.Context, sc config.StorageConfig, logger *zap.Logger) (vectorstore.Index, error) {
	if sc.Index == "chromem" {
		idx, err := vectorstore.NewChromemIndex(ctx, vectorstore.ChromemConfig{
			Path:     sc.IndexPath,
			Compress: sc.IndexCompress,
		}, logger)
		if err != nil {
			return nil, err
		}
		return idx, nil
	}
	idx, err := vectorstore.NewMemoryIndex(vectorstore.MemoryConfig{}, logger)
	if err != nil {
		return nil, err
	}
	return idx, nil
}
