package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chat"
	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/ragerr"
	"github.com/fyrsmithlabs/ragd/internal/tenant"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// ErrAsyncDisabled is returned by IngestFileAsync without an Enqueuer.
var ErrAsyncDisabled = errors.New("asynchronous ingestion is not enabled")

// Retriever finds the chunks that best answer a query.
type Retriever interface {
	Retrieve(ctx context.Context, tenantID, query string, topK, topN int) ([]vectorstore.Hit, error)
}

// Enqueuer schedules file ingestion on a background worker and returns
// the task id.
type Enqueuer interface {
	EnqueueIngestFile(ctx context.Context, req ingestion.FileRequest) (string, error)
}

// Options carries Core's collaborators. Enqueuer is optional.
type Options struct {
	Pipeline  *ingestion.Pipeline
	Retriever Retriever
	Chat      *chat.Orchestrator
	Tenants   *tenant.Manager
	Enqueuer  Enqueuer
	Logger    *logging.Logger
}

// Core is the service surface shared by the HTTP server, the worker and
// the CLI.
type Core struct {
	pipeline  *ingestion.Pipeline
	retriever Retriever
	chat      *chat.Orchestrator
	tenants   *tenant.Manager
	enqueuer  Enqueuer
	logger    *logging.Logger
}

// NewCore validates opts and creates a Core.
func NewCore(opts Options) (*Core, error) {
	switch {
	case opts.Pipeline == nil:
		return nil, errors.New("services: ingestion pipeline is required")
	case opts.Retriever == nil:
		return nil, errors.New("services: retriever is required")
	case opts.Chat == nil:
		return nil, errors.New("services: chat orchestrator is required")
	case opts.Tenants == nil:
		return nil, errors.New("services: tenant manager is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Core{
		pipeline:  opts.Pipeline,
		retriever: opts.Retriever,
		chat:      opts.Chat,
		tenants:   opts.Tenants,
		enqueuer:  opts.Enqueuer,
		logger:    opts.Logger.Named("core"),
	}, nil
}

// AsyncEnabled reports whether IngestFileAsync can schedule work.
func (c *Core) AsyncEnabled() bool { return c.enqueuer != nil }

func checkTenant(stage ragerr.Stage, op, tenantID string) error {
	if err := tenant.Validate(tenantID); err != nil {
		return ragerr.New(stage, op, err)
	}
	return nil
}

// Ingest indexes a document's text.
func (c *Core) Ingest(ctx context.Context, req ingestion.Request) (*ingestion.Result, error) {
	if err := checkTenant(ragerr.StageIngestion, "ingest", req.TenantID); err != nil {
		return nil, err
	}
	return c.pipeline.Ingest(ctx, req)
}

// IngestFile extracts and indexes a file synchronously.
func (c *Core) IngestFile(ctx context.Context, req ingestion.FileRequest) (*ingestion.Result, error) {
	if err := checkTenant(ragerr.StageIngestion, "ingest_file", req.TenantID); err != nil {
		return nil, err
	}
	return c.pipeline.IngestFile(ctx, req)
}

// IngestFileAsync records the document as uploading and hands it to the
// background worker. Returns the task id.
func (c *Core) IngestFileAsync(ctx context.Context, req ingestion.FileRequest) (string, error) {
	const op = "ingest_file_async"
	if err := checkTenant(ragerr.StageIngestion, op, req.TenantID); err != nil {
		return "", err
	}
	if c.enqueuer == nil {
		return "", ErrAsyncDisabled
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		return "", ragerr.New(ragerr.StageIngestion, op,
			fmt.Errorf("%w: document id is required", ragerr.ErrInvalidArgument))
	}
	source := req.Metadata[ingestion.MetadataSource]
	if source == "" {
		source = req.Path
	}
	if err := c.pipeline.MarkUploading(ctx, req.TenantID, req.DocumentID, source); err != nil {
		return "", err
	}
	id, err := c.enqueuer.EnqueueIngestFile(ctx, req)
	if err != nil {
		return "", ragerr.New(ragerr.StageIngestion, op, fmt.Errorf("enqueueing: %w", err))
	}
	c.logger.Info(logging.WithDocumentID(logging.WithTenantID(ctx, req.TenantID), req.DocumentID),
		"ingestion enqueued", zap.String("task_id", id))
	return id, nil
}

// DocumentStatus returns a document's processing record.
func (c *Core) DocumentStatus(ctx context.Context, tenantID, documentID string) (ingestion.DocumentStatus, error) {
	const op = "document_status"
	if err := checkTenant(ragerr.StageIngestion, op, tenantID); err != nil {
		return ingestion.DocumentStatus{}, err
	}
	st, err := c.pipeline.Status(ctx, tenantID, documentID)
	if err != nil {
		return ingestion.DocumentStatus{}, ragerr.New(ragerr.StagePersistence, op, err)
	}
	return st, nil
}

// Documents lists the tenant's document records, most recently updated first.
func (c *Core) Documents(ctx context.Context, tenantID string) ([]ingestion.DocumentStatus, error) {
	const op = "list_documents"
	if err := checkTenant(ragerr.StageIngestion, op, tenantID); err != nil {
		return nil, err
	}
	docs, err := c.pipeline.Documents(ctx, tenantID)
	if err != nil {
		return nil, ragerr.New(ragerr.StagePersistence, op, err)
	}
	return docs, nil
}

// DeleteDocument removes a document's chunks and status.
func (c *Core) DeleteDocument(ctx context.Context, tenantID, documentID string) (int, error) {
	if err := checkTenant(ragerr.StageIngestion, "delete_document", tenantID); err != nil {
		return 0, err
	}
	return c.pipeline.DeleteDocument(ctx, tenantID, documentID)
}

// Retrieve returns the topN best chunks out of the topK nearest.
func (c *Core) Retrieve(ctx context.Context, tenantID, query string, topK, topN int) ([]vectorstore.Hit, error) {
	if err := checkTenant(ragerr.StageRetrieval, "retrieve", tenantID); err != nil {
		return nil, err
	}
	return c.retriever.Retrieve(ctx, tenantID, query, topK, topN)
}

// HandleChat runs one chat turn.
func (c *Core) HandleChat(ctx context.Context, req chat.Request) (*chat.Response, error) {
	if err := checkTenant(ragerr.StageRetrieval, "chat", req.TenantID); err != nil {
		return nil, err
	}
	return c.chat.Handle(ctx, req)
}

// HandleChatStream runs one chat turn, streaming the answer.
func (c *Core) HandleChatStream(ctx context.Context, req chat.Request, onFragment chat.FragmentFunc) (*chat.Response, error) {
	if err := checkTenant(ragerr.StageRetrieval, "chat", req.TenantID); err != nil {
		return nil, err
	}
	return c.chat.HandleStream(ctx, req, onFragment)
}

// Conversations lists a tenant's conversations.
func (c *Core) Conversations(ctx context.Context, tenantID, userID string, limit int) ([]conversation.Summary, error) {
	if err := checkTenant(ragerr.StagePersistence, "list_conversations", tenantID); err != nil {
		return nil, err
	}
	return c.chat.Conversations(ctx, tenantID, userID, limit)
}

// Conversation returns one conversation with its messages.
func (c *Core) Conversation(ctx context.Context, tenantID, id string) (*conversation.Conversation, error) {
	if err := checkTenant(ragerr.StagePersistence, "get_conversation", tenantID); err != nil {
		return nil, err
	}
	return c.chat.Conversation(ctx, tenantID, id)
}

// CreateTenantIndex provisions a tenant's index. Idempotent.
func (c *Core) CreateTenantIndex(ctx context.Context, tenantID string) error {
	return c.tenants.Create(ctx, tenantID)
}

// DeleteTenantIndex removes all of a tenant's data. Idempotent.
func (c *Core) DeleteTenantIndex(ctx context.Context, tenantID string) (tenant.DeleteResult, error) {
	return c.tenants.Delete(ctx, tenantID)
}

// TenantStats reports the size of a tenant's index.
func (c *Core) TenantStats(ctx context.Context, tenantID string) (vectorstore.TenantStats, error) {
	return c.tenants.Stats(ctx, tenantID)
}
