// Package queue runs file ingestion on background workers backed by
// asynq and Redis.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fyrsmithlabs/ragd/internal/ingestion"
)

// TypeIngestFile is the task type for extracting and indexing an uploaded file.
const TypeIngestFile = "ingest:file"

// Defaults for task options.
const (
	DefaultQueue    = "ingestion"
	DefaultMaxRetry = 3
	DefaultTimeout  = 5 * time.Minute
)

// IngestFilePayload is the JSON body of an ingest:file task.
type IngestFilePayload struct {
	TenantID   string            `json:"tenant_id"`
	DocumentID string            `json:"document_id"`
	Path       string            `json:"path"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Replace    bool              `json:"replace,omitempty"`
}

// Request converts p back into a pipeline request.
func (p IngestFilePayload) Request() ingestion.FileRequest {
	return ingestion.FileRequest{
		TenantID:   p.TenantID,
		DocumentID: p.DocumentID,
		Path:       p.Path,
		Metadata:   p.Metadata,
		Replace:    p.Replace,
	}
}

// TaskOptions controls how an ingest task is scheduled.
type TaskOptions struct {
	Queue    string
	MaxRetry int
	Timeout  time.Duration
}

func (o TaskOptions) withDefaults() TaskOptions {
	if o.Queue == "" {
		o.Queue = DefaultQueue
	}
	if o.MaxRetry < 0 {
		o.MaxRetry = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// NewIngestFileTask builds an ingest:file task for req.
func NewIngestFileTask(req ingestion.FileRequest, opts TaskOptions) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestFilePayload{
		TenantID:   req.TenantID,
		DocumentID: req.DocumentID,
		Path:       req.Path,
		Metadata:   req.Metadata,
		Replace:    req.Replace,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding ingest payload: %w", err)
	}
	opts = opts.withDefaults()
	return asynq.NewTask(TypeIngestFile, payload,
		asynq.Queue(opts.Queue),
		asynq.MaxRetry(opts.MaxRetry),
		asynq.Timeout(opts.Timeout),
	), nil
}

// ParseIngestFilePayload decodes an ingest:file task body.
func ParseIngestFilePayload(t *asynq.Task) (IngestFilePayload, error) {
	var p IngestFilePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("decoding ingest payload: %w", err)
	}
	if p.TenantID == "" || p.DocumentID == "" || p.Path == "" {
		return p, fmt.Errorf("ingest payload missing tenant_id, document_id or path")
	}
	return p, nil
}
