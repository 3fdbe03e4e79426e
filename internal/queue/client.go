package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/logging"
)

// RedisConfig locates the Redis instance backing the queue.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) clientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.Addr, Password: c.Password, DB: c.DB}
}

// taskEnqueuer is the subset of *asynq.Client used by Client.
type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client schedules ingest tasks.
type Client struct {
	enqueuer taskEnqueuer
	opts     TaskOptions
	logger   *logging.Logger
}

// NewClient connects a Client to Redis.
func NewClient(redis RedisConfig, opts TaskOptions, logger *logging.Logger) (*Client, error) {
	if redis.Addr == "" {
		return nil, errors.New("queue: redis address is required")
	}
	return newClient(asynq.NewClient(redis.clientOpt()), opts, logger), nil
}

func newClient(e taskEnqueuer, opts TaskOptions, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{enqueuer: e, opts: opts.withDefaults(), logger: logger}
}

// EnqueueIngestFile schedules req and returns the task id.
func (c *Client) EnqueueIngestFile(ctx context.Context, req ingestion.FileRequest) (string, error) {
	task, err := NewIngestFileTask(req, c.opts)
	if err != nil {
		return "", err
	}
	info, err := c.enqueuer.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueueing %s: %w", TypeIngestFile, err)
	}
	c.logger.Info(ctx, "ingest task enqueued",
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
		zap.String("tenant_id", req.TenantID),
		zap.String("document_id", req.DocumentID),
	)
	return info.ID, nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.enqueuer.Close()
}
