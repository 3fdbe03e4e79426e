package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/ragerr"
	"github.com/fyrsmithlabs/ragd/internal/services"
)

func TestNewIngestFileTask(t *testing.T) {
	req := ingestion.FileRequest{
		TenantID:   "acme",
		DocumentID: "doc-1",
		Path:       "/uploads/acme/doc-1.pdf",
		Metadata:   map[string]string{"source": "handbook.pdf"},
		Replace:    true,
	}
	task, err := NewIngestFileTask(req, TaskOptions{})
	require.NoError(t, err)
	assert.Equal(t, TypeIngestFile, task.Type())

	payload, err := ParseIngestFilePayload(task)
	require.NoError(t, err)
	assert.Equal(t, req, payload.Request())
}

func TestParseIngestFilePayload_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"not json":     "{",
		"missing path": `{"tenant_id":"acme","document_id":"d"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseIngestFilePayload(asynq.NewTask(TypeIngestFile, []byte(body)))
			assert.Error(t, err)
		})
	}
}

func TestTaskOptions_Defaults(t *testing.T) {
	opts := TaskOptions{MaxRetry: -1}.withDefaults()
	assert.Equal(t, DefaultQueue, opts.Queue)
	assert.Equal(t, 0, opts.MaxRetry)
	assert.Equal(t, DefaultTimeout, opts.Timeout)
}

type recordingEnqueuer struct {
	tasks  []*asynq.Task
	err    error
	closed bool
}

func (r *recordingEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Queue: DefaultQueue, Type: task.Type()}, nil
}

func (r *recordingEnqueuer) Close() error {
	r.closed = true
	return nil
}

func TestClient_EnqueueIngestFile(t *testing.T) {
	rec := &recordingEnqueuer{}
	logs := logging.NewTestLogger()
	c := newClient(rec, TaskOptions{}, logs.Logger)

	id, err := c.EnqueueIngestFile(context.Background(), ingestion.FileRequest{
		TenantID: "acme", DocumentID: "d", Path: "/tmp/d.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
	require.Len(t, rec.tasks, 1)
	assert.Equal(t, TypeIngestFile, rec.tasks[0].Type())
	logs.AssertLogged(t, zapcore.InfoLevel, "ingest task enqueued")

	require.NoError(t, c.Close())
	assert.True(t, rec.closed)
}

func TestClient_EnqueueError(t *testing.T) {
	c := newClient(&recordingEnqueuer{err: errors.New("redis down")}, TaskOptions{}, nil)
	_, err := c.EnqueueIngestFile(context.Background(), ingestion.FileRequest{TenantID: "a", DocumentID: "d", Path: "p"})
	assert.ErrorContains(t, err, "redis down")
}

func TestNewClient_RequiresAddr(t *testing.T) {
	_, err := NewClient(RedisConfig{}, TaskOptions{}, nil)
	assert.Error(t, err)
}

type stubIngester struct {
	err   error
	calls []ingestion.FileRequest
}

func (s *stubIngester) IngestFile(_ context.Context, req ingestion.FileRequest) (*ingestion.Result, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return nil, s.err
	}
	return &ingestion.Result{TenantID: req.TenantID, DocumentID: req.DocumentID, ChunkCount: 2}, nil
}

func uploadedTask(t *testing.T) (*asynq.Task, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))
	task, err := NewIngestFileTask(ingestion.FileRequest{TenantID: "acme", DocumentID: "doc", Path: path}, TaskOptions{})
	require.NoError(t, err)
	return task, path
}

func TestProcessor(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		skipRetry bool
		removed   bool
	}{
		{"success", nil, false, true},
		{"empty content", ragerr.New(ragerr.StageIngestion, "ingest", ragerr.ErrEmptyContent), true, true},
		{"embedding unavailable", ragerr.New(ragerr.StageEmbedding, "ingest", ragerr.ErrEmbeddingUnavailable), true, true},
		{"embedding failed", ragerr.New(ragerr.StageEmbedding, "ingest", ragerr.ErrEmbeddingFailed), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task, path := uploadedTask(t)
			ing := &stubIngester{err: tt.err}
			err := NewProcessor(ing, logging.NewNop()).ProcessIngestFile(context.Background(), task)

			require.Len(t, ing.calls, 1)
			assert.Equal(t, "acme", ing.calls[0].TenantID)
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.err)
				assert.Equal(t, tt.skipRetry, errors.Is(err, asynq.SkipRetry))
			}
			if tt.removed {
				assert.NoFileExists(t, path)
			} else {
				assert.FileExists(t, path)
			}
		})
	}
}

func TestProcessor_BadPayloadSkipsRetry(t *testing.T) {
	ing := &stubIngester{}
	err := NewProcessor(ing, nil).ProcessIngestFile(context.Background(), asynq.NewTask(TypeIngestFile, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, ing.calls)
}

func TestProcessor_IngestsThroughCore(t *testing.T) {
	tc := services.NewTestCore(t, services.TestCoreOptions{})
	path := filepath.Join(t.TempDir(), "faq.md")
	require.NoError(t, os.WriteFile(path,
		[]byte("# Shipping\n\nOrders ship within two business days from our warehouse."), 0o600))

	task, err := NewIngestFileTask(ingestion.FileRequest{
		TenantID: "acme", DocumentID: "faq", Path: path,
		Metadata: map[string]string{"source": "faq.md"},
	}, TaskOptions{})
	require.NoError(t, err)

	require.NoError(t, NewProcessor(tc.Core, tc.Logs.Logger).ProcessIngestFile(context.Background(), task))
	st, err := tc.DocumentStatus(context.Background(), "acme", "faq")
	require.NoError(t, err)
	assert.Equal(t, ingestion.StatusCompleted, st.Status)
	assert.NoFileExists(t, path)
	tc.Logs.AssertLogged(t, zapcore.InfoLevel, "ingest task completed")
}

func TestProcessor_Handler(t *testing.T) {
	task, _ := uploadedTask(t)
	ing := &stubIngester{}
	require.NoError(t, NewProcessor(ing, nil).Handler().ProcessTask(context.Background(), task))
	assert.Len(t, ing.calls, 1)
}

func TestNewWorker_Validation(t *testing.T) {
	_, err := NewWorker(WorkerConfig{}, NewProcessor(&stubIngester{}, nil), nil)
	assert.Error(t, err)
	_, err = NewWorker(WorkerConfig{Redis: RedisConfig{Addr: "localhost:6379"}}, nil, nil)
	assert.Error(t, err)
}

func TestProcessor_RejectsPathOutsideUploadRoot(t *testing.T) {
	task, path := uploadedTask(t)
	ing := &stubIngester{}
	p := NewProcessor(ing, nil, WithUploadRoot(t.TempDir()))

	err := p.ProcessIngestFile(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, ing.calls)
	assert.FileExists(t, path)

	inside := NewProcessor(ing, nil, WithUploadRoot(filepath.Dir(path)))
	require.NoError(t, inside.ProcessIngestFile(context.Background(), task))
	assert.Len(t, ing.calls, 1)
}
