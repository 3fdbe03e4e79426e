package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is a document's processing state. Transitions only move forward:
// uploading -> processing -> completed | failed. A retry starts a new
// processing attempt.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s ends an attempt.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

var (
	// ErrDocumentNotFound is returned by StatusStore.Get for unknown documents.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrStaleAttempt is returned when Complete or Fail targets an attempt
	// that is no longer the current processing attempt.
	ErrStaleAttempt = errors.New("stale ingestion attempt")
)

// DocumentStatus is the processing record of one document.
type DocumentStatus struct {
	ID          string     `bson:"_id" json:"-"`
	TenantID    string     `bson:"tenant_id" json:"tenant_id"`
	DocumentID  string     `bson:"document_id" json:"document_id"`
	Source      string     `bson:"source,omitempty" json:"source,omitempty"`
	Status      Status     `bson:"status" json:"status"`
	Attempt     int        `bson:"attempt" json:"attempt"`
	ChunkCount  int        `bson:"chunk_count" json:"chunk_count"`
	Preview     string     `bson:"preview,omitempty" json:"preview,omitempty"`
	Error       string     `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
	ProcessedAt *time.Time `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

// StatusStore records document processing state.
type StatusStore interface {
	// MarkUploading records a document accepted for later processing.
	// It does not move a document that is already processing.
	MarkUploading(ctx context.Context, tenantID, documentID, source string) error
	// Begin starts a new processing attempt and returns the record.
	Begin(ctx context.Context, tenantID, documentID string) (DocumentStatus, error)
	// Complete marks attempt as completed.
	Complete(ctx context.Context, tenantID, documentID string, attempt, chunkCount int, preview string) error
	// Fail marks attempt as failed with reason.
	Fail(ctx context.Context, tenantID, documentID string, attempt int, reason string) error
	// Get returns the record or ErrDocumentNotFound.
	Get(ctx context.Context, tenantID, documentID string) (DocumentStatus, error)
	// List returns every record of tenantID, most recently updated first.
	List(ctx context.Context, tenantID string) ([]DocumentStatus, error)
	// Delete removes the record. Idempotent.
	Delete(ctx context.Context, tenantID, documentID string) error
	// DeleteTenant removes every record of tenantID.
	DeleteTenant(ctx context.Context, tenantID string) (int, error)
}

func statusKey(tenantID, documentID string) string {
	return tenantID + "/" + documentID
}

var timeNow = func() time.Time { return time.Now().UTC() }

// MemoryStatusStore keeps statuses in process memory.
type MemoryStatusStore struct {
	mu   sync.Mutex
	docs map[string]*DocumentStatus
}

// NewMemoryStatusStore creates an empty store.
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{docs: make(map[string]*DocumentStatus)}
}

// MarkUploading implements StatusStore.
func (s *MemoryStatusStore) MarkUploading(_ context.Context, tenantID, documentID, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := timeNow()
	key := statusKey(tenantID, documentID)
	d, ok := s.docs[key]
	if !ok {
		s.docs[key] = &DocumentStatus{
			ID: key, TenantID: tenantID, DocumentID: documentID, Source: source,
			Status: StatusUploading, CreatedAt: now, UpdatedAt: now,
		}
		return nil
	}
	if d.Status == StatusProcessing {
		return nil
	}
	d.Status = StatusUploading
	d.Source = source
	d.Error = ""
	d.UpdatedAt = now
	return nil
}

// Begin implements StatusStore.
func (s *MemoryStatusStore) Begin(_ context.Context, tenantID, documentID string) (DocumentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := timeNow()
	key := statusKey(tenantID, documentID)
	d, ok := s.docs[key]
	if !ok {
		d = &DocumentStatus{ID: key, TenantID: tenantID, DocumentID: documentID, CreatedAt: now}
		s.docs[key] = d
	}
	d.Attempt++
	d.Status = StatusProcessing
	d.Error = ""
	d.UpdatedAt = now
	return *d, nil
}

func (s *MemoryStatusStore) current(tenantID, documentID string, attempt int) (*DocumentStatus, error) {
	d, ok := s.docs[statusKey(tenantID, documentID)]
	if !ok || d.Attempt != attempt || d.Status != StatusProcessing {
		return nil, fmt.Errorf("%w: %s attempt %d", ErrStaleAttempt, documentID, attempt)
	}
	return d, nil
}

// Complete implements StatusStore.
func (s *MemoryStatusStore) Complete(_ context.Context, tenantID, documentID string, attempt, chunkCount int, preview string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.current(tenantID, documentID, attempt)
	if err != nil {
		return err
	}
	now := timeNow()
	d.Status = StatusCompleted
	d.ChunkCount = chunkCount
	d.Preview = preview
	d.UpdatedAt = now
	d.ProcessedAt = &now
	return nil
}

// Fail implements StatusStore.
func (s *MemoryStatusStore) Fail(_ context.Context, tenantID, documentID string, attempt int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.current(tenantID, documentID, attempt)
	if err != nil {
		return err
	}
	d.Status = StatusFailed
	d.Error = reason
	d.UpdatedAt = timeNow()
	return nil
}

// Get implements StatusStore.
func (s *MemoryStatusStore) Get(_ context.Context, tenantID, documentID string) (DocumentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[statusKey(tenantID, documentID)]
	if !ok {
		return DocumentStatus{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
	}
	return *d, nil
}

// List implements StatusStore.
func (s *MemoryStatusStore) List(_ context.Context, tenantID string) ([]DocumentStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DocumentStatus, 0)
	for _, d := range s.docs {
		if d.TenantID == tenantID {
			out = append(out, *d)
		}
	}
	sortStatuses(out)
	return out, nil
}

func sortStatuses(docs []DocumentStatus) {
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
		}
		return docs[i].DocumentID < docs[j].DocumentID
	})
}

// Delete implements StatusStore.
func (s *MemoryStatusStore) Delete(_ context.Context, tenantID, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, statusKey(tenantID, documentID))
	return nil
}

// DeleteTenant implements StatusStore.
func (s *MemoryStatusStore) DeleteTenant(_ context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, d := range s.docs {
		if d.TenantID == tenantID {
			delete(s.docs, k)
			n++
		}
	}
	return n, nil
}

// IsNotFound reports whether err is a missing document status.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDocumentNotFound)
}
