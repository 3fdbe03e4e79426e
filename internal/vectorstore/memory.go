package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// timeNow is a variable for testing purposes.
var timeNow = time.Now

var memoryTracer = otel.Tracer("ragd.vectorstore.memory")

// MemoryConfig configures a MemoryIndex.
type MemoryConfig struct {
	// Dimension, when non-zero, is required of every vector. When zero, each
	// tenant adopts the dimension of its first inserted chunk.
	Dimension int
}

// Validate checks the configuration.
func (c MemoryConfig) Validate() error {
	if c.Dimension < 0 {
		return fmt.Errorf("%w: dimension must not be negative", ErrInvalidArgument)
	}
	return nil
}

// MemoryIndex is an in-process Index with exact cosine search.
type MemoryIndex struct {
	mu        sync.RWMutex // guards tenants and closed
	tenants   map[string]*tenantIndex
	closed    bool
	dimension int
	logger    *zap.Logger
}

type tenantIndex struct {
	mu         sync.RWMutex
	chunks     []Chunk // insertion order
	dimension  int
	dropped    bool
	createdAt  time.Time
	modifiedAt time.Time
}

// NewMemoryIndex creates an empty index.
func NewMemoryIndex(cfg MemoryConfig, logger *zap.Logger) (*MemoryIndex, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryIndex{
		tenants:   make(map[string]*tenantIndex),
		dimension: cfg.Dimension,
		logger:    logger,
	}, nil
}

// tenant returns the tenant's index, creating it when create is set.
func (m *MemoryIndex) tenant(tenantID string, create bool) (*tenantIndex, bool, error) {
	m.mu.RLock()
	ti, ok := m.tenants[tenantID]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, false, ErrClosed
	}
	if ok || !create {
		return ti, false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	if ti, ok = m.tenants[tenantID]; ok {
		return ti, false, nil
	}
	now := timeNow()
	ti = &tenantIndex{dimension: m.dimension, createdAt: now, modifiedAt: now}
	m.tenants[tenantID] = ti
	TenantIndexes.Inc()
	return ti, true, nil
}

// EnsureTenant implements Index.
func (m *MemoryIndex) EnsureTenant(ctx context.Context, tenantID string) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	_, created, err := m.tenant(tenantID, true)
	if err != nil {
		return err
	}
	if created {
		m.logger.Debug("created tenant index",
			zap.String("tenant_id", tenantID),
			zap.String("collection", CollectionName(tenantID)))
	}
	return nil
}

// Insert implements Index.
func (m *MemoryIndex) Insert(ctx context.Context, tenantID string, chunks []Chunk) error {
	_, err := m.write(ctx, "insert", tenantID, "", chunks)
	return err
}

// ReplaceDocument implements Index.
func (m *MemoryIndex) ReplaceDocument(ctx context.Context, tenantID, documentID string, chunks []Chunk) (int, error) {
	if documentID == "" {
		return 0, fmt.Errorf("%w: document id is required", ErrInvalidArgument)
	}
	for _, c := range chunks {
		if c.DocumentID != documentID {
			return 0, fmt.Errorf("%w: chunk %q belongs to document %q, not %q",
				ErrInvalidArgument, c.ID, c.DocumentID, documentID)
		}
	}
	return m.write(ctx, "replace_document", tenantID, documentID, chunks)
}

// write appends chunks, first removing removeDoc's chunks when it is set,
// all under one tenant write lock.
func (m *MemoryIndex) write(ctx context.Context, op, tenantID, removeDoc string, chunks []Chunk) (removed int, err error) {
	_, span := memoryTracer.Start(ctx, "vectorstore."+op, trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.Int("chunks.count", len(chunks)),
	))
	defer func() {
		recordOp(op, err)
		endSpan(span, err)
	}()

	if err = checkTenant(tenantID); err != nil {
		return 0, err
	}
	batch, dim, err := m.prepare(tenantID, chunks)
	if err != nil {
		return 0, err
	}

	for {
		ti, _, err := m.tenant(tenantID, true)
		if err != nil {
			return 0, err
		}

		ti.mu.Lock()
		if ti.dropped {
			// Deleted between lookup and lock; recreate.
			ti.mu.Unlock()
			continue
		}
		if removeDoc != "" {
			removed = ti.removeDocument(removeDoc)
		}
		if len(ti.chunks) == 0 && m.dimension == 0 {
			ti.dimension = 0
		}
		if dim > 0 && ti.dimension != 0 && dim != ti.dimension {
			ti.mu.Unlock()
			return 0, fmt.Errorf("%w: tenant %q expects %d, got %d",
				ErrDimensionMismatch, tenantID, ti.dimension, dim)
		}
		if dim > 0 {
			ti.dimension = dim
		}
		ti.chunks = append(ti.chunks, batch...)
		ti.modifiedAt = timeNow()
		ti.mu.Unlock()

		IndexedChunks.Add(float64(len(batch) - removed))
		m.logger.Debug("indexed chunks",
			zap.String("tenant_id", tenantID),
			zap.String("op", op),
			zap.Int("added", len(batch)),
			zap.Int("removed", removed))
		return removed, nil
	}
}

// prepare validates chunks and returns defensive copies stamped with the
// tenant, plus the batch's common dimension.
func (m *MemoryIndex) prepare(tenantID string, chunks []Chunk) ([]Chunk, int, error) {
	dim := 0
	now := timeNow()
	batch := make([]Chunk, len(chunks))
	for i, c := range chunks {
		if len(c.Vector) == 0 {
			return nil, 0, fmt.Errorf("%w: chunk %d has no vector", ErrInvalidArgument, i)
		}
		if c.TenantID != "" && c.TenantID != tenantID {
			return nil, 0, fmt.Errorf("%w: chunk %d belongs to tenant %q", ErrInvalidArgument, i, c.TenantID)
		}
		if dim == 0 {
			dim = len(c.Vector)
		} else if len(c.Vector) != dim {
			return nil, 0, fmt.Errorf("%w: chunk %d has %d dimensions, batch has %d",
				ErrDimensionMismatch, i, len(c.Vector), dim)
		}
		if m.dimension != 0 && dim != m.dimension {
			return nil, 0, fmt.Errorf("%w: index expects %d, got %d", ErrDimensionMismatch, m.dimension, dim)
		}

		cp := c.clone()
		cp.TenantID = tenantID
		if cp.ID == "" {
			cp.ID = ChunkID(cp.DocumentID, cp.ChunkIndex)
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		batch[i] = cp
	}
	return batch, dim, nil
}

// removeDocument drops documentID's chunks keeping the order of the rest.
// Caller holds ti.mu.
func (ti *tenantIndex) removeDocument(documentID string) int {
	kept := ti.chunks[:0]
	for _, c := range ti.chunks {
		if c.DocumentID != documentID {
			kept = append(kept, c)
		}
	}
	removed := len(ti.chunks) - len(kept)
	// Release references held by the tail.
	clear(ti.chunks[len(kept):])
	ti.chunks = kept
	return removed
}

type candidate struct {
	pos   int
	score float64
}

// Search implements Index.
func (m *MemoryIndex) Search(ctx context.Context, tenantID string, query []float32, topK int) (hits []Hit, err error) {
	_, span := memoryTracer.Start(ctx, "vectorstore.search", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.Int("top_k", topK),
	))
	start := time.Now()
	defer func() {
		SearchDuration.Observe(time.Since(start).Seconds())
		recordOp("search", err)
		span.SetAttributes(attribute.Int("hits.count", len(hits)))
		endSpan(span, err)
	}()

	if err = checkTenant(tenantID); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidArgument, topK)
	}
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidArgument)
	}

	ti, _, err := m.tenant(tenantID, false)
	if err != nil {
		return nil, err
	}
	if ti == nil {
		return []Hit{}, nil
	}

	ti.mu.RLock()
	defer ti.mu.RUnlock()

	if len(ti.chunks) == 0 {
		return []Hit{}, nil
	}
	if ti.dimension != 0 && len(query) != ti.dimension {
		return nil, fmt.Errorf("%w: tenant %q expects %d, got %d",
			ErrDimensionMismatch, tenantID, ti.dimension, len(query))
	}

	cands := make([]candidate, len(ti.chunks))
	for i := range ti.chunks {
		cands[i] = candidate{pos: i, score: Cosine(query, ti.chunks[i].Vector)}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})
	if len(cands) > topK {
		cands = cands[:topK]
	}

	hits = make([]Hit, len(cands))
	for i, cd := range cands {
		c := ti.chunks[cd.pos]
		hits[i] = Hit{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			Text:       c.Text,
			Score:      cd.score,
			Rank:       i + 1,
			Metadata:   cloneMetadata(c.Metadata),
		}
	}
	return hits, nil
}

// DeleteByDocument implements Index.
func (m *MemoryIndex) DeleteByDocument(ctx context.Context, tenantID, documentID string) (removed int, err error) {
	_, span := memoryTracer.Start(ctx, "vectorstore.delete_document", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("document.id", documentID),
	))
	defer func() {
		recordOp("delete_document", err)
		endSpan(span, err)
	}()

	if err = checkTenant(tenantID); err != nil {
		return 0, err
	}
	if documentID == "" {
		return 0, fmt.Errorf("%w: document id is required", ErrInvalidArgument)
	}
	ti, _, err := m.tenant(tenantID, false)
	if err != nil || ti == nil {
		return 0, err
	}

	ti.mu.Lock()
	removed = ti.removeDocument(documentID)
	if removed > 0 {
		ti.modifiedAt = timeNow()
	}
	ti.mu.Unlock()

	IndexedChunks.Sub(float64(removed))
	span.SetAttributes(attribute.Int("chunks.removed", removed))
	return removed, nil
}

// DeleteTenant implements Index.
func (m *MemoryIndex) DeleteTenant(ctx context.Context, tenantID string) (err error) {
	_, span := memoryTracer.Start(ctx, "vectorstore.delete_tenant", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
	))
	defer func() {
		recordOp("delete_tenant", err)
		endSpan(span, err)
	}()

	if err = checkTenant(tenantID); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	ti, ok := m.tenants[tenantID]
	delete(m.tenants, tenantID)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	ti.mu.Lock()
	n := len(ti.chunks)
	ti.chunks = nil
	ti.dropped = true
	ti.mu.Unlock()

	TenantIndexes.Dec()
	IndexedChunks.Sub(float64(n))
	m.logger.Info("deleted tenant index",
		zap.String("tenant_id", tenantID),
		zap.Int("chunks", n))
	return nil
}

// Stats implements Index.
func (m *MemoryIndex) Stats(ctx context.Context, tenantID string) (TenantStats, error) {
	if err := checkTenant(tenantID); err != nil {
		return TenantStats{}, err
	}
	ti, _, err := m.tenant(tenantID, false)
	if err != nil {
		return TenantStats{}, err
	}
	if ti == nil {
		return TenantStats{}, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}

	ti.mu.RLock()
	defer ti.mu.RUnlock()
	if ti.dropped {
		return TenantStats{}, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	docs := make(map[string]struct{})
	for _, c := range ti.chunks {
		docs[c.DocumentID] = struct{}{}
	}
	return TenantStats{
		TenantID:   tenantID,
		Chunks:     len(ti.chunks),
		Documents:  len(docs),
		Dimension:  ti.dimension,
		CreatedAt:  ti.createdAt,
		ModifiedAt: ti.modifiedAt,
	}, nil
}

// Tenants implements Index.
func (m *MemoryIndex) Tenants(ctx context.Context) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.tenants))
	for id := range m.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close implements Index.
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	total := 0
	for _, ti := range m.tenants {
		ti.mu.Lock()
		total += len(ti.chunks)
		ti.chunks = nil
		ti.dropped = true
		ti.mu.Unlock()
	}
	IndexedChunks.Sub(float64(total))
	TenantIndexes.Sub(float64(len(m.tenants)))
	m.tenants = nil
	m.closed = true
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// compile-time check
var _ Index = (*MemoryIndex)(nil)

// IsNotFound reports whether err means the tenant index does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTenantNotFound)
}
