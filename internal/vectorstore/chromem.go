package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("ragd.vectorstore.chromem")

// Metadata keys written on every chromem document. User metadata is
// stored under metaPrefix.
const (
	keyKind       = "kind"
	keyDocument   = "document_id"
	keyChunkIndex = "chunk_index"
	keySeq        = "seq"
	keyCreatedAt  = "created_at"
	metaPrefix    = "m:"

	kindChunk    = "chunk"
	kindManifest = "manifest"
	manifestID   = "__manifest__"
)

// ChromemConfig configures a ChromemIndex.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the index in memory.
	Path string

	// Compress gzips persisted files.
	Compress bool

	// Dimension, when non-zero, is required of every vector.
	Dimension int
}

// Validate checks the configuration.
func (c ChromemConfig) Validate() error {
	if c.Dimension < 0 {
		return fmt.Errorf("%w: dimension must not be negative", ErrInvalidArgument)
	}
	return nil
}

// ChromemIndex is an Index backed by chromem-go, one collection per
// tenant. With a Path it survives restarts.
//
// chromem-go does not list documents, so each tenant collection carries a
// manifest document recording per-document chunk counts, the dimension and
// timestamps; it is excluded from searches.
type ChromemIndex struct {
	mu        sync.RWMutex // guards tenants and closed
	db        *chromem.DB
	tenants   map[string]*chromemTenant
	closed    bool
	dimension int
	logger    *zap.Logger
}

type chromemTenant struct {
	mu         sync.RWMutex
	collection *chromem.Collection
	docs       map[string]int // document id -> chunk count
	chunks     int
	dimension  int
	nextSeq    int
	stored     bool // manifest document present
	dropped    bool
	createdAt  time.Time
	modifiedAt time.Time
}

type manifest struct {
	Documents  map[string]int `json:"documents"`
	Dimension  int            `json:"dimension"`
	NextSeq    int            `json:"next_seq"`
	CreatedAt  time.Time      `json:"created_at"`
	ModifiedAt time.Time      `json:"modified_at"`
}

// NewChromemIndex opens (or creates) a chromem database and loads the
// tenant collections already in it.
func NewChromemIndex(ctx context.Context, cfg ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		if db, err = chromem.NewPersistentDB(path, cfg.Compress); err != nil {
			return nil, fmt.Errorf("opening chromem DB: %w", err)
		}
	}

	c := &ChromemIndex{
		db:        db,
		tenants:   make(map[string]*chromemTenant),
		dimension: cfg.Dimension,
		logger:    logger,
	}
	if err := c.load(ctx); err != nil {
		return nil, err
	}

	logger.Info("chromem index opened",
		zap.String("path", cfg.Path),
		zap.Bool("compress", cfg.Compress),
		zap.Int("tenants", len(c.tenants)))
	return c, nil
}

func expandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return filepath.Clean(path), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[2:]), nil
}

// noEmbedding is installed on every collection: vectors always come from
// the caller.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem index does not embed text")
}

func tenantFromCollection(name string) (string, bool) {
	id, ok := strings.CutPrefix(name, "tenant_")
	if !ok {
		return "", false
	}
	id, ok = strings.CutSuffix(id, "_knowledge")
	return id, ok && id != ""
}

func (c *ChromemIndex) load(ctx context.Context) error {
	now := timeNow()
	for name := range c.db.ListCollections() {
		tenantID, ok := tenantFromCollection(name)
		if !ok {
			continue
		}
		col := c.db.GetCollection(name, noEmbedding)
		if col == nil {
			continue
		}
		ct := &chromemTenant{
			collection: col,
			docs:       make(map[string]int),
			createdAt:  now,
			modifiedAt: now,
		}
		doc, err := col.GetByID(ctx, manifestID)
		if err == nil {
			var m manifest
			if err := json.Unmarshal([]byte(doc.Content), &m); err != nil {
				return fmt.Errorf("reading manifest of %s: %w", name, err)
			}
			for id, n := range m.Documents {
				ct.docs[id] = n
				ct.chunks += n
			}
			ct.dimension = m.Dimension
			ct.nextSeq = m.NextSeq
			ct.stored = true
			ct.createdAt = m.CreatedAt
			ct.modifiedAt = m.ModifiedAt
		}
		c.tenants[tenantID] = ct
		TenantIndexes.Inc()
		IndexedChunks.Add(float64(ct.chunks))
	}
	return nil
}

func (c *ChromemIndex) tenant(tenantID string, create bool) (*chromemTenant, bool, error) {
	c.mu.RLock()
	ct, ok := c.tenants[tenantID]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, false, ErrClosed
	}
	if ok || !create {
		return ct, false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, ErrClosed
	}
	if ct, ok = c.tenants[tenantID]; ok {
		return ct, false, nil
	}
	col, err := c.db.GetOrCreateCollection(CollectionName(tenantID),
		map[string]string{"tenant_id": tenantID}, noEmbedding)
	if err != nil {
		return nil, false, fmt.Errorf("creating collection for tenant %q: %w", tenantID, err)
	}
	now := timeNow()
	ct = &chromemTenant{
		collection: col,
		docs:       make(map[string]int),
		dimension:  c.dimension,
		createdAt:  now,
		modifiedAt: now,
	}
	c.tenants[tenantID] = ct
	TenantIndexes.Inc()
	return ct, true, nil
}

// EnsureTenant implements Index.
func (c *ChromemIndex) EnsureTenant(ctx context.Context, tenantID string) error {
	if err := checkTenant(tenantID); err != nil {
		return err
	}
	_, created, err := c.tenant(tenantID, true)
	if err != nil {
		return err
	}
	if created {
		c.logger.Debug("created chromem collection",
			zap.String("tenant_id", tenantID),
			zap.String("collection", CollectionName(tenantID)))
	}
	return nil
}

// Insert implements Index.
func (c *ChromemIndex) Insert(ctx context.Context, tenantID string, chunks []Chunk) error {
	_, err := c.write(ctx, "insert", tenantID, "", chunks)
	return err
}

// ReplaceDocument implements Index.
func (c *ChromemIndex) ReplaceDocument(ctx context.Context, tenantID, documentID string, chunks []Chunk) (int, error) {
	if documentID == "" {
		return 0, fmt.Errorf("%w: document id is required", ErrInvalidArgument)
	}
	for _, ch := range chunks {
		if ch.DocumentID != documentID {
			return 0, fmt.Errorf("%w: chunk %q belongs to document %q, not %q",
				ErrInvalidArgument, ch.ID, ch.DocumentID, documentID)
		}
	}
	return c.write(ctx, "replace_document", tenantID, documentID, chunks)
}

func (c *ChromemIndex) prepare(tenantID string, chunks []Chunk) ([]Chunk, int, error) {
	dim := 0
	now := timeNow()
	batch := make([]Chunk, len(chunks))
	for i, ch := range chunks {
		if len(ch.Vector) == 0 {
			return nil, 0, fmt.Errorf("%w: chunk %d has no vector", ErrInvalidArgument, i)
		}
		if norm(ch.Vector) == 0 {
			return nil, 0, fmt.Errorf("%w: chunk %d has a zero vector", ErrInvalidArgument, i)
		}
		if ch.TenantID != "" && ch.TenantID != tenantID {
			return nil, 0, fmt.Errorf("%w: chunk %d belongs to tenant %q", ErrInvalidArgument, i, ch.TenantID)
		}
		if ch.DocumentID == "" {
			return nil, 0, fmt.Errorf("%w: chunk %d has no document id", ErrInvalidArgument, i)
		}
		if dim == 0 {
			dim = len(ch.Vector)
		} else if len(ch.Vector) != dim {
			return nil, 0, fmt.Errorf("%w: chunk %d has %d dimensions, batch has %d",
				ErrDimensionMismatch, i, len(ch.Vector), dim)
		}
		if c.dimension != 0 && dim != c.dimension {
			return nil, 0, fmt.Errorf("%w: index expects %d, got %d", ErrDimensionMismatch, c.dimension, dim)
		}
		cp := ch.clone()
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

func (c *ChromemIndex) write(ctx context.Context, op, tenantID, removeDoc string, chunks []Chunk) (removed int, err error) {
	ctx, span := chromemTracer.Start(ctx, "vectorstore."+op, trace.WithAttributes(
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
	batch, dim, err := c.prepare(tenantID, chunks)
	if err != nil {
		return 0, err
	}

	for {
		ct, _, err := c.tenant(tenantID, true)
		if err != nil {
			return 0, err
		}
		ct.mu.Lock()
		if ct.dropped {
			ct.mu.Unlock()
			continue
		}
		before := ct.chunks
		removed, err = c.writeLocked(ctx, ct, removeDoc, batch, dim)
		delta := ct.chunks - before
		ct.mu.Unlock()
		IndexedChunks.Add(float64(delta))
		if err != nil {
			return 0, err
		}
		c.logger.Debug("indexed chunks",
			zap.String("tenant_id", tenantID),
			zap.String("op", op),
			zap.Int("added", len(batch)),
			zap.Int("removed", removed))
		return removed, nil
	}
}

// writeLocked applies one write. Caller holds ct.mu.
func (c *ChromemIndex) writeLocked(ctx context.Context, ct *chromemTenant, removeDoc string, batch []Chunk, dim int) (int, error) {
	removed := 0
	if removeDoc != "" {
		n, err := c.removeDocument(ctx, ct, removeDoc)
		if err != nil {
			return 0, err
		}
		removed = n
	}
	if ct.chunks == 0 && c.dimension == 0 {
		ct.dimension = 0
	}
	if dim > 0 && ct.dimension != 0 && dim != ct.dimension {
		return 0, fmt.Errorf("%w: expects %d, got %d", ErrDimensionMismatch, ct.dimension, dim)
	}

	// chromem overwrites a document whose id is already present, so the
	// previous owner of each such id loses a chunk.
	overwritten := make(map[string]int)
	inBatch := make(map[string]string, len(batch))
	docs := make([]chromem.Document, len(batch))
	for i, ch := range batch {
		if prev, ok := inBatch[ch.ID]; ok {
			overwritten[prev]++
		} else if old, err := ct.collection.GetByID(ctx, ch.ID); err == nil {
			overwritten[old.Metadata[keyDocument]]++
		}
		inBatch[ch.ID] = ch.DocumentID
		docs[i] = toChromemDocument(ch, ct.nextSeq+i)
	}
	if len(docs) == 0 {
		ct.modifiedAt = timeNow()
		return removed, c.saveManifest(ctx, ct)
	}
	if err := ct.collection.AddDocuments(ctx, docs, 1); err != nil {
		ids := make([]string, len(docs))
		for i := range docs {
			ids[i] = docs[i].ID
		}
		if derr := ct.collection.Delete(ctx, nil, nil, ids...); derr != nil {
			c.logger.Error("rolling back partial chromem insert failed", zap.Error(derr))
		}
		return 0, fmt.Errorf("adding documents: %w", err)
	}

	if dim > 0 {
		ct.dimension = dim
	}
	ct.nextSeq += len(batch)
	for _, ch := range batch {
		ct.docs[ch.DocumentID]++
	}
	for doc, n := range overwritten {
		ct.docs[doc] -= n
	}
	ct.chunks = sumCounts(ct.docs)
	ct.modifiedAt = timeNow()
	return removed, c.saveManifest(ctx, ct)
}

// removeDocument deletes documentID's chunks. Caller holds ct.mu.
func (c *ChromemIndex) removeDocument(ctx context.Context, ct *chromemTenant, documentID string) (int, error) {
	n := ct.docs[documentID]
	if n == 0 {
		return 0, nil
	}
	where := map[string]string{keyKind: kindChunk, keyDocument: documentID}
	if err := ct.collection.Delete(ctx, where, nil); err != nil {
		return 0, fmt.Errorf("deleting document %q: %w", documentID, err)
	}
	delete(ct.docs, documentID)
	ct.chunks -= n
	ct.modifiedAt = timeNow()
	return n, nil
}

func sumCounts(docs map[string]int) int {
	total := 0
	for id, n := range docs {
		if n <= 0 {
			delete(docs, id)
			continue
		}
		total += n
	}
	return total
}

// saveManifest writes the tenant's manifest document, or removes it when
// the tenant is empty. Caller holds ct.mu.
func (c *ChromemIndex) saveManifest(ctx context.Context, ct *chromemTenant) error {
	if ct.chunks == 0 {
		if !ct.stored {
			return nil
		}
		if err := ct.collection.Delete(ctx, nil, nil, manifestID); err != nil {
			return fmt.Errorf("removing manifest: %w", err)
		}
		ct.stored = false
		return nil
	}
	body, err := json.Marshal(manifest{
		Documents:  ct.docs,
		Dimension:  ct.dimension,
		NextSeq:    ct.nextSeq,
		CreatedAt:  ct.createdAt,
		ModifiedAt: ct.modifiedAt,
	})
	if err != nil {
		return err
	}
	unit := make([]float32, ct.dimension)
	unit[0] = 1
	err = ct.collection.AddDocument(ctx, chromem.Document{
		ID:        manifestID,
		Content:   string(body),
		Metadata:  map[string]string{keyKind: kindManifest},
		Embedding: unit,
	})
	if err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	ct.stored = true
	return nil
}

func toChromemDocument(ch Chunk, seq int) chromem.Document {
	meta := make(map[string]string, len(ch.Metadata)+5)
	for k, v := range ch.Metadata {
		meta[metaPrefix+k] = v
	}
	meta[keyKind] = kindChunk
	meta[keyDocument] = ch.DocumentID
	meta[keyChunkIndex] = strconv.Itoa(ch.ChunkIndex)
	meta[keySeq] = strconv.Itoa(seq)
	meta[keyCreatedAt] = ch.CreatedAt.UTC().Format(time.RFC3339Nano)
	return chromem.Document{
		ID:        ch.ID,
		Content:   ch.Text,
		Metadata:  meta,
		Embedding: append([]float32(nil), ch.Vector...),
	}
}

type chromemHit struct {
	hit Hit
	seq int
}

func fromChromemResult(r chromem.Result) chromemHit {
	var meta map[string]string
	for k, v := range r.Metadata {
		if key, ok := strings.CutPrefix(k, metaPrefix); ok {
			if meta == nil {
				meta = make(map[string]string)
			}
			meta[key] = v
		}
	}
	idx, _ := strconv.Atoi(r.Metadata[keyChunkIndex])
	seq, _ := strconv.Atoi(r.Metadata[keySeq])
	return chromemHit{
		hit: Hit{
			ChunkID:    r.ID,
			DocumentID: r.Metadata[keyDocument],
			ChunkIndex: idx,
			Text:       r.Content,
			Score:      float64(r.Similarity),
			Metadata:   meta,
		},
		seq: seq,
	}
}

// Search implements Index.
func (c *ChromemIndex) Search(ctx context.Context, tenantID string, query []float32, topK int) (hits []Hit, err error) {
	ctx, span := chromemTracer.Start(ctx, "vectorstore.search", trace.WithAttributes(
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

	ct, _, err := c.tenant(tenantID, false)
	if err != nil {
		return nil, err
	}
	if ct == nil {
		return []Hit{}, nil
	}

	ct.mu.RLock()
	defer ct.mu.RUnlock()

	if ct.chunks == 0 {
		return []Hit{}, nil
	}
	if ct.dimension != 0 && len(query) != ct.dimension {
		return nil, fmt.Errorf("%w: tenant %q expects %d, got %d",
			ErrDimensionMismatch, tenantID, ct.dimension, len(query))
	}

	// A zero query scores every chunk 0; query with any unit vector to
	// enumerate them.
	zero := norm(query) == 0
	q := query
	if zero {
		q = make([]float32, len(query))
		q[0] = 1
	}

	// Rank every chunk so ties resolve by insertion order, not by
	// chromem's heap order.
	results, err := ct.collection.QueryEmbedding(ctx, q, ct.chunks,
		map[string]string{keyKind: kindChunk}, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}
	ranked := make([]chromemHit, len(results))
	for i, r := range results {
		ranked[i] = fromChromemResult(r)
		if zero {
			ranked[i].hit.Score = 0
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].hit.Score != ranked[j].hit.Score {
			return ranked[i].hit.Score > ranked[j].hit.Score
		}
		return ranked[i].seq < ranked[j].seq
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	hits = make([]Hit, len(ranked))
	for i, r := range ranked {
		hits[i] = r.hit
		hits[i].Rank = i + 1
	}
	return hits, nil
}

// DeleteByDocument implements Index.
func (c *ChromemIndex) DeleteByDocument(ctx context.Context, tenantID, documentID string) (removed int, err error) {
	ctx, span := chromemTracer.Start(ctx, "vectorstore.delete_document", trace.WithAttributes(
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
	ct, _, err := c.tenant(tenantID, false)
	if err != nil || ct == nil {
		return 0, err
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()
	if ct.dropped {
		return 0, nil
	}
	if removed, err = c.removeDocument(ctx, ct, documentID); err != nil || removed == 0 {
		return 0, err
	}
	if err = c.saveManifest(ctx, ct); err != nil {
		return 0, err
	}
	IndexedChunks.Sub(float64(removed))
	span.SetAttributes(attribute.Int("chunks.removed", removed))
	return removed, nil
}

// DeleteTenant implements Index.
func (c *ChromemIndex) DeleteTenant(ctx context.Context, tenantID string) (err error) {
	_, span := chromemTracer.Start(ctx, "vectorstore.delete_tenant", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
	))
	defer func() {
		recordOp("delete_tenant", err)
		endSpan(span, err)
	}()

	if err = checkTenant(tenantID); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	ct, ok := c.tenants[tenantID]
	delete(c.tenants, tenantID)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	ct.mu.Lock()
	n := ct.chunks
	ct.dropped = true
	ct.docs = nil
	ct.chunks = 0
	err = c.db.DeleteCollection(CollectionName(tenantID))
	ct.mu.Unlock()
	if err != nil {
		return fmt.Errorf("deleting collection for tenant %q: %w", tenantID, err)
	}

	TenantIndexes.Dec()
	IndexedChunks.Sub(float64(n))
	c.logger.Info("deleted tenant index",
		zap.String("tenant_id", tenantID),
		zap.Int("chunks", n))
	return nil
}

// Stats implements Index.
func (c *ChromemIndex) Stats(ctx context.Context, tenantID string) (TenantStats, error) {
	if err := checkTenant(tenantID); err != nil {
		return TenantStats{}, err
	}
	ct, _, err := c.tenant(tenantID, false)
	if err != nil {
		return TenantStats{}, err
	}
	if ct == nil {
		return TenantStats{}, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	if ct.dropped {
		return TenantStats{}, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return TenantStats{
		TenantID:   tenantID,
		Chunks:     ct.chunks,
		Documents:  len(ct.docs),
		Dimension:  ct.dimension,
		CreatedAt:  ct.createdAt,
		ModifiedAt: ct.modifiedAt,
	}, nil
}

// Tenants implements Index.
func (c *ChromemIndex) Tenants(ctx context.Context) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.tenants))
	for id := range c.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close implements Index. Persisted data stays on disk.
func (c *ChromemIndex) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	total := 0
	for _, ct := range c.tenants {
		ct.mu.Lock()
		total += ct.chunks
		ct.dropped = true
		ct.mu.Unlock()
	}
	IndexedChunks.Sub(float64(total))
	TenantIndexes.Sub(float64(len(c.tenants)))
	c.tenants = nil
	c.closed = true
	return nil
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

var _ Index = (*ChromemIndex)(nil)
