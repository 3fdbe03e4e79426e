package vectorstore

import (
	"fmt"
	"time"
)

// Chunk is an embedded fragment of a tenant document.
type Chunk struct {
	// ID is unique within the tenant; see ChunkID.
	ID string

	TenantID   string
	DocumentID string

	// ChunkIndex is the chunk's position in its document.
	ChunkIndex int

	Text   string
	Vector []float32

	Metadata  map[string]string
	CreatedAt time.Time
}

// ChunkID builds the natural key of a chunk: document id plus position.
func ChunkID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", documentID, chunkIndex)
}

func (c Chunk) clone() Chunk {
	out := c
	out.Vector = append([]float32(nil), c.Vector...)
	out.Metadata = cloneMetadata(c.Metadata)
	return out
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Hit is one search result.
type Hit struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`

	// Score is the cosine similarity to the query, in [-1, 1].
	Score float64 `json:"score"`

	// Rank is the 1-based position in the result list.
	Rank int `json:"rank"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// TenantStats summarizes one tenant index.
type TenantStats struct {
	TenantID   string    `json:"tenant_id"`
	Chunks     int       `json:"chunks"`
	Documents  int       `json:"documents"`
	Dimension  int       `json:"dimension"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}
