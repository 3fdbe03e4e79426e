package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/ragd/internal/ragerr"
)

var (
	// ErrTenantNotFound is returned by operations that require an existing
	// tenant index, such as Stats. Search on an absent tenant is not an
	// error; it returns no hits.
	ErrTenantNotFound = ragerr.ErrTenantNotFound

	// ErrInvalidArgument indicates malformed input such as an empty tenant
	// id, a non-positive topK or an empty vector.
	ErrInvalidArgument = ragerr.ErrInvalidArgument

	// ErrDimensionMismatch indicates a vector whose dimension differs from
	// the dimension already established for the tenant.
	// It also matches ErrInvalidArgument.
	ErrDimensionMismatch = fmt.Errorf("%w: vector dimension mismatch", ErrInvalidArgument)

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("index closed")
)

// Index is the per-tenant vector index contract.
//
// Implementations must guarantee:
//   - tenant isolation: no operation reads or writes another tenant's data
//   - batch atomicity: a concurrent Search observes none or all of an
//     Insert batch
//   - deterministic ordering: hits are sorted by descending score, ties
//     broken by insertion order
type Index interface {
	// EnsureTenant creates the tenant's index if absent. Idempotent.
	EnsureTenant(ctx context.Context, tenantID string) error

	// Insert appends chunks to the tenant's index as one step, creating the
	// tenant if needed.
	Insert(ctx context.Context, tenantID string, chunks []Chunk) error

	// ReplaceDocument removes every chunk of documentID and appends chunks
	// in the same critical section. Returns the number of chunks removed.
	ReplaceDocument(ctx context.Context, tenantID, documentID string, chunks []Chunk) (int, error)

	// Search returns up to topK hits ranked by cosine similarity to query.
	// An absent or empty tenant yields an empty slice.
	Search(ctx context.Context, tenantID string, query []float32, topK int) ([]Hit, error)

	// DeleteByDocument removes all chunks of a document. Idempotent;
	// returns the number removed.
	DeleteByDocument(ctx context.Context, tenantID, documentID string) (int, error)

	// DeleteTenant drops the tenant's index. Idempotent.
	DeleteTenant(ctx context.Context, tenantID string) error

	// Stats describes the tenant's index or returns ErrTenantNotFound.
	Stats(ctx context.Context, tenantID string) (TenantStats, error)

	// Tenants lists tenants that currently have an index, sorted.
	Tenants(ctx context.Context) []string

	// Close releases resources. Further calls return ErrClosed.
	Close() error
}
