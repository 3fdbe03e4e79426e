// Package tenant validates tenant identifiers and manages the lifecycle of
// a tenant's data: its vector index, conversations and document statuses.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/conversation"
	"github.com/fyrsmithlabs/ragd/internal/ingestion"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/ragerr"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// ErrInvalidTenantID matches ragerr.ErrInvalidArgument.
var ErrInvalidTenantID = fmt.Errorf("%w: invalid tenant id", ragerr.ErrInvalidArgument)

const maxIDLen = 64

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Validate checks that id is usable as a tenant key: 1-64 characters of
// letters, digits, '_', '.' or '-', starting with a letter or digit.
func Validate(id string) error {
	if id == "" || len(id) > maxIDLen || !idPattern.MatchString(id) {
		return fmt.Errorf("%w %q", ErrInvalidTenantID, id)
	}
	return nil
}

// DefaultID returns the tenant used by single-tenant CLI commands: the
// sanitized $USER, or "local".
func DefaultID() string {
	return Sanitize(strings.ToLower(os.Getenv("USER")))
}

// Sanitize keeps only lowercase letters, digits and underscores; an empty
// result becomes "local".
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "local"
	}
	out := b.String()
	if len(out) > maxIDLen {
		out = out[:maxIDLen]
	}
	return out
}

// DeleteResult counts what DeleteTenant removed.
type DeleteResult struct {
	TenantID      string `json:"tenant_id"`
	Conversations int    `json:"conversations"`
	Documents     int    `json:"documents"`
}

// Manager provisions and removes tenants.
type Manager struct {
	index         vectorstore.Index
	conversations conversation.Store
	statuses      ingestion.StatusStore
	logger        *logging.Logger
}

// NewManager creates a Manager. conversations and statuses may be nil.
func NewManager(index vectorstore.Index, conversations conversation.Store, statuses ingestion.StatusStore, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		index:         index,
		conversations: conversations,
		statuses:      statuses,
		logger:        logger.Named("tenant"),
	}
}

// Create makes sure the tenant's index exists. Idempotent.
func (m *Manager) Create(ctx context.Context, tenantID string) error {
	const op = "create_tenant"
	if err := Validate(tenantID); err != nil {
		return ragerr.New(ragerr.StageIngestion, op, err)
	}
	if err := m.index.EnsureTenant(ctx, tenantID); err != nil {
		return ragerr.New(ragerr.StageIngestion, op, err)
	}
	m.logger.Info(logging.WithTenantID(ctx, tenantID), "tenant index ready",
		zap.String("collection", vectorstore.CollectionName(tenantID)))
	return nil
}

// Stats reports the tenant's index size. Unknown tenants yield
// ragerr.ErrTenantNotFound.
func (m *Manager) Stats(ctx context.Context, tenantID string) (vectorstore.TenantStats, error) {
	const op = "tenant_stats"
	if err := Validate(tenantID); err != nil {
		return vectorstore.TenantStats{}, ragerr.New(ragerr.StageRetrieval, op, err)
	}
	st, err := m.index.Stats(ctx, tenantID)
	if err != nil {
		return vectorstore.TenantStats{}, ragerr.New(ragerr.StageRetrieval, op, err)
	}
	return st, nil
}

// Delete drops the tenant's index, conversations and document statuses.
// Idempotent. Every store is attempted; the errors are joined.
func (m *Manager) Delete(ctx context.Context, tenantID string) (DeleteResult, error) {
	const op = "delete_tenant"
	res := DeleteResult{TenantID: tenantID}
	if err := Validate(tenantID); err != nil {
		return res, ragerr.New(ragerr.StageIngestion, op, err)
	}
	ctx = logging.WithTenantID(ctx, tenantID)

	var errs []error
	if err := m.index.DeleteTenant(ctx, tenantID); err != nil {
		errs = append(errs, fmt.Errorf("index: %w", err))
	}
	if m.conversations != nil {
		n, err := m.conversations.DeleteTenant(ctx, tenantID)
		if err != nil {
			errs = append(errs, fmt.Errorf("conversations: %w", err))
		}
		res.Conversations = n
	}
	if m.statuses != nil {
		n, err := m.statuses.DeleteTenant(ctx, tenantID)
		if err != nil {
			errs = append(errs, fmt.Errorf("document statuses: %w", err))
		}
		res.Documents = n
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Error(ctx, "tenant deletion incomplete", zap.Error(err))
		return res, ragerr.New(ragerr.StagePersistence, op, err)
	}

	m.logger.Info(ctx, "tenant deleted",
		zap.Int("conversations", res.Conversations),
		zap.Int("documents", res.Documents))
	return res, nil
}
