package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingTenant is returned when no tenant is bound to the context.
// Callers fail closed rather than fall back to a default tenant.
var ErrMissingTenant = errors.New("tenant missing from context")

type tenantContextKey struct{}

// ContextWithTenant binds a tenant id to ctx for downstream logging and
// transport layers.
func ContextWithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenantID)
}

// TenantFromContext returns the tenant bound to ctx, or ErrMissingTenant.
func TenantFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(tenantContextKey{}).(string)
	if !ok || id == "" {
		return "", ErrMissingTenant
	}
	return id, nil
}

// CollectionName is the storage-level name of a tenant's index.
func CollectionName(tenantID string) string {
	return "tenant_" + tenantID + "_knowledge"
}

func checkTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidArgument)
	}
	return nil
}
