package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"scaled", []float32{1, 1}, []float32{5, 5}, 1},
		{"zero a", []float32{0, 0}, []float32{1, 1}, 0},
		{"zero b", []float32{1, 1}, []float32{0, 0}, 0},
		{"length mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.LessOrEqual(t, got, 1.0)
			assert.GreaterOrEqual(t, got, -1.0)
		})
	}
}

func TestTenantContext(t *testing.T) {
	_, err := TenantFromContext(t.Context())
	assert.ErrorIs(t, err, ErrMissingTenant)

	ctx := ContextWithTenant(t.Context(), "acme")
	id, err := TenantFromContext(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "acme", id)

	_, err = TenantFromContext(ContextWithTenant(t.Context(), ""))
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "tenant_acme_knowledge", CollectionName("acme"))
	assert.Equal(t, "doc-1_3", ChunkID("doc-1", 3))
}
