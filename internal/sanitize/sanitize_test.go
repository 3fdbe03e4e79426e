package sanitize

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name    string
		path    string
		root    string
		wantErr error
	}{
		{"inside root", filepath.Join(root, "acme", "doc.pdf"), root, nil},
		{"root itself", root, root, nil},
		{"no root", "relative/file.txt", "", nil},
		{"empty", "", root, ErrEmptyPath},
		{"dotdot", root + "/../etc/passwd", "", ErrPathTraversal},
		{"outside root", "/etc/passwd", root, ErrPathTraversal},
		{"sibling prefix", root + "-other/file", root, ErrPathTraversal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePath(tt.path, tt.root)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(got))
		})
	}
}

func TestValidatePath_DotsInNamesAllowed(t *testing.T) {
	root := t.TempDir()
	_, err := ValidatePath(filepath.Join(root, "v1..2.txt"), root)
	assert.NoError(t, err)
}

func TestFileName(t *testing.T) {
	tests := []struct {
		id, upload string
		want       string
	}{
		{"handbook", "Handbook.PDF", "handbook.pdf"},
		{"doc-1.v2", "notes.md", "doc-1.v2.md"},
		{"faq", "README", "faq"},
		{"faq", "weird.ex$e", "faq"},
	}
	for _, tt := range tests {
		got, err := FileName(tt.id, tt.upload)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestFileName_AlteredIDsStayDistinct(t *testing.T) {
	a, err := FileName("../../etc/passwd", "x.txt")
	require.NoError(t, err)
	assert.NotContains(t, a, "/")
	assert.True(t, strings.HasPrefix(a, "etc_passwd-"))
	assert.True(t, strings.HasSuffix(a, ".txt"))

	b, err := FileName("a b", "x.txt")
	require.NoError(t, err)
	c, err := FileName("a_b", "x.txt")
	require.NoError(t, err)
	assert.NotEqual(t, b, c)
	assert.Equal(t, "a_b.txt", c)

	long, err := FileName(strings.Repeat("x", 300), "")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(long), maxNameLen)
}

func TestFileName_Invalid(t *testing.T) {
	for _, id := range []string{"", ".", "..", "///"} {
		_, err := FileName(id, "a.txt")
		assert.ErrorIs(t, err, ErrInvalidName, id)
	}
}
