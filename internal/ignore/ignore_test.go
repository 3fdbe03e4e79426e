package ignore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_Match(t *testing.T) {
	m, err := NewMatcher([]string{
		"# comment",
		"",
		"!keep.md",
		"*.log",
		"node_modules/",
		"/dist",
		"docs/drafts",
		"**/build",
		"secret.txt   ",
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		rel   string
		isDir bool
		want  bool
	}{
		{"glob at root", "app.log", false, true},
		{"glob nested", "a/b/app.log", false, true},
		{"dir only pattern on dir", "web/node_modules", true, true},
		{"dir only pattern on file", "node_modules", false, false},
		{"file inside ignored dir", "web/node_modules/x.md", false, true},
		{"anchored at root", "dist", true, true},
		{"anchored not nested", "src/dist", true, false},
		{"path pattern", "docs/drafts/plan.md", false, true},
		{"path pattern elsewhere", "other/docs/drafts", true, false},
		{"double star root", "build", true, true},
		{"double star nested", "a/b/build/out.txt", false, true},
		{"trailing whitespace trimmed", "x/secret.txt", false, true},
		{"negation skipped", "keep.md", false, false},
		{"plain file", "docs/guide.md", false, false},
		{"empty path", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(tt.rel, tt.isDir))
		})
	}
}

func TestNewMatcher_InvalidPattern(t *testing.T) {
	_, err := NewMatcher([]string{"[unclosed"})
	assert.Error(t, err)
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	return root
}

func TestLoadAndWalk(t *testing.T) {
	root := writeTree(t, map[string]string{
		".ragignore":         "drafts/\n*.tmp\n",
		".gitignore":         "*.log\n",
		"faq.md":             "q",
		"guides/setup.md":    "s",
		"guides/notes.tmp":   "t",
		"drafts/wip.md":      "w",
		"server.log":         "l",
		".git/HEAD":          "ref",
		"node_modules/a.md":  "n",
		"manual.pdf":         "%PDF",
		"images/diagram.png": "png",
	})

	m, err := Load(root, DefaultFiles)
	require.NoError(t, err)

	all, err := Walk(root, m, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{".gitignore", ".ragignore", "faq.md", "guides/setup.md", "images/diagram.png", "manual.pdf"}, all)

	docs, err := Walk(root, m, func(rel string) bool {
		return strings.HasSuffix(rel, ".md") || strings.HasSuffix(rel, ".pdf")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"faq.md", "guides/setup.md", "manual.pdf"}, docs)
}

func TestLoad_NoPatternFiles(t *testing.T) {
	root := writeTree(t, map[string]string{"a.md": "a", ".git/config": "c"})

	m, err := Load(root, DefaultFiles)
	require.NoError(t, err)

	files, err := Walk(root, m, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md"}, files)
}

func TestWalk_MissingRoot(t *testing.T) {
	_, err := Walk(filepath.Join(t.TempDir(), "missing"), nil, nil)
	assert.Error(t, err)
}
