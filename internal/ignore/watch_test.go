package ignore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, w *Watcher) <-chan string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan string, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, 20*time.Millisecond, func(rel string) { changes <- rel })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})
	return changes
}

// waitFor reads changes until want arrives and returns everything seen.
func waitFor(t *testing.T, changes <-chan string, want string) []string {
	t.Helper()
	var seen []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case rel := <-changes:
			seen = append(seen, rel)
			if rel == want {
				return seen
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s, saw %v", want, seen)
		}
	}
}

func TestWatcher_ReportsWrites(t *testing.T) {
	root := writeTree(t, map[string]string{
		".ragignore":  "drafts/\n",
		"faq.md":      "q",
		"drafts/x.md": "x",
	})
	m, err := Load(root, DefaultFiles)
	require.NoError(t, err)

	w, err := NewWatcher(root, m, func(rel string) bool { return strings.HasSuffix(rel, ".md") })
	require.NoError(t, err)
	changes := collect(t, w)

	require.NoError(t, os.WriteFile(filepath.Join(root, "drafts", "x.md"), []byte("ignored"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("filtered"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "faq.md"), []byte("updated"), 0o600))
	seen := waitFor(t, changes, "faq.md")

	require.NoError(t, os.MkdirAll(filepath.Join(root, "guides"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "guides", "setup.md"), []byte("s"), 0o600))
	seen = append(seen, waitFor(t, changes, "guides/setup.md")...)

	time.Sleep(100 * time.Millisecond)
	for len(changes) > 0 {
		seen = append(seen, <-changes)
	}
	assert.NotContains(t, seen, "drafts/x.md")
	assert.NotContains(t, seen, "notes.txt")
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), nil, nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Run(ctx, 0, func(string) {}), context.Canceled)
}

func TestNewWatcher_MissingRoot(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), nil, nil)
	assert.Error(t, err)
}
