package ignore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before it is reported.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports files under a root that are created or written. Ignored
// directories are never watched; directories created later are picked up.
// Removals are not reported.
type Watcher struct {
	root    string
	matcher *Matcher
	keep    func(rel string) bool
	fsw     *fsnotify.Watcher
	pending map[string]struct{}
}

// NewWatcher starts watching root and every non-ignored directory below it.
// keep filters reported files like Walk's keep; nil keeps everything.
func NewWatcher(root string, m *Matcher, keep func(rel string) bool) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	w := &Watcher{
		root:    root,
		matcher: m,
		keep:    keep,
		fsw:     fsw,
		pending: make(map[string]struct{}),
	}
	if err := w.addTree(root, false); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run calls onChange with the slash-separated relative path of each changed
// file once it has been quiet for debounce, in lexical order per batch. It
// blocks until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context, debounce time.Duration, onChange func(rel string)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	var flush <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(ev) {
				flush = time.After(debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching %s: %w", w.root, err)

		case <-flush:
			flush = nil
			for _, rel := range w.drain() {
				onChange(rel)
			}
		}
	}
}

// handle records ev and reports whether anything became pending.
func (w *Watcher) handle(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return false
	}
	rel, ok := w.rel(ev.Name)
	if !ok || w.ignored(rel, info.IsDir()) {
		return false
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) {
			// Files written before the directory was watched are reported too.
			before := len(w.pending)
			_ = w.addTree(ev.Name, true)
			return len(w.pending) > before
		}
		return false
	}
	return w.mark(rel, info.Mode())
}

func (w *Watcher) mark(rel string, mode fs.FileMode) bool {
	if !mode.IsRegular() || (w.keep != nil && !w.keep(rel)) {
		return false
	}
	w.pending[rel] = struct{}{}
	return true
}

func (w *Watcher) drain() []string {
	out := make([]string, 0, len(w.pending))
	for rel := range w.pending {
		out = append(out, rel)
	}
	clear(w.pending)
	sort.Strings(out)
	return out
}

// addTree watches dir and its non-ignored subdirectories. With markFiles
// set, regular files already present are marked pending.
func (w *Watcher) addTree(dir string, markFiles bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, ok := w.rel(p)
		if !ok {
			return nil
		}
		if rel != "" && w.ignored(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(p); err != nil {
				return fmt.Errorf("watching %s: %w", p, err)
			}
			return nil
		}
		if markFiles {
			w.mark(rel, d.Type())
		}
		return nil
	})
}

// rel returns p relative to the root, slash-separated; "" for the root.
func (w *Watcher) rel(p string) (string, bool) {
	rel, err := filepath.Rel(w.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) ignored(rel string, isDir bool) bool {
	return w.matcher != nil && w.matcher.Match(rel, isDir)
}
