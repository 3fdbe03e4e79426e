// Package ignore selects the files under a directory tree for bulk ingestion,
// honoring gitignore-style pattern files such as .ragignore.
package ignore

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultFiles are the pattern files read from the walk root, in order.
var DefaultFiles = []string{".ragignore", ".gitignore"}

// DefaultPatterns are always applied.
var DefaultPatterns = []string{".git/", "node_modules/", ".DS_Store"}

type rule struct {
	segments []string
	anchored bool
	dirOnly  bool
}

// Matcher reports whether slash-separated paths relative to a root are ignored.
type Matcher struct {
	rules []rule
}

// NewMatcher compiles gitignore-style patterns. Comments, blank lines and
// negations are skipped.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	seen := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		p = strings.TrimRight(p, " \t")
		if p == "" || strings.HasPrefix(p, "#") || strings.HasPrefix(p, "!") || seen[p] {
			continue
		}
		seen[p] = true

		r := rule{}
		if strings.HasSuffix(p, "/") {
			r.dirOnly = true
			p = strings.TrimRight(p, "/")
		}
		if strings.HasPrefix(p, "/") {
			p = strings.TrimLeft(p, "/")
			r.anchored = true
		}
		if p == "" {
			continue
		}
		if strings.Contains(p, "/") {
			r.anchored = true
		}
		r.segments = strings.Split(p, "/")
		for _, s := range r.segments {
			if _, err := path.Match(s, ""); err != nil {
				return nil, err
			}
		}
		m.rules = append(m.rules, r)
	}
	return m, nil
}

// Match reports whether rel (relative, slash-separated) is ignored, either
// directly or because one of its parent directories is.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		if m.match(parts[:i], true) {
			return true
		}
	}
	return m.match(parts, isDir)
}

func (m *Matcher) match(parts []string, isDir bool) bool {
	for _, r := range m.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.anchored {
			if matchSegments(r.segments, parts) {
				return true
			}
			continue
		}
		// Unanchored patterns match the final component at any depth.
		if ok, _ := path.Match(r.segments[0], parts[len(parts)-1]); ok {
			return true
		}
	}
	return false
}

// matchSegments matches pattern segments against path segments, where "**"
// spans zero or more segments.
func matchSegments(pattern, parts []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(parts); i++ {
				if matchSegments(pattern[1:], parts[i:]) {
					return true
				}
			}
			return false
		}
		if len(parts) == 0 {
			return false
		}
		if ok, _ := path.Match(pattern[0], parts[0]); !ok {
			return false
		}
		pattern, parts = pattern[1:], parts[1:]
	}
	return len(parts) == 0
}

// Load builds a Matcher for root from DefaultPatterns plus every pattern
// file in files that exists there.
func Load(root string, files []string) (*Matcher, error) {
	patterns := append([]string(nil), DefaultPatterns...)
	for _, name := range files {
		p, err := readPatterns(filepath.Join(root, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p...)
	}
	return NewMatcher(patterns)
}

func readPatterns(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// Walk returns the regular files under root that are not ignored and for
// which keep returns true (nil keeps everything). Ignored directories are
// not descended into. Paths are relative to root, slash-separated and sorted.
func Walk(root string, m *Matcher, keep func(rel string) bool) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if m != nil && m.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if keep == nil || keep(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
