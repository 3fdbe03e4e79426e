// Package sanitize guards file system paths built from request input.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPath is returned for an empty path.
	ErrEmptyPath = errors.New("path cannot be empty")
	// ErrPathTraversal is returned when a path leaves its allowed root.
	ErrPathTraversal = errors.New("path contains directory traversal")
	// ErrInvalidName is returned when nothing usable is left of a name.
	ErrInvalidName = errors.New("invalid file name")
)

const (
	maxNameLen = 96
	hashLen    = 8
)

var (
	unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)
	validExt        = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)
)

// ValidatePath cleans path and returns it in absolute form. When root is
// non-empty the result must lie inside root.
func ValidatePath(path, root string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: contains '..'", ErrPathTraversal)
		}
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if root == "" {
		return abs, nil
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve allowed root: %w", err)
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes %s", ErrPathTraversal, path, root)
	}
	return abs, nil
}

// FileName derives a file name from an untrusted id and the extension of
// an untrusted upload name. Ids that had to be altered get a short hash
// suffix so distinct ids keep distinct names.
func FileName(id, uploadName string) (string, error) {
	base := strings.Trim(unsafeNameChars.ReplaceAllString(id, "_"), "._")
	if base == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, id)
	}
	if base != id || len(base) > maxNameLen {
		sum := sha256.Sum256([]byte(id))
		suffix := hex.EncodeToString(sum[:])[:hashLen]
		if len(base) > maxNameLen-hashLen-1 {
			base = base[:maxNameLen-hashLen-1]
		}
		base = base + "-" + suffix
	}

	ext := strings.ToLower(filepath.Ext(uploadName))
	if !validExt.MatchString(ext) {
		ext = ""
	}
	return base + ext, nil
}
