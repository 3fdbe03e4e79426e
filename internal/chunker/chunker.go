// Package chunker splits document text into overlapping, sentence-aligned
// segments sized for embedding.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Default sizing, in characters.
const (
	DefaultSize    = 500
	DefaultOverlap = 50
)

// ErrInvalidConfig indicates chunk sizing parameters are unusable.
var ErrInvalidConfig = errors.New("invalid chunker config")

// Segment is one chunk of text.
//
// Length is the accumulated character count that produced the segment,
// including the overlap prefix, measured before surrounding whitespace was
// trimmed from Text.
type Segment struct {
	Text   string
	Length int
}

// Chunker holds sizing parameters. The zero value is not usable; use New.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker after validating size and overlap.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidConfig, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: overlap (%d) must be less than size (%d)", ErrInvalidConfig, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the target chunk size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the overlap carried between consecutive chunks.
func (c *Chunker) Overlap() int { return c.overlap }

// Split chunks text with the configured sizing.
func (c *Chunker) Split(text string) []Segment {
	return split(text, c.size, c.overlap)
}

// Split cleans text and splits it into segments of at most size characters,
// except that a single sentence longer than size becomes its own segment.
// Each segment after the first begins with up to overlap trailing characters
// of the previous one: the prefix shrinks to size minus the next sentence's
// length so the segment stays within size, and an oversized sentence carries
// no prefix. Invalid sizing falls back to the defaults.
func Split(text string, size, overlap int) []Segment {
	if size <= 0 || overlap < 0 || overlap >= size {
		size, overlap = DefaultSize, DefaultOverlap
	}
	return split(text, size, overlap)
}

func split(text string, size, overlap int) []Segment {
	text = Clean(text)
	if text == "" {
		return []Segment{}
	}

	var (
		segments []Segment
		current  []rune
		running  int
	)
	emit := func() {
		if t := strings.TrimSpace(string(current)); t != "" {
			segments = append(segments, Segment{Text: t, Length: running})
		}
	}

	for _, sentence := range Sentences(text) {
		s := []rune(sentence)
		if running+len(s) <= size {
			current = append(current, s...)
			running += len(s)
			continue
		}

		if len(current) > 0 {
			emit()
		}
		// The overlap prefix shrinks so the new chunk still fits; an
		// oversized sentence starts clean.
		carry := min(overlap, size-len(s), len(current))
		if carry > 0 {
			tail := current[len(current)-carry:]
			next := make([]rune, 0, len(tail)+len(s))
			next = append(next, tail...)
			current = append(next, s...)
			running = len(tail) + len(s)
		} else {
			current = append([]rune(nil), s...)
			running = len(s)
		}
	}
	if len(current) > 0 {
		emit()
	}
	if segments == nil {
		return []Segment{}
	}
	return segments
}

// Clean collapses whitespace runs to a single space, drops characters outside
// the supported set (letters, digits, underscore, whitespace and common CJK
// and Latin punctuation) and trims the result.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(text))
	inSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		if keep(r) {
			b.WriteRune(r)
			inSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

const punctuation = "。，、；：？！“”‘’（）《》[]{}.,;:?!'\"()-"

func keep(r rune) bool {
	switch {
	case r == '_', unicode.IsLetter(r), unicode.IsDigit(r), unicode.Is(unicode.Mn, r):
		return true
	case r >= 0x4e00 && r <= 0x9fff:
		return true
	default:
		return strings.ContainsRune(punctuation, r)
	}
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// Sentences splits text after each run of sentence terminators. Terminators
// stay attached to the sentence they end; trailing text without a
// terminator forms the last sentence. Concatenating the result yields text.
func Sentences(text string) []string {
	var (
		out   []string
		start int
		inRun bool
	)
	for i, r := range text {
		if isTerminator(r) {
			inRun = true
			continue
		}
		if inRun {
			out = append(out, text[start:i])
			start = i
			inRun = false
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
