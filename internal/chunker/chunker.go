// Package chunker splits transcripts into overlapping, size-bounded windows
// for embedding.
package chunker

import (
	"fmt"
	"unicode"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Span is one window of the source text. Start and End are rune offsets.
type Span struct {
	Index int
	Start int
	End   int
	Text  string
}

// Chunker cuts text at the most natural boundary inside each window:
// paragraph, line, sentence, word, and finally a hard cut at the size limit.
// Every span after the first begins exactly Overlap runes before the end of
// the previous one.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker. size must be positive and overlap in [0, size).
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the spans of text in order. Empty text yields no spans.
func (c *Chunker) Split(text string) []Span {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var spans []Span
	start := 0
	for {
		end := n
		if start+c.size < n {
			end = c.cut(runes, start)
		}
		spans = append(spans, Span{
			Index: len(spans),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
		if end >= n {
			return spans
		}
		start = end - c.overlap
	}
}

// Texts is Split without offsets.
func (c *Chunker) Texts(text string) []string {
	spans := c.Split(text)
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Text
	}
	return out
}

type boundary func(r []rune, p int) bool

var boundaries = []boundary{
	func(r []rune, p int) bool { return p >= 2 && r[p-1] == '\n' && r[p-2] == '\n' },
	func(r []rune, p int) bool { return r[p-1] == '\n' },
	func(r []rune, p int) bool {
		if p < 2 || !unicode.IsSpace(r[p-1]) {
			return false
		}
		switch r[p-2] {
		case '.', '!', '?':
			return true
		}
		return false
	},
	isWordBreak,
}

func isWordBreak(r []rune, p int) bool { return unicode.IsSpace(r[p-1]) }

// cut picks the end of the window starting at start. The cut never lands at
// or before start+overlap so the next window always advances.
func (c *Chunker) cut(r []rune, start int) int {
	limit := start + c.size
	lo := start + c.overlap + 1
	preferred := max(lo, start+c.size/2)

	for _, b := range boundaries {
		if p := lastMatch(r, preferred, limit, b); p > 0 {
			return p
		}
	}
	if p := lastMatch(r, lo, limit, isWordBreak); p > 0 {
		return p
	}
	return limit
}

func lastMatch(r []rune, lo, hi int, b boundary) int {
	for p := hi; p >= lo; p-- {
		if b(r, p) {
			return p
		}
	}
	return 0
}
