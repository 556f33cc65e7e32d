// Package memory is a brute-force in-process vector index.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/MikeSquared-Agency/tutor/internal/vectorindex"
)

type entry struct {
	doc    vectorindex.Document
	vector []float32
}

// Index keeps every vector in memory and scans all of them on query.
type Index struct {
	embedder vectorindex.Embedder

	mu      sync.RWMutex
	entries map[string]entry
}

func New(embedder vectorindex.Embedder) *Index {
	return &Index{embedder: embedder, entries: make(map[string]entry)}
}

func (x *Index) Add(ctx context.Context, docs []vectorindex.Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("document %d has empty id", i)
		}
		texts[i] = d.Text
	}
	vecs, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	if len(vecs) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vecs), len(docs))
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for i, d := range docs {
		d.Metadata = maps.Clone(d.Metadata)
		x.entries[d.ID] = entry{doc: d, vector: vecs[i]}
	}
	return nil
}

func (x *Index) Query(ctx context.Context, text string, topK int, filter vectorindex.Filter) ([]vectorindex.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	q, err := vectorindex.EmbedOne(ctx, x.embedder, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	x.mu.RLock()
	matches := make([]vectorindex.Match, 0, len(x.entries))
	for _, e := range x.entries {
		if !filter.Matches(e.doc.Metadata) {
			continue
		}
		matches = append(matches, vectorindex.Match{
			ID:       e.doc.ID,
			Text:     e.doc.Text,
			Distance: vectorindex.CosineDistance(q, e.vector),
			Metadata: maps.Clone(e.doc.Metadata),
		})
	}
	x.mu.RUnlock()

	vectorindex.SortMatches(matches)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (x *Index) Delete(_ context.Context, filter vectorindex.Filter) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	for id, e := range x.entries {
		if filter.Matches(e.doc.Metadata) {
			delete(x.entries, id)
		}
	}
	return nil
}

// Len returns the number of indexed documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}
