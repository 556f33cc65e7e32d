// Package vectorindex defines the nearest-neighbour index used for transcript
// chunks. Backends live in sub-packages.
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Document is a chunk to be indexed. ID is the index primary key.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// Match is a query hit. Distance is cosine distance, lower is closer.
type Match struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Distance float64        `json:"distance"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Filter is a conjunction of metadata equality conditions.
type Filter map[string]any

// Index stores chunk embeddings and answers similarity queries.
type Index interface {
	Add(ctx context.Context, docs []Document) error
	Query(ctx context.Context, text string, topK int, filter Filter) ([]Match, error)
	Delete(ctx context.Context, filter Filter) error
}

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 input", len(vecs))
	}
	return vecs[0], nil
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// SortMatches orders matches by ascending distance, then ID.
func SortMatches(m []Match) {
	sort.SliceStable(m, func(i, j int) bool {
		if m[i].Distance != m[j].Distance {
			return m[i].Distance < m[j].Distance
		}
		return m[i].ID < m[j].ID
	})
}

// Matches reports whether metadata satisfies every condition in f.
func (f Filter) Matches(metadata map[string]any) bool {
	for k, want := range f {
		got, ok := metadata[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
