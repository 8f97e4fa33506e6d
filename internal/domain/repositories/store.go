package repositories

import (
	"context"
	"math"
)

// Collection names used by the chat layer
const (
	CollectionChats    = "chat"
	CollectionMessages = "episodic"
)

// Point is a single record in a vector collection.
// Metadata values are plain strings so every backend can filter on them.
type Point struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// ScoredPoint is a Point returned by a similarity query
type ScoredPoint struct {
	Point
	Score float32
}

// Filter is an exact-match conjunction over metadata keys.
// An empty filter matches every point in the collection.
type Filter map[string]string

// Matches reports whether metadata satisfies every condition in f
func (f Filter) Matches(metadata map[string]string) bool {
	for k, v := range f {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// MetadataStore is the vector store capability the chat layer is built on.
// Implementations: chromem (embedded), postgres (pgx).
//
// There are no transactions: every call is independent and callers enforce
// referential integrity themselves.
type MetadataStore interface {
	// Insert stores a point, replacing any point with the same ID
	Insert(ctx context.Context, collection string, point Point) error

	// Delete removes every point matching filter and returns how many were removed
	Delete(ctx context.Context, collection string, filter Filter) (int, error)

	// UpdateMetadata replaces the metadata of an existing point.
	// Returns domain.ErrNotFound if the point does not exist.
	UpdateMetadata(ctx context.Context, collection, id string, metadata map[string]string) error

	// Get retrieves a point by ID. Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, collection, id string) (*Point, error)

	// QueryByMetadata returns all points matching filter, in no particular order
	QueryByMetadata(ctx context.Context, collection string, filter Filter) ([]Point, error)

	// QueryBySimilarity returns up to limit points matching filter,
	// most similar to embedding first
	QueryBySimilarity(ctx context.Context, collection string, embedding []float32, filter Filter, limit int) ([]ScoredPoint, error)

	// Close releases resources
	Close() error
}

// Embedder converts text to vector embeddings
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// CosineSimilarity returns the cosine similarity of a and b, or 0 when the
// vectors differ in length or either is zero.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
