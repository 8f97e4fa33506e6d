package chromem

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"multichat/internal/domain"
	"multichat/internal/domain/repositories"
)

// idKey mirrors the document ID into metadata so lookups by ID can use the
// where-filter path
const idKey = "_id"

// Store wraps chromem-go for vector storage.
// chromem-go is a pure Go, embedded vector database.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	dims        int
	scanVector  []float32 // Unit vector used for metadata-only scans
	logger      *slog.Logger
	mu          sync.RWMutex
	writeMu     sync.Mutex // Serializes read-modify-write metadata updates
}

// New creates a new chromem-based store for embeddings of the given dimension.
func New(dims int, logger *slog.Logger) (*Store, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("invalid embedding dimensions: %d", dims)
	}

	scanVector := make([]float32, dims)
	scanVector[0] = 1

	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		dims:        dims,
		scanVector:  scanVector,
		logger:      logger,
	}, nil
}

// getOrCreateCollection returns the named collection, creating it on first use.
func (s *Store) getOrCreateCollection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[name]
	s.mu.RUnlock()

	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[name]; exists {
		return col, nil
	}

	col, err := s.db.CreateCollection(
		name,
		nil, // No collection metadata
		nil, // Embeddings are always supplied by the caller
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	s.collections[name] = col
	s.logger.Info("collection created", "collection", name)
	return col, nil
}

// Insert stores a point, replacing any point with the same ID
func (s *Store) Insert(ctx context.Context, collection string, point repositories.Point) error {
	if point.ID == "" {
		return fmt.Errorf("insert into %s: empty point id", collection)
	}
	if len(point.Embedding) != s.dims {
		return fmt.Errorf("insert into %s: embedding has %d dimensions, want %d", collection, len(point.Embedding), s.dims)
	}

	col, err := s.getOrCreateCollection(collection)
	if err != nil {
		return err
	}

	s.logger.Debug("storing point", "collection", collection, "id", point.ID)

	if err := col.AddDocument(ctx, toDocument(point)); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Delete removes every point matching filter
func (s *Store) Delete(ctx context.Context, collection string, filter repositories.Filter) (int, error) {
	col, err := s.getOrCreateCollection(collection)
	if err != nil {
		return 0, err
	}

	matches, err := s.scan(ctx, col, filter, 0)
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 {
		return 0, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}

	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}

	s.logger.Debug("deleted points", "collection", collection, "count", len(ids))
	return len(ids), nil
}

// UpdateMetadata replaces the metadata of an existing point
func (s *Store) UpdateMetadata(ctx context.Context, collection, id string, metadata map[string]string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	existing, err := s.Get(ctx, collection, id)
	if err != nil {
		return err
	}

	existing.Metadata = metadata
	return s.Insert(ctx, collection, *existing)
}

// Get retrieves a point by ID
func (s *Store) Get(ctx context.Context, collection, id string) (*repositories.Point, error) {
	col, err := s.getOrCreateCollection(collection)
	if err != nil {
		return nil, err
	}

	matches, err := s.scan(ctx, col, repositories.Filter{idKey: id}, 1)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("point %s in %s: %w", id, collection, domain.ErrNotFound)
	}

	p := fromResult(matches[0])
	return &p, nil
}

// QueryByMetadata returns all points matching filter
func (s *Store) QueryByMetadata(ctx context.Context, collection string, filter repositories.Filter) ([]repositories.Point, error) {
	col, err := s.getOrCreateCollection(collection)
	if err != nil {
		return nil, err
	}

	matches, err := s.scan(ctx, col, filter, 0)
	if err != nil {
		return nil, err
	}

	points := make([]repositories.Point, len(matches))
	for i, m := range matches {
		points[i] = fromResult(m)
	}
	return points, nil
}

// QueryBySimilarity retrieves points by vector similarity.
// Returns points sorted by similarity (highest first).
func (s *Store) QueryBySimilarity(ctx context.Context, collection string, embedding []float32, filter repositories.Filter, limit int) ([]repositories.ScoredPoint, error) {
	if limit <= 0 {
		return []repositories.ScoredPoint{}, nil
	}

	col, err := s.getOrCreateCollection(collection)
	if err != nil {
		return nil, err
	}

	results, err := s.query(ctx, col, embedding, filter, limit)
	if err != nil {
		return nil, err
	}

	scored := make([]repositories.ScoredPoint, len(results))
	for i, r := range results {
		scored[i] = repositories.ScoredPoint{Point: fromResult(r), Score: r.Similarity}
	}
	return scored, nil
}

// Close releases resources.
func (s *Store) Close() error {
	// chromem-go keeps everything in memory, nothing to close
	return nil
}

// scan returns every document matching filter. limit <= 0 means no limit.
func (s *Store) scan(ctx context.Context, col *chromem.Collection, filter repositories.Filter, limit int) ([]chromem.Result, error) {
	n := col.Count()
	if limit > 0 && limit < n {
		n = limit
	}
	// A query against a fixed scan vector with a where clause is chromem's only filtered listing.
	// Ordering is meaningless here, so sort by ID to keep results deterministic.
	results, err := s.query(ctx, col, s.scanVector, filter, n)
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results, nil
}

// query runs a similarity query, shrinking nResults when chromem reports
// that the collection holds fewer documents.
func (s *Store) query(ctx context.Context, col *chromem.Collection, embedding []float32, filter repositories.Filter, limit int) ([]chromem.Result, error) {
	if col.Count() == 0 || limit <= 0 {
		return nil, nil
	}
	if limit > col.Count() {
		limit = col.Count()
	}

	var where map[string]string
	if len(filter) > 0 {
		where = map[string]string(filter)
	}

	for current := limit; current >= 1; current-- {
		results, err := col.QueryEmbedding(ctx, embedding, current, where, nil)
		if err == nil {
			return results, nil
		}
		if isInsufficientDocsError(err) {
			continue
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	return nil, nil
}

func toDocument(p repositories.Point) chromem.Document {
	metadata := make(map[string]string, len(p.Metadata)+1)
	for k, v := range p.Metadata {
		metadata[k] = v
	}
	metadata[idKey] = p.ID

	embedding := make([]float32, len(p.Embedding))
	copy(embedding, p.Embedding)

	content := p.Text
	if content == "" {
		// chromem rejects documents without content when embeddings are reused
		content = " "
	}

	return chromem.Document{
		ID:        p.ID,
		Content:   content,
		Embedding: embedding,
		Metadata:  metadata,
	}
}

func fromResult(r chromem.Result) repositories.Point {
	metadata := make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		if k == idKey {
			continue
		}
		metadata[k] = v
	}

	embedding := make([]float32, len(r.Embedding))
	copy(embedding, r.Embedding)

	text := r.Content
	if text == " " {
		text = ""
	}

	return repositories.Point{
		ID:        r.ID,
		Text:      text,
		Embedding: embedding,
		Metadata:  metadata,
	}
}

// isInsufficientDocsError checks if error is due to insufficient documents.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
