package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"multichat/internal/domain"
	"multichat/internal/domain/repositories"
)

// PointStore implements repositories.MetadataStore on a single PostgreSQL
// table keyed by (collection, id). Metadata lives in a JSONB column and
// filters use containment (@>). Similarity is ranked in Go.
type PointStore struct {
	pool   *pgxpool.Pool
	tables *TableNames
	tx     repositories.TxRunner
	logger *slog.Logger
}

// NewPointStore creates a new PointStore
func NewPointStore(config *RepositoryConfig, tx repositories.TxRunner) *PointStore {
	return &PointStore{
		pool:   config.Pool,
		tables: config.Tables,
		tx:     tx,
		logger: config.Logger,
	}
}

// EnsureSchema creates the points table and its indexes if they do not exist
func (s *PointStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				collection TEXT NOT NULL,
				id TEXT NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				embedding REAL[] NOT NULL,
				metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
				PRIMARY KEY (collection, id)
			)
		`, s.tables.Points),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_metadata_idx ON %s USING GIN (metadata jsonb_path_ops)`,
			s.tables.Points, s.tables.Points),
	}

	return s.tx.InTx(ctx, func(txCtx context.Context) error {
		executor := GetExecutor(txCtx, s.pool)
		for _, stmt := range statements {
			if _, err := executor.Exec(txCtx, stmt); err != nil {
				return fmt.Errorf("ensure schema: %w", err)
			}
		}
		return nil
	})
}

// Insert stores a point, replacing any point with the same ID
func (s *PointStore) Insert(ctx context.Context, collection string, point repositories.Point) error {
	if point.ID == "" {
		return fmt.Errorf("insert into %s: empty point id", collection)
	}

	metadata, err := encodeMetadata(point.Metadata)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (collection, id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (collection, id) DO UPDATE
		SET content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata
	`, s.tables.Points)

	executor := GetExecutor(ctx, s.pool)
	if _, err := executor.Exec(ctx, query, collection, point.ID, point.Text, point.Embedding, metadata); err != nil {
		return s.wrapErr("insert point", err)
	}
	return nil
}

// Delete removes every point matching filter
func (s *PointStore) Delete(ctx context.Context, collection string, filter repositories.Filter) (int, error) {
	metadata, err := encodeMetadata(filter)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE collection = $1 AND metadata @> $2::jsonb
	`, s.tables.Points)

	executor := GetExecutor(ctx, s.pool)
	tag, err := executor.Exec(ctx, query, collection, metadata)
	if err != nil {
		return 0, s.wrapErr("delete points", err)
	}

	s.logger.Debug("deleted points", "collection", collection, "count", tag.RowsAffected())
	return int(tag.RowsAffected()), nil
}

// UpdateMetadata replaces the metadata of an existing point
func (s *PointStore) UpdateMetadata(ctx context.Context, collection, id string, metadata map[string]string) error {
	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET metadata = $3::jsonb
		WHERE collection = $1 AND id = $2
	`, s.tables.Points)

	executor := GetExecutor(ctx, s.pool)
	tag, err := executor.Exec(ctx, query, collection, id, encoded)
	if err != nil {
		return s.wrapErr("update metadata", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("point %s in %s: %w", id, collection, domain.ErrNotFound)
	}
	return nil
}

// Get retrieves a point by ID
func (s *PointStore) Get(ctx context.Context, collection, id string) (*repositories.Point, error) {
	query := fmt.Sprintf(`
		SELECT id, content, embedding, metadata
		FROM %s
		WHERE collection = $1 AND id = $2
	`, s.tables.Points)

	var p repositories.Point
	var raw []byte
	executor := GetExecutor(ctx, s.pool)
	err := executor.QueryRow(ctx, query, collection, id).Scan(&p.ID, &p.Text, &p.Embedding, &raw)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("point %s in %s: %w", id, collection, domain.ErrNotFound)
		}
		return nil, s.wrapErr("get point", err)
	}

	if p.Metadata, err = decodeMetadata(raw); err != nil {
		return nil, err
	}
	return &p, nil
}

// QueryByMetadata returns all points matching filter, ordered by ID
func (s *PointStore) QueryByMetadata(ctx context.Context, collection string, filter repositories.Filter) ([]repositories.Point, error) {
	metadata, err := encodeMetadata(filter)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, content, embedding, metadata
		FROM %s
		WHERE collection = $1 AND metadata @> $2::jsonb
		ORDER BY id
	`, s.tables.Points)

	executor := GetExecutor(ctx, s.pool)
	rows, err := executor.Query(ctx, query, collection, metadata)
	if err != nil {
		return nil, s.wrapErr("query points", err)
	}
	defer rows.Close()

	points := []repositories.Point{}
	for rows.Next() {
		var p repositories.Point
		var raw []byte
		if err := rows.Scan(&p.ID, &p.Text, &p.Embedding, &raw); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		if p.Metadata, err = decodeMetadata(raw); err != nil {
			return nil, err
		}
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate points: %w", err)
	}

	return points, nil
}

// QueryBySimilarity loads the filtered points and ranks them by cosine similarity
func (s *PointStore) QueryBySimilarity(ctx context.Context, collection string, embedding []float32, filter repositories.Filter, limit int) ([]repositories.ScoredPoint, error) {
	if limit <= 0 {
		return []repositories.ScoredPoint{}, nil
	}

	candidates, err := s.QueryByMetadata(ctx, collection, filter)
	if err != nil {
		return nil, err
	}

	return rankBySimilarity(candidates, embedding, limit), nil
}

// wrapErr adds a migration hint when the points table does not exist
func (s *PointStore) wrapErr(op string, err error) error {
	if IsPgUndefinedTableError(err) {
		return fmt.Errorf("%s: table %s missing (run the migrate command): %w", op, s.tables.Points, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Close releases the connection pool
func (s *PointStore) Close() error {
	s.pool.Close()
	return nil
}

// rankBySimilarity scores points against embedding and keeps the top limit.
// Ties keep ID order so results are stable.
func rankBySimilarity(points []repositories.Point, embedding []float32, limit int) []repositories.ScoredPoint {
	scored := make([]repositories.ScoredPoint, len(points))
	for i, p := range points {
		scored[i] = repositories.ScoredPoint{
			Point: p,
			Score: repositories.CosineSimilarity(embedding, p.Embedding),
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func encodeMetadata(metadata map[string]string) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(b), nil
}

func decodeMetadata(raw []byte) (map[string]string, error) {
	metadata := map[string]string{}
	if len(raw) == 0 {
		return metadata, nil
	}
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return metadata, nil
}
