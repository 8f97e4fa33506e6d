// Package retry decorates a MetadataStore with timeouts and bounded retries.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"multichat/internal/domain"
	"multichat/internal/domain/repositories"
)

// Config controls retry behaviour
type Config struct {
	MaxRetries int           // Retries after the first attempt
	RetryDelay time.Duration // Delay before the first retry, doubled each time
	Timeout    time.Duration // Per-attempt timeout, 0 disables
}

// Store retries transient store failures and reports exhausted retries as
// domain.UpstreamError
type Store struct {
	next   repositories.MetadataStore
	config Config
	logger *slog.Logger
}

// NewStore wraps next with retry handling
func NewStore(next repositories.MetadataStore, config Config, logger *slog.Logger) *Store {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &Store{next: next, config: config, logger: logger}
}

func (s *Store) Insert(ctx context.Context, collection string, point repositories.Point) error {
	return s.do(ctx, "insert", func(ctx context.Context) error {
		return s.next.Insert(ctx, collection, point)
	})
}

func (s *Store) Delete(ctx context.Context, collection string, filter repositories.Filter) (int, error) {
	var n int
	err := s.do(ctx, "delete", func(ctx context.Context) error {
		var err error
		n, err = s.next.Delete(ctx, collection, filter)
		return err
	})
	return n, err
}

func (s *Store) UpdateMetadata(ctx context.Context, collection, id string, metadata map[string]string) error {
	return s.do(ctx, "update_metadata", func(ctx context.Context) error {
		return s.next.UpdateMetadata(ctx, collection, id, metadata)
	})
}

func (s *Store) Get(ctx context.Context, collection, id string) (*repositories.Point, error) {
	var p *repositories.Point
	err := s.do(ctx, "get", func(ctx context.Context) error {
		var err error
		p, err = s.next.Get(ctx, collection, id)
		return err
	})
	return p, err
}

func (s *Store) QueryByMetadata(ctx context.Context, collection string, filter repositories.Filter) ([]repositories.Point, error) {
	var points []repositories.Point
	err := s.do(ctx, "query_by_metadata", func(ctx context.Context) error {
		var err error
		points, err = s.next.QueryByMetadata(ctx, collection, filter)
		return err
	})
	return points, err
}

func (s *Store) QueryBySimilarity(ctx context.Context, collection string, embedding []float32, filter repositories.Filter, limit int) ([]repositories.ScoredPoint, error) {
	var scored []repositories.ScoredPoint
	err := s.do(ctx, "query_by_similarity", func(ctx context.Context) error {
		var err error
		scored, err = s.next.QueryBySimilarity(ctx, collection, embedding, filter, limit)
		return err
	})
	return scored, err
}

func (s *Store) Close() error {
	return s.next.Close()
}

// do runs call until it succeeds, fails permanently, or retries run out
func (s *Store) do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	delay := s.config.RetryDelay
	var lastErr error

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Debug("retrying store operation", "op", op, "attempt", attempt, "max_retries", s.config.MaxRetries)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		err := s.attempt(ctx, call)
		if err == nil {
			if attempt > 0 {
				s.logger.Info("store operation succeeded after retry", "op", op, "attempts", attempt+1)
			}
			return nil
		}

		if !retryable(ctx, err) {
			return err
		}

		lastErr = err
		if attempt < s.config.MaxRetries {
			s.logger.Warn("store operation failed, retrying", "op", op, "attempt", attempt+1, "error", err)
		}
	}

	s.logger.Error("store operation failed after all retries", "op", op, "attempts", s.config.MaxRetries+1, "error", lastErr)
	return &domain.UpstreamError{Upstream: "store", Op: op, Err: lastErr}
}

func (s *Store) attempt(ctx context.Context, call func(ctx context.Context) error) error {
	if s.config.Timeout <= 0 {
		return call(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	return call(attemptCtx)
}

// retryable reports whether err is worth another attempt. Missing points and
// caller cancellation are final.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
