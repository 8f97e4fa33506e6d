package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"multichat/internal/domain/repositories"
)

// PoolTxRunner opens point store transactions on a pgx pool
type PoolTxRunner struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewTxRunner creates a transaction runner over pool
func NewTxRunner(pool *pgxpool.Pool, logger *slog.Logger) repositories.TxRunner {
	return &PoolTxRunner{pool: pool, logger: logger}
}

// InTx runs fn in a transaction reachable through GetExecutor(ctx)
func (r *PoolTxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	// Rollback after a successful commit is a no-op returning ErrTxClosed
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			r.logger.Warn("rollback failed", "error", err)
		}
	}()

	if err := fn(repositories.WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
