package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradepost/internal/game"
	"tradepost/internal/metrics"
)

const (
	defaultMaxAttempts = 8
	defaultRetryDelay  = 75 * time.Millisecond
	maxRetryDelay      = 1200 * time.Millisecond
)

// Runner implements game.TxRunner on a pgx pool. Serialization failures
// re-run fn from scratch with exponential backoff; anything else is returned
// to the caller after rollback.
type Runner struct {
	pool        *pgxpool.Pool
	log         *slog.Logger
	maxAttempts int
	retryDelay  time.Duration
}

func NewRunner(pool *pgxpool.Pool, logger *slog.Logger, maxAttempts int) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Runner{pool: pool, log: logger, maxAttempts: maxAttempts, retryDelay: defaultRetryDelay}
}

var _ game.TxRunner = (*Runner)(nil)

func (r *Runner) WithTx(ctx context.Context, opts game.TxOptions, fn func(ctx context.Context, uow game.UnitOfWork) error) error {
	retryDelay := r.retryDelay
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		err := r.attempt(ctx, opts, fn)
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == r.maxAttempts-1 {
			metrics.TxConflicts.Inc()
			r.log.Warn("transaction conflict", "attempts", r.maxAttempts, "err", err)
			return game.ErrTxConflict
		}
		metrics.TxRetries.Inc()
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < maxRetryDelay {
			retryDelay *= 2
		}
	}
	return game.ErrTxConflict
}

func (r *Runner) attempt(ctx context.Context, opts game.TxOptions, fn func(ctx context.Context, uow game.UnitOfWork) error) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: isoLevel(opts.Isolation)})
	if err != nil {
		return err
	}
	defer tx.Rollback(context.Background())

	if err := fn(ctx, &Store{q: tx, lock: opts.Isolation == game.Serializable}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isoLevel(i game.Isolation) pgx.TxIsoLevel {
	switch i {
	case game.Serializable:
		return pgx.Serializable
	case game.RepeatableRead:
		return pgx.RepeatableRead
	default:
		return pgx.ReadCommitted
	}
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
