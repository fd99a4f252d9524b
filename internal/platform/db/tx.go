package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes the ledger reacts to.
const (
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeUniqueViolation      = "23505"
)

// ErrRetryExceeded indicates a transaction kept conflicting after its retries.
var ErrRetryExceeded = errors.New("platform/db: conflict retry exceeded")

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool Beginner, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// WithRetry runs WithTx up to attempts times, repeating only when the
// previous attempt failed with a serialization failure or deadlock. onRetry,
// when set, is told about each conflict that triggers another attempt.
func WithRetry(ctx context.Context, pool Beginner, attempts int, onRetry func(error), fn func(pgx.Tx) error) error {
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		err := WithTx(ctx, pool, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("%w: %w", ErrRetryExceeded, err)
		}
		if ctx.Err() != nil {
			return err
		}
		if onRetry != nil {
			onRetry(err)
		}
	}
}

// IsRetryable reports whether err is a transient write conflict.
func IsRetryable(err error) bool {
	code := errorCode(err)
	return code == CodeSerializationFailure || code == CodeDeadlockDetected
}

// IsUniqueViolation reports whether err is a primary or unique key conflict.
func IsUniqueViolation(err error) bool {
	return errorCode(err) == CodeUniqueViolation
}

func errorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
