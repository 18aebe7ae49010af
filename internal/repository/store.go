package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"

	maxTxAttempts = 3
)

// TxDB is a DBTX that can also open transactions.
type TxDB interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store provides access to queries and transaction scoping.
type Store struct {
	db      TxDB
	queries *Queries
	retry   func() backoff.BackOff
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db TxDB) *Store {
	return &Store{
		db:      db,
		queries: New(db),
		retry: func() backoff.BackOff {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = 20 * time.Millisecond
			eb.MaxInterval = 200 * time.Millisecond
			return backoff.WithMaxRetries(eb, maxTxAttempts-1)
		},
	}
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() Querier {
	return s.queries
}

// RunInTx executes fn within a database transaction. Wallet rows are locked
// in whatever order callers touch them, so a deadlock or serialization
// failure reruns fn on a fresh transaction; fn must reset any state it
// captures at the top of each call.
func (s *Store) RunInTx(ctx context.Context, fn func(q Querier) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if isRetryableTxError(err) {
			zap.L().Warn("transaction conflict, retrying", zap.Error(err), zap.Int("attempt", attempt))
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(op, backoff.WithContext(s.retry(), ctx))
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

func (s *Store) runOnce(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == serializationFailure || pgErr.Code == deadlockDetected
}
