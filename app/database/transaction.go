package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	DefaultStatementTimeout = 30 * time.Second
	DefaultLockTimeout      = 15 * time.Second
	ReadLockTimeout         = 10 * time.Second
	DefaultMaxRetries       = 5

	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// PostgreSQL SQLSTATE codes that are safe to retry
const (
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
)

// Querier is the statement surface handed to transactional work.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type TxFunc func(ctx context.Context, tx Querier) error

type TxOptions struct {
	Isolation        sql.IsolationLevel
	ReadOnly         bool
	StatementTimeout time.Duration
	LockTimeout      time.Duration
	MaxRetries       int // total attempts, including the first
}

func (o TxOptions) withDefaults() TxOptions {
	if o.StatementTimeout <= 0 {
		o.StatementTimeout = DefaultStatementTimeout
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	return o
}

// RetryExhaustedError is returned when every attempt failed with a transient error.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("transaction failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

type txContextKey struct{}

type txState struct {
	tx    *sql.Tx
	depth int
}

// TxRunner executes units of work in PostgreSQL transactions with
// per-transaction timeouts and bounded retries on lock conflicts.
// A Run inside another Run joins the outer transaction.
type TxRunner struct {
	db    *sql.DB
	sleep func(ctx context.Context, d time.Duration) error
}

func NewTxRunner(db *DB) *TxRunner {
	return &TxRunner{
		db:    db.DB,
		sleep: sleepContext,
	}
}

func (r *TxRunner) Run(ctx context.Context, opts TxOptions, fn TxFunc) error {
	if state, ok := ctx.Value(txContextKey{}).(*txState); ok {
		nested := &txState{tx: state.tx, depth: state.depth + 1}
		return fn(context.WithValue(ctx, txContextKey{}, nested), state.tx)
	}

	opts = opts.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		err := r.runOnce(ctx, opts, fn)
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}

		lastErr = err
		if attempt == opts.MaxRetries {
			break
		}

		delay := backoffDelay(attempt)
		slog.Warn("Transaction conflict, retrying",
			"attempt", attempt,
			"max_attempts", opts.MaxRetries,
			"delay", delay.String(),
			"error", err)

		if err := r.sleep(ctx, delay); err != nil {
			return fmt.Errorf("transaction retry aborted: %w", err)
		}
	}

	return &RetryExhaustedError{Attempts: opts.MaxRetries, Err: lastErr}
}

// Read runs fn in a read-only transaction with the shorter read lock timeout.
func (r *TxRunner) Read(ctx context.Context, fn TxFunc) error {
	return r.Run(ctx, TxOptions{ReadOnly: true, LockTimeout: ReadLockTimeout}, fn)
}

func (r *TxRunner) Write(ctx context.Context, fn TxFunc) error {
	return r.Run(ctx, TxOptions{}, fn)
}

// RunTx is Run for work that produces a value.
func RunTx[T any](ctx context.Context, r *TxRunner, opts TxOptions, fn func(ctx context.Context, tx Querier) (T, error)) (T, error) {
	var result T
	err := r.Run(ctx, opts, func(ctx context.Context, tx Querier) error {
		value, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	return result, err
}

// TxDepth reports how many Run calls enclose ctx; zero outside a transaction.
func TxDepth(ctx context.Context) int {
	if state, ok := ctx.Value(txContextKey{}).(*txState); ok {
		return state.depth
	}
	return 0
}

func (r *TxRunner) runOnce(ctx context.Context, opts TxOptions, fn TxFunc) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Error("Failed to roll back transaction", "error", rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", opts.StatementTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set statement timeout: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", opts.LockTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}

	txCtx := context.WithValue(ctx, txContextKey{}, &txState{tx: tx, depth: 1})
	if err := fn(txCtx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return nil
}

// IsTransientError reports whether err is a lock or serialization conflict.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeDeadlockDetected, codeLockNotAvailable, codeSerializationFailure:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "lock timeout") ||
		strings.Contains(msg, "could not serialize")
}

func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return retryMaxDelay
	}
	return min(retryBaseDelay<<(attempt-1), retryMaxDelay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
