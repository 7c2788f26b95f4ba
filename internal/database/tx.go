package database

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"engagement/internal/config"
	"engagement/internal/models"
	"engagement/internal/observability"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// Postgres SQLSTATEs that mean "another transaction got there first".
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
)

// IsConflict reports whether err is a store write conflict that is safe to
// retry by re-running the whole transaction body.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if models.IsCode(err, models.CodeConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable:
			return true
		}
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// TxOptions tunes the retry policy of a TxRunner.
type TxOptions struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// TxOptionsFromConfig reads the TX_* settings.
func TxOptionsFromConfig(cfg *config.Config) TxOptions {
	return TxOptions{
		MaxAttempts:    cfg.TxMaxAttempts,
		InitialBackoff: cfg.TxBackoffInitial(),
		MaxBackoff:     cfg.TxBackoffMax(),
	}
}

// TxRunner runs a function inside a store transaction and re-runs it from the
// top when the store reports a write conflict.
type TxRunner struct {
	db   *gorm.DB
	opts TxOptions
}

// NewTxRunner creates a runner over db. Zero options fall back to 5 attempts
// with a 10ms..250ms exponential backoff.
func NewTxRunner(db *gorm.DB, opts TxOptions) *TxRunner {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 5
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 10 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = 250 * time.Millisecond
	}
	return &TxRunner{db: db, opts: opts}
}

// DB returns the underlying handle for reads outside a transaction.
func (r *TxRunner) DB() *gorm.DB {
	return r.db
}

// Run executes fn in a transaction. fn must do all of its store access
// through the tx it is given and must be safe to run more than once.
//
// The transaction itself runs under a context detached from the caller's
// cancellation: once an attempt starts it commits or rolls back on its own.
// Cancellation is checked between attempts. Conflicts that outlast
// MaxAttempts surface as CodeTransient; every other error is returned as is.
func (r *TxRunner) Run(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	defer observability.TrackTx(op)()

	txCtx := context.WithoutCancel(ctx)
	attempts := 0

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialBackoff
	b.MaxInterval = r.opts.MaxBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if attempts > 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return struct{}{}, backoff.Permanent(models.NewTransientError(attempts, ctxErr))
			}
		}
		attempts++

		err := r.db.WithContext(txCtx).Transaction(fn)
		if err == nil {
			return struct{}{}, nil
		}
		if IsConflict(err) {
			return struct{}{}, models.NewConflictError(err)
		}
		return struct{}{}, backoff.Permanent(err)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.opts.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			observability.TxRetries.WithLabelValues(op).Inc()
			observability.Logger.WarnContext(ctx, "retrying transaction after conflict",
				slog.String("op", op),
				slog.Int("attempt", attempts),
				slog.Duration("next", next),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err == nil {
		return nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	switch {
	case models.IsInvariantViolation(err):
		observability.InvariantViolations.WithLabelValues(op).Inc()
		observability.Logger.ErrorContext(ctx, "transaction aborted on invariant violation",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return err
	case models.IsCode(err, models.CodeConflict):
		return models.NewTransientError(attempts, err)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if models.IsCode(err, models.CodeTransient) {
			return err
		}
		return models.NewTransientError(attempts, err)
	}
	return err
}
