package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

// DefaultMaxAttempts is the retry ceiling for transient transaction failures.
const DefaultMaxAttempts = 3

// TxFunc is a unit of work executed inside one transaction. It may run more
// than once, so it must not keep state between invocations.
type TxFunc func(tx *sqlx.Tx) error

// TxObserver receives the outcome of every unit of work.
type TxObserver interface {
	ObserveTransaction(name string, attempts int, err error)
}

type txBeginner interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// TxOptions tunes a TxManager.
type TxOptions struct {
	MaxAttempts int
	Backoff     time.Duration
	Isolation   sql.IsolationLevel
	Logger      *zap.Logger
	Observer    TxObserver
}

// TxManager runs units of work atomically and retries transient failures.
type TxManager struct {
	db          txBeginner
	maxAttempts int
	backoff     time.Duration
	isolation   sql.IsolationLevel
	logger      *zap.Logger
	observer    TxObserver
}

// NewTxManager builds a TxManager. Zero options fall back to three attempts
// at serializable isolation.
func NewTxManager(db txBeginner, opts TxOptions) *TxManager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Isolation == sql.LevelDefault {
		opts.Isolation = sql.LevelSerializable
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &TxManager{
		db:          db,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		isolation:   opts.Isolation,
		logger:      opts.Logger,
		observer:    opts.Observer,
	}
}

// WithTransaction executes fn inside a transaction. Either every write made
// by fn commits or none does. Transient failures re-run fn from scratch up to
// the retry ceiling; any other error aborts immediately and is returned as is.
func (m *TxManager) WithTransaction(ctx context.Context, name string, fn TxFunc) error {
	var lastErr error
	attempt := 0
	for attempt < m.maxAttempts {
		attempt++
		lastErr = m.runOnce(ctx, fn)
		if lastErr == nil {
			m.observe(name, attempt, nil)
			return nil
		}
		if !IsTransient(lastErr) {
			m.observe(name, attempt, lastErr)
			return lastErr
		}
		if attempt == m.maxAttempts {
			break
		}
		m.logger.Warn("transient transaction failure, retrying",
			zap.String("tx", name),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if err := m.wait(ctx, attempt); err != nil {
			m.observe(name, attempt, err)
			return err
		}
	}

	m.observe(name, attempt, lastErr)
	m.logger.Error("transaction retries exhausted", zap.String("tx", name), zap.Int("attempts", attempt), zap.Error(lastErr))
	return appErrors.Wrap(lastErr, appErrors.ErrTransactionFailed.Code, appErrors.ErrTransactionFailed.Status, appErrors.ErrTransactionFailed.Message)
}

func (m *TxManager) runOnce(ctx context.Context, fn TxFunc) (err error) {
	tx, err := m.db.BeginTxx(ctx, &sql.TxOptions{Isolation: m.isolation})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (m *TxManager) wait(ctx context.Context, attempt int) error {
	if err := ctx.Err(); err != nil || m.backoff <= 0 {
		return err
	}
	timer := time.NewTimer(time.Duration(attempt) * m.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *TxManager) observe(name string, attempts int, err error) {
	if m.observer != nil {
		m.observer.ObserveTransaction(name, attempts, err)
	}
}
