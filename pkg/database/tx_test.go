package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

type recordingObserver struct {
	name     string
	attempts int
	err      error
}

func (o *recordingObserver) ObserveTransaction(name string, attempts int, err error) {
	o.name = name
	o.attempts = attempts
	o.err = err
}

func newMockTx(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestWithTransactionCommits(t *testing.T) {
	db, mock := newMockTx(t)
	obs := &recordingObserver{}
	mgr := NewTxManager(db, TxOptions{Observer: obs})

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE classes").WithArgs("c1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := mgr.WithTransaction(context.Background(), "class.bump", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(context.Background(), "UPDATE classes SET current_students = current_students + 1 WHERE id = $1", "c1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "class.bump", obs.name)
	assert.Equal(t, 1, obs.attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRetriesSerializationFailure(t *testing.T) {
	db, mock := newMockTx(t)
	obs := &recordingObserver{}
	mgr := NewTxManager(db, TxOptions{Observer: obs})

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE classes").WillReturnError(&pq.Error{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE classes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	calls := 0
	err := mgr.WithTransaction(context.Background(), "class.bump", func(tx *sqlx.Tx) error {
		calls++
		_, err := tx.ExecContext(context.Background(), "UPDATE classes SET current_students = current_students + 1 WHERE id = $1", "c1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, obs.attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRetriesTransientCommit(t *testing.T) {
	db, mock := newMockTx(t)
	mgr := NewTxManager(db, TxOptions{})

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40P01", Message: "deadlock detected"})
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := mgr.WithTransaction(context.Background(), "noop", func(tx *sqlx.Tx) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionBusinessErrorAbortsWithoutRetry(t *testing.T) {
	db, mock := newMockTx(t)
	obs := &recordingObserver{}
	mgr := NewTxManager(db, TxOptions{Observer: obs})

	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err := mgr.WithTransaction(context.Background(), "student.transfer", func(tx *sqlx.Tx) error {
		calls++
		return appErrors.Clone(appErrors.ErrClassFull, "target class is full")
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrClassFull))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, obs.attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionExhaustsRetries(t *testing.T) {
	db, mock := newMockTx(t)
	mgr := NewTxManager(db, TxOptions{MaxAttempts: 3})

	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	calls := 0
	err := mgr.WithTransaction(context.Background(), "payment.record", func(tx *sqlx.Tx) error {
		calls++
		return fmt.Errorf("lock payment: %w", &pq.Error{Code: "40001"})
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, appErrors.ErrTransactionFailed.Code, appErrors.FromError(err).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionRollsBackOnPanic(t *testing.T) {
	db, mock := newMockTx(t)
	mgr := NewTxManager(db, TxOptions{})

	mock.ExpectBegin()
	mock.ExpectRollback()

	assert.Panics(t, func() {
		_ = mgr.WithTransaction(context.Background(), "panic", func(tx *sqlx.Tx) error {
			panic("boom")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransactionStopsWhenContextCancelled(t *testing.T) {
	db, mock := newMockTx(t)
	mgr := NewTxManager(db, TxOptions{Backoff: 1})

	ctx, cancel := context.WithCancel(context.Background())
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := mgr.WithTransaction(ctx, "cancelled", func(tx *sqlx.Tx) error {
		cancel()
		return &pq.Error{Code: "40001"}
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want appErrors.Kind
	}{
		{"nil", nil, appErrors.KindUnknown},
		{"serialization", &pq.Error{Code: "40001"}, appErrors.KindTransient},
		{"deadlock wrapped", fmt.Errorf("transfer: %w", &pq.Error{Code: "40P01"}), appErrors.KindTransient},
		{"wrapped in app error", appErrors.Wrap(&pq.Error{Code: "40001"}, "INTERNAL_ERROR", 500, "failed"), appErrors.KindTransient},
		{"unique", &pq.Error{Code: "23505"}, appErrors.KindConflict},
		{"check", &pq.Error{Code: "23514"}, appErrors.KindValidation},
		{"invalid text", &pq.Error{Code: "22P02"}, appErrors.KindValidation},
		{"other pq", &pq.Error{Code: "42P01"}, appErrors.KindUnknown},
		{"bad conn", driver.ErrBadConn, appErrors.KindTransient},
		{"no rows", fmt.Errorf("find class: %w", sql.ErrNoRows), appErrors.KindNotFound},
		{"business", appErrors.ErrScoreLocked, appErrors.KindConflict},
		{"plain", errors.New("boom"), appErrors.KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestUniqueViolationHelpers(t *testing.T) {
	err := fmt.Errorf("create user: %w", &pq.Error{Code: "23505", Constraint: "users_school_email_key"})
	assert.True(t, IsUniqueViolation(err))
	assert.Equal(t, "users_school_email_key", ConstraintName(err))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}
