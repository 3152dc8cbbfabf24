package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/noah-isme/sma-school-api/pkg/database"
	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

// txRunner executes a unit of work atomically. *database.TxManager
// satisfies it; fn may be invoked more than once.
type txRunner interface {
	WithTransaction(ctx context.Context, name string, fn database.TxFunc) error
}

// notFoundOr maps sql.ErrNoRows to a not found error with the given
// message and wraps anything else as internal.
func notFoundOr(err error, notFound *appErrors.Error, message, internalMessage string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(notFound, message)
	}
	return internal(err, internalMessage)
}

// internal wraps err as an internal error unless it already is an
// application error, which is returned untouched.
func internal(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

// uniqueConflict converts a unique index violation into the given conflict error.
func uniqueConflict(err error, conflict *appErrors.Error) error {
	if database.IsUniqueViolation(err) {
		return appErrors.Wrap(err, conflict.Code, conflict.Status, conflict.Message)
	}
	return err
}
