package database

import (
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/lib/pq"

	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

// Postgres SQLSTATE codes the classifier cares about.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
	codeExclusionViolation   = "23P01"
	codeNotNullViolation     = "23502"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	classDataException       = "22"
)

// Classify maps a store error onto the closed error kind enum. Driver errors
// take precedence over application errors so a wrapped serialization failure
// is still reported as transient.
func Classify(err error) appErrors.Kind {
	if err == nil {
		return appErrors.KindUnknown
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return appErrors.KindTransient
		case codeUniqueViolation, codeExclusionViolation:
			return appErrors.KindConflict
		case codeNotNullViolation, codeForeignKeyViolation, codeCheckViolation:
			return appErrors.KindValidation
		}
		if string(pqErr.Code.Class()) == classDataException {
			return appErrors.KindValidation
		}
		return appErrors.KindUnknown
	}

	if errors.Is(err, driver.ErrBadConn) {
		return appErrors.KindTransient
	}
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.KindNotFound
	}
	return appErrors.KindOf(err)
}

// IsTransient reports whether the error may succeed on a fresh attempt.
func IsTransient(err error) bool {
	return Classify(err) == appErrors.KindTransient
}

// IsUniqueViolation reports whether the error is a unique index violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == codeUniqueViolation
}

// ConstraintName returns the violated constraint name, if any.
func ConstraintName(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
