package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed classification used by the transaction layer to decide
// whether a failure may be retried.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindConflict
	KindNotFound
	KindValidation
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Details string `json:"details,omitempty"`
	Kind    Kind   `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance. The kind is inferred from the status.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Kind: kindForStatus(status)}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Kind: kindForStatus(status), Err: err}
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	default:
		return KindUnknown
	}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid username or password")
	ErrInactiveAccount    = New("ACCOUNT_DISABLED", http.StatusForbidden, "account is disabled or awaiting approval")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrTransactionFailed    = New("TRANSACTION_FAILED", http.StatusInternalServerError, "transaction failed after retries")
	ErrSchoolNotFound       = New("SCHOOL_NOT_FOUND", http.StatusNotFound, "school not found")
	ErrSubscriptionExpired  = New("SUBSCRIPTION_EXPIRED", http.StatusForbidden, "school subscription has expired")
	ErrEmailExists          = New("EMAIL_EXISTS", http.StatusConflict, "email already registered in this school")
	ErrUsernameExists       = New("USERNAME_EXISTS", http.StatusConflict, "username already taken in this school")
	ErrClassFull            = New("CLASS_FULL", http.StatusConflict, "class has reached its capacity")
	ErrClassNotEmpty        = New("CLASS_NOT_EMPTY", http.StatusConflict, "class still has students")
	ErrCapacityBelowCount   = New("CAPACITY_BELOW_ENROLLMENT", http.StatusBadRequest, "capacity cannot be lower than current students")
	ErrScoreLocked          = New("SCORE_LOCKED", http.StatusConflict, "score is locked")
	ErrPaymentExceeds       = New("PAYMENT_EXCEEDS_BALANCE", http.StatusConflict, "payment exceeds remaining balance")
	ErrPaymentExists        = New("PAYMENT_EXISTS", http.StatusConflict, "payment record already exists")
	ErrCannotModifySelf     = New("CANNOT_MODIFY_SELF", http.StatusForbidden, "cannot remove your own user management permission")
	ErrCannotDeleteSelf     = New("CANNOT_DELETE_SELF", http.StatusForbidden, "cannot delete your own account")
	ErrAlreadyActive        = New("ALREADY_ACTIVE", http.StatusConflict, "user is already active")
	ErrInsufficientRights   = New("INSUFFICIENT_PERMISSIONS", http.StatusForbidden, "insufficient permissions")
	ErrCrossTenantForbidden = New("CROSS_TENANT_FORBIDDEN", http.StatusForbidden, "resource belongs to another school")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// KindOf reports the kind of an application error, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err is an application error carrying the given code.
func Is(err error, target *Error) bool {
	var e *Error
	if target == nil || !errors.As(err, &e) {
		return false
	}
	return e.Code == target.Code
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
