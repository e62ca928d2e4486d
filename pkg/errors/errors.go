package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
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

// Is matches errors by code so sentinel comparisons survive Clone and Wrap.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e != nil && t != nil && e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// Registration lifecycle errors.
var (
	ErrInvalidTransition     = New("INVALID_TRANSITION", http.StatusConflict, "transition not allowed from current status")
	ErrAlreadyProcessed      = New("ALREADY_PROCESSED", http.StatusConflict, "registration was already decided")
	ErrCapacityExceeded      = New("CAPACITY_EXCEEDED", http.StatusConflict, "activity is at capacity")
	ErrDeadlinePassed        = New("DEADLINE_PASSED", http.StatusConflict, "registration deadline has passed")
	ErrDuplicateRegistration = New("DUPLICATE_REGISTRATION", http.StatusConflict, "student already registered for activity")
	ErrActivityNotApproved   = New("ACTIVITY_NOT_APPROVED", http.StatusConflict, "activity is not open for registration")
	ErrTermLocked            = New("TERM_LOCKED", http.StatusLocked, "term is locked for writes")
)

// TermLocked builds a write-gate rejection carrying the offending lifecycle
// state so callers can surface a time-based message instead of a bare 403.
func TermLocked(state string) *Error {
	return &Error{
		Code:    ErrTermLocked.Code,
		Status:  ErrTermLocked.Status,
		Message: fmt.Sprintf("term is %s and does not accept this write", state),
	}
}

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
