package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a reelnote error code.
type ErrorCode string

const (
	ErrInvalidRequest            ErrorCode = "INVALID_REQUEST"            // 400
	ErrInvalidCredential         ErrorCode = "INVALID_CREDENTIAL"         // 400
	ErrMissingCredential         ErrorCode = "MISSING_CREDENTIAL"         // 401
	ErrNotFound                  ErrorCode = "NOT_FOUND"                  // 404
	ErrDuplicateCategory         ErrorCode = "DUPLICATE_CATEGORY"         // 409
	ErrPendingInFlight           ErrorCode = "PENDING_IN_FLIGHT"          // 409
	ErrNoPending                 ErrorCode = "NO_PENDING"                 // 409
	ErrCancelled                 ErrorCode = "CANCELLED"                  // 499
	ErrPersistenceFailure        ErrorCode = "PERSISTENCE_FAILURE"        // 500
	ErrInternal                  ErrorCode = "INTERNAL"                   // 500
	ErrClassificationUnavailable ErrorCode = "CLASSIFICATION_UNAVAILABLE" // 503
)

// ReelError represents a structured error with code, status, and details.
type ReelError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *ReelError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ReelError) Unwrap() error {
	return e.Err
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *ReelError {
	return &ReelError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidCredential creates a 400 error for an empty or malformed API key.
func NewInvalidCredential(msg string) *ReelError {
	return &ReelError{
		Code:    ErrInvalidCredential,
		Status:  400,
		Message: msg,
	}
}

// NewMissingCredential creates a 401 error when an operation needs an API key
// and none is stored.
func NewMissingCredential() *ReelError {
	return &ReelError{
		Code:    ErrMissingCredential,
		Status:  401,
		Message: "no API key stored; set one with `reelnote key set`",
	}
}

// NewNotFound creates a 404 error for when a reel cannot be found.
func NewNotFound(identifier string) *ReelError {
	return &ReelError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("reel not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewDuplicateCategory creates a 409 error for category name collisions.
func NewDuplicateCategory(name, existing string) *ReelError {
	return &ReelError{
		Code:    ErrDuplicateCategory,
		Status:  409,
		Message: fmt.Sprintf("category %q already exists", existing),
		Details: map[string]any{"name": name, "existing": existing},
	}
}

// NewPendingInFlight creates a 409 error when shared content arrives while
// another item is still awaiting a category.
func NewPendingInFlight(url string) *ReelError {
	return &ReelError{
		Code:    ErrPendingInFlight,
		Status:  409,
		Message: "another shared reel is still awaiting a category; save or cancel it first",
		Details: map[string]any{"pending_url": url},
	}
}

// NewNoPending creates a 409 error when a selection is made with nothing pending.
func NewNoPending() *ReelError {
	return &ReelError{
		Code:    ErrNoPending,
		Status:  409,
		Message: "no shared reel is awaiting a category",
	}
}

// NewCancelled creates a 499 error when an operation is cancelled by its context.
func NewCancelled(op string) *ReelError {
	return &ReelError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
		Details: map[string]any{"operation": op},
	}
}

// NewPersistenceFailure creates a 500 error when the key-value layer rejects
// a read or write.
func NewPersistenceFailure(op, key string, err error) *ReelError {
	msg := fmt.Sprintf("%s %s failed", op, key)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &ReelError{
		Code:    ErrPersistenceFailure,
		Status:  500,
		Message: msg,
		Details: map[string]any{"operation": op, "key": key},
		Err:     err,
	}
}

// NewClassificationUnavailable creates a 503 error when every model in the
// fallback chain failed.
func NewClassificationUnavailable(attempts int, err error) *ReelError {
	msg := fmt.Sprintf("classification unavailable after %d attempts", attempts)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &ReelError{
		Code:    ErrClassificationUnavailable,
		Status:  503,
		Message: msg,
		Details: map[string]any{"attempts": attempts},
		Err:     err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the cause is kept in Details for logging.
func NewInternal(err error) *ReelError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &ReelError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		Err:     err,
	}
}

// Is checks if err, or any error it wraps, is a ReelError with the given code.
func Is(err error, code ErrorCode) bool {
	var rErr *ReelError
	if stderrors.As(err, &rErr) {
		return rErr.Code == code
	}
	return false
}

// As returns the ReelError in err's chain, if any.
func As(err error) (*ReelError, bool) {
	var rErr *ReelError
	ok := stderrors.As(err, &rErr)
	return rErr, ok
}
