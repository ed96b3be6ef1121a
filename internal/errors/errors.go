package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a chatkeep error code.
type ErrorCode string

const (
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"         // 400
	ErrNotFound              ErrorCode = "NOT_FOUND"               // 404
	ErrMalformedRecord       ErrorCode = "MALFORMED_RECORD"        // 422
	ErrMissingAccountBinding ErrorCode = "MISSING_ACCOUNT_BINDING" // 422
	ErrInvalidExport         ErrorCode = "INVALID_EXPORT"          // 422
	ErrCancelled             ErrorCode = "CANCELLED"               // 499
	ErrInternal              ErrorCode = "INTERNAL"                // 500
	ErrStoreWriteFailure     ErrorCode = "STORE_WRITE_FAILURE"     // 500
	ErrLedgerCorruption      ErrorCode = "LEDGER_CORRUPTION"       // 500
)

// KeepError represents a structured error with code, status, and details.
type KeepError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *KeepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *KeepError) Unwrap() error {
	return e.Err
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *KeepError {
	return &KeepError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a stored record cannot be found.
func NewNotFound(identifier string) *KeepError {
	return &KeepError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("record not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewMalformedRecord creates a 422 error for an incoming record that cannot be identified.
func NewMalformedRecord(reason string) *KeepError {
	return &KeepError{
		Code:    ErrMalformedRecord,
		Status:  422,
		Message: reason,
	}
}

// NewMissingAccountBinding creates a 422 error for a record whose owning account is unknown.
func NewMissingAccountBinding(entityID string) *KeepError {
	return &KeepError{
		Code:    ErrMissingAccountBinding,
		Status:  422,
		Message: fmt.Sprintf("cannot resolve owning account for %s", entityID),
		Details: map[string]any{"entity_id": entityID},
	}
}

// NewInvalidExport creates a 422 error for an export archive with an unexpected shape.
func NewInvalidExport(archive, reason string) *KeepError {
	return &KeepError{
		Code:    ErrInvalidExport,
		Status:  422,
		Message: fmt.Sprintf("invalid export %s: %s", archive, reason),
		Details: map[string]any{"archive": archive},
	}
}

// NewCancelled creates a 499 error for an operation interrupted by its context.
func NewCancelled(op string) *KeepError {
	return &KeepError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
	}
}

// NewStoreWriteFailure creates a 500 error for a filesystem failure in the store.
// The offending path is kept in Details so callers can report it.
func NewStoreWriteFailure(path string, err error) *KeepError {
	msg := fmt.Sprintf("cannot write %s", path)
	if err != nil {
		msg = fmt.Sprintf("cannot write %s: %v", path, err)
	}
	return &KeepError{
		Code:    ErrStoreWriteFailure,
		Status:  500,
		Message: msg,
		Details: map[string]any{"path": path},
		Err:     err,
	}
}

// NewLedgerCorruption creates a 500 error for an unreadable archive ledger.
func NewLedgerCorruption(path string, line int, err error) *KeepError {
	msg := fmt.Sprintf("archive ledger %s is corrupt at line %d", path, line)
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &KeepError{
		Code:    ErrLedgerCorruption,
		Status:  500,
		Message: msg + " (fix or move the file by hand; it is never reset automatically)",
		Details: map[string]any{"path": path, "line": line},
		Err:     err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *KeepError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &KeepError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// Is checks if an error is, or wraps, a KeepError with the given code.
func Is(err error, code ErrorCode) bool {
	var kErr *KeepError
	if stderrors.As(err, &kErr) {
		return kErr.Code == code
	}
	return false
}
