// Package qfserrors provides QuantumFS's structured error taxonomy:
// a small set of error codes shared by every core component, carrying
// enough context to map cleanly onto POSIX errno values at the FUSE
// boundary.
package qfserrors

import (
	"errors"
	"fmt"
	"syscall"
)

// Code identifies the category of failure. These mirror spec.md §7's
// taxonomy exactly.
type Code string

const (
	CodeInvalidHash     Code = "INVALID_HASH"
	CodeNotFound        Code = "NOT_FOUND"
	CodeNotADirectory   Code = "NOT_A_DIRECTORY"
	CodeNotAFile        Code = "NOT_A_FILE"
	CodeNoSuchRevision  Code = "NO_SUCH_REVISION"
	CodeStoreUnreachable Code = "STORE_UNREACHABLE"
	CodeCorruptObject   Code = "CORRUPT_OBJECT"
	CodeDatabaseError   Code = "DATABASE_ERROR"
	CodeIO              Code = "IO"
	CodeDuplicateEntry  Code = "DUPLICATE_ENTRY"
)

// QuantumFSError is the error type returned by every core package.
type QuantumFSError struct {
	Code      Code
	Message   string
	Component string
	Details   map[string]any
	Cause     error
}

// New creates a QuantumFSError with no cause or component set.
func New(code Code, message string) *QuantumFSError {
	return &QuantumFSError{Code: code, Message: message}
}

// Wrap creates a QuantumFSError that preserves cause's message via
// Unwrap/errors.Is compatibility.
func Wrap(code Code, message string, cause error) *QuantumFSError {
	return &QuantumFSError{Code: code, Message: message, Cause: cause}
}

func (e *QuantumFSError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *QuantumFSError) Unwrap() error {
	return e.Cause
}

// Is matches another *QuantumFSError by Code, so errors.Is(err,
// qfserrors.New(CodeNotFound, "")) works as a category test.
func (e *QuantumFSError) Is(target error) bool {
	var other *QuantumFSError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// WithComponent sets which component raised the error (for logging).
func (e *QuantumFSError) WithComponent(component string) *QuantumFSError {
	e.Component = component
	return e
}

// WithDetail attaches a key/value of debugging context.
func (e *QuantumFSError) WithDetail(key string, value any) *QuantumFSError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the Code from err if it is (or wraps) a
// *QuantumFSError, and reports whether it found one.
func CodeOf(err error) (Code, bool) {
	var qerr *QuantumFSError
	if errors.As(err, &qerr) {
		return qerr.Code, true
	}
	return "", false
}

// ToErrno maps an error to the POSIX errno the FUSE bridge should
// report, per spec.md §4.7/§7's error mapping table. Errors that are
// not (or do not wrap) a *QuantumFSError map to EIO as a safe default.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	code, ok := CodeOf(err)
	if !ok {
		return syscall.EIO
	}
	switch code {
	case CodeNotFound:
		return syscall.ENOENT
	case CodeNotADirectory:
		return syscall.ENOTDIR
	case CodeNotAFile:
		return syscall.EISDIR
	case CodeInvalidHash, CodeCorruptObject, CodeStoreUnreachable,
		CodeDatabaseError, CodeIO:
		return syscall.EIO
	case CodeDuplicateEntry:
		return syscall.EEXIST
	case CodeNoSuchRevision:
		return syscall.EIO
	default:
		return syscall.EIO
	}
}
