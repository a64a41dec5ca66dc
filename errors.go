package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
)

// StorageErrorKind classifies every failure a storage operation can
// report.
type StorageErrorKind int

const (
	// KindNotFound means nothing exists at the requested path.
	KindNotFound StorageErrorKind = iota
	// KindInvalidPath means the supplied path cannot address the
	// requested kind of entry.
	KindInvalidPath
	// KindInvalidSettings means a backend was constructed with settings
	// that cannot work.
	KindInvalidSettings
	// KindInvalidData means a remote response or payload could not be
	// understood.
	KindInvalidData
	// KindAccessDenied means the supplied credentials were rejected.
	KindAccessDenied
	// KindAccessExpired means a previously valid authorization is no
	// longer accepted.
	KindAccessExpired
	// KindConnectionFailed means a connection could not be established.
	KindConnectionFailed
	// KindConnectionClosed means a connection ended before the exchange
	// completed.
	KindConnectionClosed
	// KindCancelled means the operation was interrupted before it
	// completed.
	KindCancelled
	// KindInternalError means the backend reported a failure that the
	// caller cannot act on.
	KindInternalError
	// KindNotSupported means the backend variant has no implementation
	// for the requested operation.
	KindNotSupported
	// KindOtherError is a failure that fits no other kind. The original
	// message is preserved.
	KindOtherError
)

func (k StorageErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalidPath:
		return "invalid path"
	case KindInvalidSettings:
		return "invalid settings"
	case KindInvalidData:
		return "invalid data"
	case KindAccessDenied:
		return "access denied"
	case KindAccessExpired:
		return "access expired"
	case KindConnectionFailed:
		return "connection failed"
	case KindConnectionClosed:
		return "connection closed"
	case KindCancelled:
		return "cancelled"
	case KindInternalError:
		return "internal error"
	case KindNotSupported:
		return "not supported"
	default:
		return "other error"
	}
}

// StorageError is the error type every storage operation returns. It
// carries a kind, a human-readable message, the path involved (when
// known) and an optional wrapped cause for diagnostics.
//
// The original underlying error (if any) can be accessed via
// errors.Unwrap.
type StorageError struct {
	kind  StorageErrorKind
	msg   string
	path  ObjectPath
	cause error
}

// NewError creates a StorageError without an associated path.
func NewError(kind StorageErrorKind, msg string, cause error) *StorageError {
	return &StorageError{kind: kind, msg: msg, cause: cause}
}

// NewPathError creates a StorageError associated with a path.
func NewPathError(kind StorageErrorKind, path ObjectPath, msg string, cause error) *StorageError {
	return &StorageError{kind: kind, msg: msg, path: path, cause: cause}
}

// NewNotFound reports that nothing exists at path.
func NewNotFound(path ObjectPath, cause error) *StorageError {
	return NewPathError(KindNotFound, path, fmt.Sprintf("%s was not found", path), cause)
}

// NewInvalidPath reports that path cannot address the requested entry.
func NewInvalidPath(path ObjectPath, msg string) *StorageError {
	return NewPathError(KindInvalidPath, path, msg, nil)
}

// NewInvalidData reports an uninterpretable response or payload.
func NewInvalidData(msg string, cause error) *StorageError {
	return NewError(KindInvalidData, msg, cause)
}

// NewAccessDenied reports rejected credentials.
func NewAccessDenied(msg string) *StorageError {
	return NewError(KindAccessDenied, msg, nil)
}

// NewAccessExpired reports an authorization that is no longer accepted.
func NewAccessExpired(msg string) *StorageError {
	return NewError(KindAccessExpired, msg, nil)
}

// NewConnectionFailed reports a connection that could not be made.
func NewConnectionFailed(msg string, cause error) *StorageError {
	return NewError(KindConnectionFailed, msg, cause)
}

// NewConnectionClosed reports a connection that ended prematurely.
func NewConnectionClosed(msg string, cause error) *StorageError {
	return NewError(KindConnectionClosed, msg, cause)
}

// NewInternalError reports a backend failure the caller cannot act on.
func NewInternalError(msg string, cause error) *StorageError {
	return NewError(KindInternalError, msg, cause)
}

// NewNotSupported reports an operation the backend variant does not
// implement.
func NewNotSupported(msg string) *StorageError {
	return NewError(KindNotSupported, msg, nil)
}

// NewOtherError reports a failure that fits no other kind.
func NewOtherError(msg string, cause error) *StorageError {
	return NewError(KindOtherError, msg, cause)
}

// Kind returns the error's classification.
func (e *StorageError) Kind() StorageErrorKind {
	return e.kind
}

// Path returns the path the error relates to, or the empty path.
func (e *StorageError) Path() ObjectPath {
	return e.path
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *StorageError) Unwrap() error {
	return e.cause
}

// ErrorKind classifies any error. Foreign errors map to KindOtherError,
// context cancellation to KindCancelled.
func ErrorKind(err error) StorageErrorKind {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Kind()
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}

	return KindOtherError
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind StorageErrorKind) bool {
	return err != nil && ErrorKind(err) == kind
}

// translateFSError converts a file system error into the taxonomy at
// the point it crosses into the core. Raw OS errors never escape.
func translateFSError(err error, path ObjectPath) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return NewNotFound(path, err)
	}

	return NewPathError(KindOtherError, path, path.String(), err)
}

// TransferSide says which half of a transfer failed.
type TransferSide int

const (
	// SourceSide means the stream being written failed.
	SourceSide TransferSide = iota
	// TargetSide means the storage backend failed.
	TargetSide
)

// TransferError is returned by write operations so callers can tell
// whether the problem was their data source or the storage target.
type TransferError struct {
	side TransferSide
	err  error
}

// NewSourceError wraps a failure of the input stream.
func NewSourceError(err error) *TransferError {
	return &TransferError{side: SourceSide, err: err}
}

// NewTargetError wraps a failure of the storage target.
func NewTargetError(err error) *TransferError {
	return &TransferError{side: TargetSide, err: err}
}

// Side returns which half of the transfer failed.
func (e *TransferError) Side() TransferSide {
	return e.side
}

func (e *TransferError) Error() string {
	if e.side == SourceSide {
		return fmt.Sprintf("source error: %s", e.err)
	}

	return fmt.Sprintf("target error: %s", e.err)
}

func (e *TransferError) Unwrap() error {
	return e.err
}
