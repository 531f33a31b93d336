package meow

import (
	"errors"
	"strings"
)

// ErrStorageUnavailable marks persistence failures. Callers reply with an
// in-chat error and drop the update; reads fall back to cached state.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrorClass represents whether a storage error should be retried or not.
type ErrorClass int

const (
	// ErrorClassRetryable indicates the operation may succeed on retry (lock contention, transient I/O).
	ErrorClassRetryable ErrorClass = iota
	// ErrorClassFatal indicates the database itself is in trouble (full disk, corruption).
	ErrorClassFatal
	// ErrorClassUnknown indicates the error type cannot be determined.
	ErrorClassUnknown
)

// String returns a human-readable name for the error class.
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorClassRetryable:
		return "retryable"
	case ErrorClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifyStorageError sorts sqlite errors into retryable vs fatal categories.
//
// Retryable (transient):
// - SQLITE_BUSY / SQLITE_LOCKED (another writer holds the file)
// - interrupted or timed-out statements
//
// Fatal (the database needs operator attention):
// - disk full
// - corruption ("malformed", "not a database")
// - read-only filesystem
func ClassifyStorageError(err error) ErrorClass {
	if err == nil {
		return ErrorClassUnknown
	}
	lower := strings.ToLower(err.Error())

	if strings.Contains(lower, "database or disk is full") ||
		strings.Contains(lower, "disk full") ||
		strings.Contains(lower, "no space left") ||
		strings.Contains(lower, "malformed") ||
		strings.Contains(lower, "not a database") ||
		strings.Contains(lower, "file is encrypted") ||
		strings.Contains(lower, "readonly") ||
		strings.Contains(lower, "read-only") {
		return ErrorClassFatal
	}

	if strings.Contains(lower, "database is locked") ||
		strings.Contains(lower, "busy") ||
		strings.Contains(lower, "locked") ||
		strings.Contains(lower, "interrupted") ||
		strings.Contains(lower, "timeout") {
		return ErrorClassRetryable
	}

	return ErrorClassUnknown
}

// IsStorageUnavailable reports whether err was produced by a failed store
// operation (as opposed to, say, a bad argument).
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
