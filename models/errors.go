package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for retry and containment decisions.
type ErrorKind string

const (
	// KindAuth covers failed token exchange or rejected credentials.
	// Escalates immediately, never retried within the same cycle.
	KindAuth ErrorKind = "auth"
	// KindRetryable covers rate limiting and transient server errors.
	// Retried with backoff, then deferred to the next cycle.
	KindRetryable ErrorKind = "retryable"
	// KindFatal covers malformed requests and responses. Recorded for the
	// affected observation only, never retried.
	KindFatal ErrorKind = "fatal"
	// KindTimeout covers network ambiguity: the remote outcome is unknown
	// and must never be treated as success.
	KindTimeout ErrorKind = "timeout"
	// KindConflict covers a failed epoch precondition on a store write.
	// Benign: the losing decision is discarded.
	KindConflict ErrorKind = "conflict"
)

// Error is a classified failure carrying the operation that produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a classified failure of op.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the classification of err, defaulting to fatal for
// unclassified errors so that unknown failures are never retried blindly.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindFatal
}

// IsRetryable reports whether err should be retried with backoff.
func IsRetryable(err error) bool {
	return KindOf(err) == KindRetryable
}

// IsConflict reports whether err is a benign concurrency conflict.
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}
