package schedule

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure categories callers branch on. Every error
// leaving the dispatcher carries exactly one of these.
type Kind string

const (
	KindAuthRequired     Kind = "AUTH_REQUIRED"
	KindAuthExpired      Kind = "AUTH_EXPIRED"
	KindAuthTimeout      Kind = "AUTH_TIMEOUT"
	KindInvalidTime      Kind = "INVALID_TIME"
	KindInvalidDateRange Kind = "INVALID_DATE_RANGE"
	KindSlotUnavailable  Kind = "SLOT_UNAVAILABLE"
	KindSessionConflict  Kind = "SESSION_CONFLICT"
	KindSessionNotFound  Kind = "SESSION_NOT_FOUND"
	KindActionFailed     Kind = "ACTION_FAILED"
)

// Failure is a tagged error. CaptureRef points at the diagnostic artifact
// recorded for this failure, when one was taken.
type Failure struct {
	Kind       Kind
	Message    string
	CaptureRef string
	cause      error
}

// NewFailure builds a Failure of the given kind.
func NewFailure(kind Kind, format string, args ...interface{}) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapFailure attaches a cause so errors.Is/As keep working through the tag.
func WrapFailure(kind Kind, cause error, format string, args ...interface{}) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func (f *Failure) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.cause }

// AsFailure classifies any error into a Failure. Untyped errors become
// ACTION_FAILED so nothing escapes the taxonomy.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: KindActionFailed, Message: err.Error(), cause: err}
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind Kind) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}
