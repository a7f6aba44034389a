// Package apierr defines the error kinds shared by the ArgoCD service and the
// cost-insights calculator.
//
// An *Error prints exactly its message, so composed messages can be asserted
// verbatim, while errors.Is still reports its kind:
//
//	err := apierr.NotFound("ArgoCD resource not found at %s", url)
//	errors.Is(err, apierr.ErrNotFound) // true
package apierr

import (
	"errors"
	"fmt"
)

// Kind sentinels. Match with errors.Is.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrAuthentication   = errors.New("authentication error")
	ErrNotFound         = errors.New("not found")
	ErrRequestFailed    = errors.New("request failed")
	ErrProgramInvariant = errors.New("program invariant violated")
)

// Error is a kinded error. Cause, when set, is reachable through errors.Unwrap.
type Error struct {
	kind  error
	msg   string
	cause error
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool { return target == e.kind }

// Kind returns the kind sentinel.
func (e *Error) Kind() error { return e.kind }

func newf(kind error, cause error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

func Configuration(format string, args ...any) error {
	return newf(ErrConfiguration, nil, format, args...)
}

func Authentication(format string, args ...any) error {
	return newf(ErrAuthentication, nil, format, args...)
}

func NotFound(format string, args ...any) error {
	return newf(ErrNotFound, nil, format, args...)
}

func RequestFailed(format string, args ...any) error {
	return newf(ErrRequestFailed, nil, format, args...)
}

// RequestFailedCause is RequestFailed with an underlying cause kept for errors.As.
func RequestFailedCause(cause error, format string, args ...any) error {
	return newf(ErrRequestFailed, cause, format, args...)
}

func ProgramInvariant(format string, args ...any) error {
	return newf(ErrProgramInvariant, nil, format, args...)
}

// Wrap composes msg with the underlying error's message as "<msg> : <err>"
// while keeping err (and therefore its kind) in the chain.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{msg: msg + " : " + err.Error(), err: err}
}

type wrapped struct {
	msg string
	err error
}

func (w *wrapped) Error() string { return w.msg }

func (w *wrapped) Unwrap() error { return w.err }

// KindOf returns the kind sentinel found in err's chain, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrConfiguration, ErrAuthentication, ErrNotFound, ErrRequestFailed, ErrProgramInvariant} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
