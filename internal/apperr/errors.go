// Package apperr defines the error taxonomy shared by the federation packages.
//
// Packages wrap one of the sentinel kinds so callers can classify any error
// with errors.Is or KindOf, regardless of how much context was added on the
// way up.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates an unknown store, collection or rule.
	ErrNotFound = errors.New("not found")

	// ErrRouting indicates no sharding rule, or a rule that resolved to an
	// unknown store.
	ErrRouting = errors.New("routing failure")

	// ErrTimeout indicates a store or shard did not answer within its bound.
	ErrTimeout = errors.New("timeout")

	// ErrPartialDegradation indicates some shards or stores were unreachable.
	ErrPartialDegradation = errors.New("partial degradation")

	// ErrRemediation indicates a fix could not be applied. The target file is
	// left unmodified.
	ErrRemediation = errors.New("remediation failure")

	// ErrPlatformNotRunning indicates an operation outside the Ready state.
	ErrPlatformNotRunning = errors.New("platform not running")

	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = errors.New("invalid input")
)

var kinds = []error{
	ErrNotFound,
	ErrRouting,
	ErrTimeout,
	ErrPartialDegradation,
	ErrRemediation,
	ErrPlatformNotRunning,
	ErrInvalidInput,
}

// Error carries the operation that failed, its kind and the cause.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Kind == nil || errors.Is(e.Err, e.Kind):
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// E builds an *Error. err may be nil.
func E(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Errorf builds an *Error with a formatted cause.
func Errorf(op string, kind error, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the first taxonomy sentinel err matches, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
