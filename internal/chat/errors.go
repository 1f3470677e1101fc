package chat

import (
	"errors"
	"fmt"
)

// Kind classifies expected failure modes so callers can choose between
// retrying, showing a terminal state, or absorbing the condition.
type Kind int

const (
	KindUnknown    Kind = iota
	KindTransient       // connectivity or timeout; retryable
	KindNotFound        // room or required parent resource missing; terminal
	KindPermission      // rejected by authorization; terminal, shown not retried
	KindConflict        // duplicate join, duplicate delivery; absorbed internally
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a structured outcome for expected conditions. Expected failures
// travel as values, not panics; only malformed inputs are treated as defects.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with an operation name and kind.
func E(op string, kind Kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the Kind from err. Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the caller should offer a retry rather than a
// terminal failure state.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindUnknown:
		return true
	default:
		return false
	}
}

// classifyFetch maps an I/O failure onto the taxonomy. Backend implementations
// return *Error values already; a raw deadline or cancellation from the fetch
// timeout is transient, never a domain failure.
func classifyFetch(op string, err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return E(op, KindTransient, err)
}
