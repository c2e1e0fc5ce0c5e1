package gitcore

import (
	"errors"
	"fmt"
)

// Kind classifies the failure modes the engine can surface. Callers use
// errors.Is/As against the sentinel Kind values, not string matching.
type Kind int

const (
	// NotFound covers a missing object, ref, file, or path component.
	NotFound Kind = iota
	// NotARepository means .git is absent when one is required.
	NotARepository
	// InvalidFormat means a malformed object, index, or ref.
	InvalidFormat
	// Unborn means a branch ref does not yet exist.
	Unborn
	// BranchExists means a branch-create conflicted with an existing ref.
	BranchExists
	// BranchMissing means a branch-delete or checkout target does not exist.
	BranchMissing
	// CheckoutIncomplete means the post-checkout audit found residual files.
	CheckoutIncomplete
	// IOError wraps an underlying filesystem failure.
	IOError
	// PreconditionFailed is a caller-level guard violation (e.g. deleting an untracked file).
	PreconditionFailed
	// TagExists means a tag-create conflicted with an existing ref.
	TagExists
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case NotARepository:
		return "NotARepository"
	case InvalidFormat:
		return "InvalidFormat"
	case Unborn:
		return "Unborn"
	case BranchExists:
		return "BranchExists"
	case BranchMissing:
		return "BranchMissing"
	case CheckoutIncomplete:
		return "CheckoutIncomplete"
	case IOError:
		return "IOError"
	case PreconditionFailed:
		return "PreconditionFailed"
	case TagExists:
		return "TagExists"
	default:
		return "Unknown"
	}
}

// Error is the engine's single error type. Op names the failing operation
// (e.g. "Checkout", "ReadIndex") so the façade and CLI can report context
// without parsing message text.
type Error struct {
	Kind Kind
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

// Is reports whether target is an *Error with the same Kind, so callers can
// write errors.Is(err, &gitcore.Error{Kind: gitcore.NotFound}).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
