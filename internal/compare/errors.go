package compare

import (
	"context"
	"errors"
	"fmt"

	"github.com/billion-lines/compare/internal/extsort"
	"github.com/billion-lines/compare/internal/mmap"
)

// ErrorKind is the transport-level error discriminator surfaced to the
// UI in error events.
type ErrorKind string

const (
	KindPath      ErrorKind = "PathError"
	KindIO        ErrorKind = "IoError"
	KindSpill     ErrorKind = "SpillError"
	KindOOM       ErrorKind = "OutOfMemory"
	KindCancelled ErrorKind = "Cancelled"
	KindInternal  ErrorKind = "Internal"
)

// Error wraps a pipeline failure with its kind. The first error aborts
// the pipeline; nothing is ever retried or swallowed.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// internalf reports an invariant violation. Reaching it is a defect.
func internalf(format string, args ...any) error {
	return &Error{Kind: KindInternal, Err: fmt.Errorf(format, args...)}
}

func classify(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Err: errors.New("comparison cancelled")}
	case errors.Is(err, mmap.ErrNotRegularFile):
		return &Error{Kind: KindPath, Err: err}
	case errors.Is(err, extsort.ErrSpill):
		return &Error{Kind: KindSpill, Err: err}
	default:
		return &Error{Kind: KindIO, Err: err}
	}
}
