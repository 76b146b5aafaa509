package reactive

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrDisposed is returned when a cell is read after its scope was disposed.
var ErrDisposed = errors.New("reactive: scope disposed")

// ResolveError reports the cell whose evaluation failed.
type ResolveError struct {
	Node  string
	Cause error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Node, e.Cause)
}

func (e *ResolveError) Unwrap() error {
	return e.Cause
}

// CleanupError wraps a failing cleanup function.
type CleanupError struct {
	Node    string
	Context string
	Err     error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup %s during %s: %v", e.Node, e.Context, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

func wrapResolve(node string, err error) error {
	var re *ResolveError
	if errors.As(err, &re) {
		// keep the innermost cell, the one that actually failed
		return err
	}
	return &ResolveError{Node: node, Cause: err}
}
