package scan

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConfig marks a configuration the caller must fix; never retried.
	ErrConfig = errors.New("invalid scan configuration")
	// ErrCapacity marks a configuration whose summary chain would not
	// terminate.
	ErrCapacity = errors.New("scan chain cannot terminate")
	// ErrDevice marks an unrecoverable failure reported by the device.
	ErrDevice = errors.New("device failure")
)

// kindError tags an error with one of the sentinels above while keeping the
// underlying cause reachable.
type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%v: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%v: %s", e.kind, e.msg)
}

func (e *kindError) Is(target error) bool { return target == e.kind }
func (e *kindError) Unwrap() error        { return e.cause }

// Errorf returns an error of the given kind.
func Errorf(kind error, format string, args ...any) error {
	return errors.WithStack(&kindError{kind: kind, msg: fmt.Sprintf(format, args...)})
}

// Wrapf tags cause with kind. A nil cause yields nil.
func Wrapf(kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return errors.WithStack(&kindError{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause})
}
