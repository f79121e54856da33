// Package provider holds the shared provider surface: the caller-facing
// error shape and the instance handle the command layer operates on.
package provider

import (
	"errors"
	"strings"

	"github.com/foundrybuild/foundry/internal/executor"
)

// ErrIncompatible marks an instance whose recorded setup, or base OS, does
// not match what the caller expects. It is fatal and non-retryable: the
// instance must be discarded and recreated.
var ErrIncompatible = errors.New("incompatible instance")

// Error is the caller-facing error contract: a one-line brief suitable for
// a single-line message, an optional multi-line diagnostic detail block,
// and an optional actionable resolution hint.
type Error struct {
	Brief      string
	Details    string
	Resolution string
	Err        error
}

func (e *Error) Error() string {
	return e.Brief
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Full renders the brief, details, and resolution as one block for
// end-of-run reporting.
func (e *Error) Full() string {
	parts := []string{e.Brief}
	if e.Details != "" {
		parts = append(parts, e.Details)
	}
	if e.Resolution != "" {
		parts = append(parts, "Resolution: "+e.Resolution)
	}
	return strings.Join(parts, "\n")
}

// WrapCommandError builds an Error for a failed step. When err carries a
// *executor.CommandError the detail block describes the failed command,
// its exit code, and captured output.
func WrapCommandError(brief string, err error) *Error {
	wrapped := &Error{Brief: brief, Err: err}

	var cmdErr *executor.CommandError
	if errors.As(err, &cmdErr) {
		wrapped.Details = cmdErr.Details()
	}
	return wrapped
}
