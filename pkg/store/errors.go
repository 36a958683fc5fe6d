package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested resource does not exist.
// Callers distinguish it from infrastructure failures with errors.Is.
var ErrNotFound = errors.New("not found")

// ConflictError is returned when a submission reuses a run id that the
// project has already accepted. The original report is untouched.
type ConflictError struct {
	ProjectSlug string
	RunID       string
}

func (e *ConflictError) Error() string {
	if e.ProjectSlug == "" {
		return fmt.Sprintf("run %q already submitted", e.RunID)
	}

	return fmt.Sprintf(
		"run %q already submitted for project %q",
		e.RunID, e.ProjectSlug,
	)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError

	return errors.As(err, &ce)
}

// StoreError wraps an underlying persistence failure. It may be
// transient; the retry decision belongs to the caller, never to the
// store, since retrying with the same run id is unsafe.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
