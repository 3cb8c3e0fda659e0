package hpc

import (
	"errors"
	"fmt"
)

// Sentinel errors for backend operations.
var (
	// ErrUnavailable indicates the scheduler could not be reached.
	ErrUnavailable = errors.New("scheduler unavailable")

	// ErrRejected indicates the scheduler permanently refused a submission.
	ErrRejected = errors.New("submission rejected")

	// ErrInvalidScript indicates the submission script is malformed or
	// could not be written.
	ErrInvalidScript = errors.New("invalid submission script")

	// ErrTimeout indicates a backend call exceeded its wall-clock budget.
	ErrTimeout = errors.New("scheduler call timed out")
)

// BackendError wraps backend-specific errors with context.
type BackendError struct {
	// Op is the operation that failed (e.g., "Submit", "Cancel").
	Op string

	// Backend is the backend kind (e.g., "slurm", "local").
	Backend string

	// JobID is the external job id, if applicable.
	JobID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s %s: job %s: %v", e.Backend, e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsTransient returns true if the error may clear on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}

// IsRejected returns true if the error indicates a permanent rejection.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}
