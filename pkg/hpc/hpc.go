// Package hpc defines abstractions over HPC scheduler operations.
//
// Backends implement a minimal surface area focused on submitting jobs,
// cancelling them, and querying their status. The true state of a job is
// owned by the external scheduler - backends should not cache status
// beyond what a single call needs.
package hpc

import (
	"context"
)

// JobStatus is the externally observed state of a scheduler job.
//
// NOTE: These values are persisted in the result ledger and are part of the
// stable on-disk contract.
type JobStatus string

const (
	// StatusNone means the scheduler has no record of the job, either because
	// it was never submitted or because its history was purged.
	StatusNone JobStatus = "none"

	StatusQueued  JobStatus = "queued"
	StatusRunning JobStatus = "running"

	// StatusComplete means the job finished with a zero exit code.
	StatusComplete JobStatus = "complete"

	// StatusFailed means the job finished with a non-zero exit code or was
	// terminated by the scheduler.
	StatusFailed JobStatus = "failed"
)

// Terminal reports whether no further transitions can occur for the status.
func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// String returns the string representation of the status.
func (s JobStatus) String() string {
	return string(s)
}

// JobInfo describes one scheduler job as reported by a status query.
//
// JobInfo values are produced only by backend queries, never constructed
// by callers.
type JobInfo struct {
	// JobID is the scheduler-assigned identifier, opaque to callers.
	JobID string

	// Name is the job name as known to the scheduler, if reported.
	Name string

	// Status is the externally observed state.
	Status JobStatus
}

// SubmitOutcome classifies the result of a Submit call.
type SubmitOutcome string

const (
	// SubmitAccepted means the scheduler accepted the job and assigned an id.
	SubmitAccepted SubmitOutcome = "accepted"

	// SubmitRejected means the scheduler permanently refused the job.
	// Rejections are fatal to that job and must not be retried.
	SubmitRejected SubmitOutcome = "rejected"

	// SubmitTransientFailure means the submission failed for a reason that
	// may clear (transport error, scheduler busy). Callers may retry with
	// backoff up to a bounded count.
	SubmitTransientFailure SubmitOutcome = "transient_failure"
)

// Backend abstracts the mechanics of one HPC scheduler.
//
// Implementations should:
//   - Bound the wall-clock duration of every call (use the context)
//   - Return StatusNone rather than an error for unknown job ids
//   - Be safe for concurrent use
type Backend interface {
	// Submit submits the script at scriptPath to the scheduler.
	// On SubmitAccepted the returned string is the external job id.
	// The error is non-nil only for Rejected and TransientFailure outcomes.
	Submit(ctx context.Context, scriptPath string) (SubmitOutcome, string, error)

	// Cancel cancels the job. Cancelling an already-terminal or unknown job
	// returns exit code 0, not an error.
	Cancel(ctx context.Context, jobID string) (int, error)

	// CheckStatus returns the status of a single job. Unknown ids yield
	// StatusNone, never an error.
	CheckStatus(ctx context.Context, jobID string) (JobInfo, error)

	// CheckStatuses returns the status of every job this backend was asked
	// to track. Jobs the scheduler no longer knows about are reported as
	// StatusNone.
	CheckStatuses(ctx context.Context) (map[string]JobStatus, error)

	// CreateSubmissionScript renders a scheduler-specific wrapper around the
	// caller-supplied command body and writes it, executable, to path.
	// Any existing file at path is replaced atomically.
	CreateSubmissionScript(name, body, path string) error

	// LocalScratch returns the node-local scratch directory.
	LocalScratch() string

	// NumCPUs returns the CPU count available to one job.
	NumCPUs() int

	// RequiredConfigParams lists configuration keys the backend cannot
	// operate without.
	RequiredConfigParams() []string

	// OptionalConfigParams maps optional configuration keys to their
	// default values.
	OptionalConfigParams() map[string]string

	// Close releases any resources held by the backend.
	Close() error
}

// ExitCoder is implemented by backends that can report the exit code of a
// terminal job. Callers type-assert; backends without exit code visibility
// simply do not implement it.
type ExitCoder interface {
	// ExitCode returns the exit code for a terminal job id.
	// The bool is false if the job is unknown or not yet terminal.
	ExitCode(jobID string) (int, bool)
}
