// Package local implements a simulated scheduler backend that runs
// submission scripts as child processes on the local machine.
//
// The backend reports a job as running while its process is alive and as
// complete or failed once it exits. It exists for tests and for
// environments without a real scheduler.
package local

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/gridbatch/gridbatch/pkg/hpc"
)

// Backend simulates an HPC scheduler with local child processes.
//
// Synthetic job ids and the in-flight process table are owned by the
// backend instance, so multiple backends in one process do not interfere.
type Backend struct {
	mu     sync.Mutex
	nextID int64
	procs  map[string]*process
}

type process struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
}

// New creates a local backend.
func New() *Backend {
	return &Backend{procs: make(map[string]*process)}
}

// Submit starts the script as a child process and assigns a synthetic,
// monotonically increasing job id.
func (b *Backend) Submit(ctx context.Context, scriptPath string) (hpc.SubmitOutcome, string, error) {
	if err := ctx.Err(); err != nil {
		return hpc.SubmitTransientFailure, "", &hpc.BackendError{Op: "Submit", Backend: "local", Err: hpc.ErrTimeout}
	}

	if _, err := os.Stat(scriptPath); err != nil {
		return hpc.SubmitRejected, "", &hpc.BackendError{
			Op: "Submit", Backend: "local",
			Err: errors.Join(hpc.ErrInvalidScript, err),
		}
	}

	cmd := exec.Command(scriptPath)
	cmd.Env = os.Environ()
	cmd.Dir = filepath.Dir(scriptPath)

	// Job output lands next to the script, mirroring what a scheduler's
	// --output/--error directives would do.
	logFile, err := os.Create(filepath.Join(cmd.Dir, "job.log"))
	if err != nil {
		return hpc.SubmitRejected, "", &hpc.BackendError{
			Op: "Submit", Backend: "local",
			Err: errors.Join(hpc.ErrInvalidScript, err),
		}
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return hpc.SubmitRejected, "", &hpc.BackendError{
			Op: "Submit", Backend: "local",
			Err: errors.Join(hpc.ErrInvalidScript, err),
		}
	}

	b.mu.Lock()
	b.nextID++
	jobID := strconv.FormatInt(b.nextID, 10)
	p := &process{cmd: cmd, done: make(chan struct{})}
	b.procs[jobID] = p
	b.mu.Unlock()

	go func() {
		err := cmd.Wait()
		_ = logFile.Close()
		b.mu.Lock()
		p.exitCode = exitCodeFromWait(err)
		close(p.done)
		b.mu.Unlock()
	}()

	return hpc.SubmitAccepted, jobID, nil
}

func exitCodeFromWait(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	// Wait failed for a reason other than a non-zero exit.
	return 1
}

// Cancel kills the job's process if it is still alive. Cancelling a
// terminal or unknown job is a no-op returning success.
func (b *Backend) Cancel(ctx context.Context, jobID string) (int, error) {
	b.mu.Lock()
	p, ok := b.procs[jobID]
	b.mu.Unlock()
	if !ok {
		return 0, nil
	}

	select {
	case <-p.done:
		return 0, nil
	default:
	}

	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	return 0, nil
}

// CheckStatus reports the job's state from the process table. Unknown ids
// yield StatusNone.
func (b *Backend) CheckStatus(ctx context.Context, jobID string) (hpc.JobInfo, error) {
	b.mu.Lock()
	p, ok := b.procs[jobID]
	b.mu.Unlock()
	if !ok {
		return hpc.JobInfo{JobID: jobID, Status: hpc.StatusNone}, nil
	}

	select {
	case <-p.done:
		if p.exitCode == 0 {
			return hpc.JobInfo{JobID: jobID, Status: hpc.StatusComplete}, nil
		}
		return hpc.JobInfo{JobID: jobID, Status: hpc.StatusFailed}, nil
	default:
		return hpc.JobInfo{JobID: jobID, Status: hpc.StatusRunning}, nil
	}
}

// CheckStatuses reports the state of every job this backend has started.
func (b *Backend) CheckStatuses(ctx context.Context) (map[string]hpc.JobStatus, error) {
	b.mu.Lock()
	ids := make([]string, 0, len(b.procs))
	for id := range b.procs {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	out := make(map[string]hpc.JobStatus, len(ids))
	for _, id := range ids {
		info, err := b.CheckStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = info.Status
	}
	return out, nil
}

// ExitCode returns the recorded exit code for a terminal job.
func (b *Backend) ExitCode(jobID string) (int, bool) {
	b.mu.Lock()
	p, ok := b.procs[jobID]
	b.mu.Unlock()
	if !ok {
		return 0, false
	}
	select {
	case <-p.done:
		return p.exitCode, true
	default:
		return 0, false
	}
}

// CreateSubmissionScript writes an interpreter line followed by the
// command body. The local backend needs no scheduler directives.
func (b *Backend) CreateSubmissionScript(name, body, path string) error {
	return hpc.WriteScript(path, hpc.RenderScript(nil, body))
}

// LocalScratch returns TMP or TEMP if set, else the current directory.
func (b *Backend) LocalScratch() string {
	return hpc.ScratchFromEnv(".")
}

// NumCPUs returns the machine's CPU count.
func (b *Backend) NumCPUs() int {
	return runtime.NumCPU()
}

// RequiredConfigParams returns nil: the local backend has no required
// configuration.
func (b *Backend) RequiredConfigParams() []string {
	return nil
}

// OptionalConfigParams returns nil: the local backend has no optional
// configuration.
func (b *Backend) OptionalConfigParams() map[string]string {
	return nil
}

// Close kills any processes still in flight.
func (b *Backend) Close() error {
	b.mu.Lock()
	procs := make([]*process, 0, len(b.procs))
	for _, p := range b.procs {
		procs = append(procs, p)
	}
	b.mu.Unlock()

	for _, p := range procs {
		select {
		case <-p.done:
		default:
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
		}
	}
	return nil
}

// Compile-time checks.
var (
	_ hpc.Backend   = (*Backend)(nil)
	_ hpc.ExitCoder = (*Backend)(nil)
)
