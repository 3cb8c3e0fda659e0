// Package slurm implements the scheduler backend for SLURM-managed
// clusters, driving the sbatch/scancel/squeue/sacct command-line tools.
package slurm

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gridbatch/gridbatch/pkg/hpc"
)

// callTimeout bounds the wall-clock duration of one scheduler CLI call.
// Long-running work happens inside the submitted job, never inline here.
const callTimeout = 30 * time.Second

// ExecCommandFunc builds the command used for one scheduler call. Tests
// inject a fake; production uses exec.CommandContext.
type ExecCommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Config carries the scheduler directives rendered into every
// submission script.
type Config struct {
	// Account is the allocation to charge. Required.
	Account string

	// Walltime is the requested wall-clock limit, HH:MM:SS. Required.
	Walltime string

	// Partition is the queue to submit to. Optional.
	Partition string

	// Memory is the per-node memory request in MB. Optional.
	Memory int

	// Nodes is the node count per job. Defaults to 1.
	Nodes int
}

// Backend drives a real SLURM scheduler.
type Backend struct {
	cfg  Config
	exec ExecCommandFunc

	mu      sync.Mutex
	tracked map[string]struct{}
}

// New creates a SLURM backend with the given directives.
func New(cfg Config) (*Backend, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("slurm: account is required")
	}
	if cfg.Walltime == "" {
		return nil, fmt.Errorf("slurm: walltime is required")
	}
	if cfg.Nodes <= 0 {
		cfg.Nodes = 1
	}
	return &Backend{
		cfg:     cfg,
		exec:    exec.CommandContext,
		tracked: make(map[string]struct{}),
	}, nil
}

// WithExec overrides the command constructor. Intended for tests.
func (b *Backend) WithExec(f ExecCommandFunc) *Backend {
	b.exec = f
	return b
}

// Submit runs sbatch for the script and parses the assigned job id.
func (b *Backend) Submit(ctx context.Context, scriptPath string) (hpc.SubmitOutcome, string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	cmd := b.exec(ctx, "sbatch", "--parsable", scriptPath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		berr := &hpc.BackendError{Op: "Submit", Backend: "slurm", Err: classify(ctx, out, err)}
		if hpc.IsTransient(berr) {
			return hpc.SubmitTransientFailure, "", berr
		}
		return hpc.SubmitRejected, "", berr
	}

	// sbatch --parsable prints "<jobid>" or "<jobid>;<cluster>".
	jobID := strings.TrimSpace(string(out))
	if i := strings.IndexByte(jobID, ';'); i >= 0 {
		jobID = jobID[:i]
	}
	if jobID == "" {
		return hpc.SubmitTransientFailure, "", &hpc.BackendError{
			Op: "Submit", Backend: "slurm",
			Err: fmt.Errorf("%w: sbatch returned no job id", hpc.ErrUnavailable),
		}
	}

	b.mu.Lock()
	b.tracked[jobID] = struct{}{}
	b.mu.Unlock()

	return hpc.SubmitAccepted, jobID, nil
}

// Cancel runs scancel for the job. scancel succeeds for jobs that are
// already terminal, which gives us the required idempotency.
func (b *Backend) Cancel(ctx context.Context, jobID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	cmd := b.exec(ctx, "scancel", jobID)
	out, err := cmd.CombinedOutput()
	if err != nil {
		// An unknown job id is not an error: the job is gone either way.
		if strings.Contains(strings.ToLower(string(out)), "invalid job id") {
			return 0, nil
		}
		return 1, &hpc.BackendError{Op: "Cancel", Backend: "slurm", JobID: jobID, Err: classify(ctx, out, err)}
	}
	return 0, nil
}

// CheckStatus queries one job, first via squeue (active jobs) and then via
// sacct (finished jobs). A job neither knows about is StatusNone.
func (b *Backend) CheckStatus(ctx context.Context, jobID string) (hpc.JobInfo, error) {
	statuses, err := b.queryStatuses(ctx, []string{jobID})
	if err != nil {
		return hpc.JobInfo{}, err
	}
	st, ok := statuses[jobID]
	if !ok {
		st = hpc.StatusNone
	}
	return hpc.JobInfo{JobID: jobID, Status: st}, nil
}

// CheckStatuses bulk-queries every tracked job in one squeue call,
// defaulting jobs the scheduler no longer reports to StatusNone.
func (b *Backend) CheckStatuses(ctx context.Context) (map[string]hpc.JobStatus, error) {
	b.mu.Lock()
	ids := make([]string, 0, len(b.tracked))
	for id := range b.tracked {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	sort.Strings(ids)

	if len(ids) == 0 {
		return map[string]hpc.JobStatus{}, nil
	}

	statuses, err := b.queryStatuses(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := statuses[id]; !ok {
			statuses[id] = hpc.StatusNone
		}
	}
	return statuses, nil
}

func (b *Backend) queryStatuses(ctx context.Context, ids []string) (map[string]hpc.JobStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	out := make(map[string]hpc.JobStatus, len(ids))

	// Active jobs: one squeue call covers every id.
	cmd := b.exec(ctx, "squeue", "-h", "-o", "%i|%T", "-j", strings.Join(ids, ","))
	raw, err := cmd.CombinedOutput()
	if err != nil && !isUnknownJobOutput(raw) {
		return nil, &hpc.BackendError{Op: "CheckStatuses", Backend: "slurm", Err: classify(ctx, raw, err)}
	}
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		fields := strings.SplitN(strings.TrimSpace(line), "|", 2)
		if len(fields) != 2 {
			continue
		}
		out[fields[0]] = mapState(fields[1])
	}

	// Finished jobs fall out of squeue; ask accounting for the rest.
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		st, err := b.queryAccounting(ctx, id)
		if err != nil {
			return nil, err
		}
		if st != hpc.StatusNone {
			out[id] = st
		}
	}
	return out, nil
}

func (b *Backend) queryAccounting(ctx context.Context, jobID string) (hpc.JobStatus, error) {
	cmd := b.exec(ctx, "sacct", "-n", "-P", "-X", "-j", jobID, "-o", "State")
	raw, err := cmd.CombinedOutput()
	if err != nil {
		return hpc.StatusNone, &hpc.BackendError{Op: "CheckStatus", Backend: "slurm", JobID: jobID, Err: classify(ctx, raw, err)}
	}
	line := strings.TrimSpace(string(raw))
	if line == "" {
		// Purged history. Report none rather than fail.
		return hpc.StatusNone, nil
	}
	return mapState(strings.SplitN(line, "\n", 2)[0]), nil
}

// mapState translates a SLURM state string into the backend-neutral
// status enumeration. CANCELLED states carry a "by <uid>" suffix.
func mapState(state string) hpc.JobStatus {
	state = strings.ToUpper(strings.TrimSpace(state))
	if i := strings.IndexByte(state, ' '); i >= 0 {
		state = state[:i]
	}
	switch state {
	case "PENDING", "CONFIGURING", "REQUEUED", "RESV_DEL_HOLD", "SUSPENDED":
		return hpc.StatusQueued
	case "RUNNING", "COMPLETING", "STAGE_OUT", "RESIZING", "SIGNALING":
		return hpc.StatusRunning
	case "COMPLETED":
		return hpc.StatusComplete
	case "FAILED", "CANCELLED", "TIMEOUT", "NODE_FAIL", "PREEMPTED",
		"BOOT_FAIL", "DEADLINE", "OUT_OF_MEMORY", "REVOKED":
		return hpc.StatusFailed
	default:
		return hpc.StatusNone
	}
}

// CreateSubmissionScript renders #SBATCH directives ahead of the command
// body and writes the script atomically with execute permission.
func (b *Backend) CreateSubmissionScript(name, body, path string) error {
	directives := []string{
		fmt.Sprintf("#SBATCH --job-name=%s", name),
		fmt.Sprintf("#SBATCH --account=%s", b.cfg.Account),
		fmt.Sprintf("#SBATCH --time=%s", b.cfg.Walltime),
		fmt.Sprintf("#SBATCH --nodes=%d", b.cfg.Nodes),
		fmt.Sprintf("#SBATCH --output=%s.o%%j", name),
		fmt.Sprintf("#SBATCH --error=%s.e%%j", name),
	}
	if b.cfg.Partition != "" {
		directives = append(directives, fmt.Sprintf("#SBATCH --partition=%s", b.cfg.Partition))
	}
	if b.cfg.Memory > 0 {
		directives = append(directives, fmt.Sprintf("#SBATCH --mem=%d", b.cfg.Memory))
	}
	return hpc.WriteScript(path, hpc.RenderScript(directives, body))
}

// LocalScratch prefers the node-local scratch directory SLURM exposes to
// the job, falling back to TMP/TEMP and then /tmp/scratch.
func (b *Backend) LocalScratch() string {
	if dir := os.Getenv("LOCAL_SCRATCH"); dir != "" {
		return dir
	}
	return hpc.ScratchFromEnv("/tmp/scratch")
}

// NumCPUs returns the CPU count of the current node.
func (b *Backend) NumCPUs() int {
	return runtime.NumCPU()
}

// RequiredConfigParams lists the directives New refuses to run without.
func (b *Backend) RequiredConfigParams() []string {
	return []string{"account", "walltime"}
}

// OptionalConfigParams maps optional directives to their defaults.
func (b *Backend) OptionalConfigParams() map[string]string {
	return map[string]string{
		"partition": "",
		"memory":    "0",
		"nodes":     "1",
	}
}

// Close is a no-op: the scheduler owns all job state.
func (b *Backend) Close() error {
	return nil
}

// classify maps CLI failures onto the backend error taxonomy. Transport
// problems and timeouts are transient; everything else is permanent.
func classify(ctx context.Context, output []byte, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", hpc.ErrTimeout, err)
	}
	msg := strings.ToLower(string(output))
	for _, transient := range []string{
		"connection refused",
		"connection timed out",
		"socket timed out",
		"unable to contact slurm controller",
		"temporarily unavailable",
	} {
		if strings.Contains(msg, transient) {
			return fmt.Errorf("%w: %s", hpc.ErrUnavailable, strings.TrimSpace(string(output)))
		}
	}
	if _, lookupErr := exec.LookPath("sbatch"); lookupErr != nil {
		return fmt.Errorf("%w: slurm tools not found in PATH", hpc.ErrUnavailable)
	}
	return fmt.Errorf("%w: %s", hpc.ErrRejected, strings.TrimSpace(string(output)))
}

func isUnknownJobOutput(output []byte) bool {
	return strings.Contains(strings.ToLower(string(output)), "invalid job id")
}

// Compile-time check.
var _ hpc.Backend = (*Backend)(nil)
