// Package runner drives every job in a configuration from pending to
// terminal against a scheduler backend and produces the result ledger.
//
// A single coordinating goroutine owns all batch state. Submission calls
// fan out concurrently up to the free-slot count and are joined before the
// next loop iteration, so the coordinator remains the only writer of job
// state and the ledger.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gridbatch/gridbatch/pkg/hpc"
	"github.com/gridbatch/gridbatch/pkg/jobs"
	"github.com/gridbatch/gridbatch/pkg/ledger"
)

// Output layout under the run's output directory.
const (
	JobsOutputDir = "jobs-output"
	ResultsDir    = "results"
)

// BatchStatus is the batch-level state.
type BatchStatus string

const (
	BatchRunning   BatchStatus = "running"
	BatchSucceeded BatchStatus = "succeeded"
	BatchFailed    BatchStatus = "failed"
	BatchAborted   BatchStatus = "aborted"
)

// ExitCode maps the batch outcome onto the process exit code contract.
func (s BatchStatus) ExitCode() int {
	switch s {
	case BatchSucceeded:
		return 0
	case BatchAborted:
		return 2
	default:
		return 1
	}
}

// Options tune the orchestration loop.
type Options struct {
	// MaxConcurrent is the submission concurrency ceiling. Zero means use
	// the backend's CPU count.
	MaxConcurrent int

	// PollInterval is the pause between status sweeps.
	PollInterval time.Duration

	// MinPollInterval is the floor on scheduler query frequency,
	// enforced regardless of PollInterval to respect rate limits.
	MinPollInterval time.Duration

	// SubmitRetries bounds re-submission attempts after transient
	// submission failures.
	SubmitRetries int

	// RetryBackoff is the base delay before a retried submission; it
	// doubles per attempt.
	RetryBackoff time.Duration

	// SilenceTimeout marks a submitted job failed ("lost") when its
	// external status has not been observed for this long.
	SilenceTimeout time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		PollInterval:    10 * time.Second,
		MinPollInterval: time.Second,
		SubmitRetries:   3,
		RetryBackoff:    2 * time.Second,
		SilenceTimeout:  10 * time.Minute,
	}
}

// jobState is the runner-private lifecycle of one job.
// Transitions only move forward: pending -> submitted -> terminal.
type jobState int

const (
	statePending jobState = iota
	stateSubmitted
	stateTerminal
)

type trackedJob struct {
	index  int
	params jobs.JobParameters
	state  jobState

	jobID       string
	attempts    int
	nextAttempt time.Time
	submittedAt time.Time
	lastSeen    time.Time

	workdir    string
	scriptPath string
	command    string
}

// Runner executes one batch. A Runner is safe for single use only.
type Runner struct {
	batchID  string
	runID    string
	cfg      *jobs.Configuration
	backend  hpc.Backend
	registry *jobs.Registry
	opts     Options
	logger   *zap.Logger

	outputDir  string
	jobsOutput string
	resultsDir string

	lg      *ledger.Ledger
	limiter *rate.Limiter

	// Batch status, readable from other goroutines (status endpoint).
	statusMu sync.RWMutex
	status   BatchStatus

	tracked      []*trackedJob
	numSubmitted int
	numTerminal  int
}

// New creates a runner for the configuration and prepares the output
// directory tree.
func New(batchID string, cfg *jobs.Configuration, backend hpc.Backend, registry *jobs.Registry, outputDir string, opts Options, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = backend.NumCPUs()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.MinPollInterval <= 0 {
		opts.MinPollInterval = def.MinPollInterval
	}
	if opts.SubmitRetries <= 0 {
		opts.SubmitRetries = def.SubmitRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = def.RetryBackoff
	}
	if opts.SilenceTimeout <= 0 {
		opts.SilenceTimeout = def.SilenceTimeout
	}

	r := &Runner{
		batchID:    batchID,
		runID:      uuid.NewString(),
		cfg:        cfg,
		backend:    backend,
		registry:   registry,
		opts:       opts,
		logger:     logger,
		outputDir:  outputDir,
		jobsOutput: filepath.Join(outputDir, JobsOutputDir),
		resultsDir: filepath.Join(outputDir, ResultsDir),
		lg:         ledger.New(batchID, cfg.NumJobs()),
		limiter:    rate.NewLimiter(rate.Every(opts.MinPollInterval), 1),
		status:     BatchRunning,
	}

	for _, dir := range []string{r.outputDir, r.jobsOutput, r.resultsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	for i, p := range cfg.Jobs() {
		r.tracked = append(r.tracked, &trackedJob{index: i, params: p, state: statePending})
	}
	return r, nil
}

// Ledger returns the runner's result ledger. Safe for concurrent reads
// while the batch runs.
func (r *Runner) Ledger() *ledger.Ledger {
	return r.lg
}

// RunID returns the unique identifier of this run. Repeat runs of the
// same batch get distinct run ids.
func (r *Runner) RunID() string {
	return r.runID
}

// Status returns the current batch-level state.
func (r *Runner) Status() BatchStatus {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()
	return r.status
}

func (r *Runner) setStatus(s BatchStatus) {
	r.statusMu.Lock()
	r.status = s
	r.statusMu.Unlock()
}

// Run drives the batch to a terminal state and persists the ledger.
//
// Cancelling the context aborts the batch: submitted jobs are cancelled on
// the backend and pending jobs are marked aborted without being submitted.
func (r *Runner) Run(ctx context.Context) (BatchStatus, error) {
	r.logger.Info("starting batch",
		zap.String("batch_id", r.batchID),
		zap.String("run_id", r.runID),
		zap.Int("num_jobs", r.cfg.NumJobs()),
		zap.Int("max_concurrent", r.opts.MaxConcurrent))

	for {
		if ctx.Err() != nil {
			return r.abort()
		}

		r.submitPending(ctx)
		if ctx.Err() != nil {
			return r.abort()
		}

		if r.numTerminal == len(r.tracked) {
			break
		}

		select {
		case <-ctx.Done():
			return r.abort()
		case <-time.After(r.opts.PollInterval):
		}

		// Floor on scheduler query frequency.
		if err := r.limiter.Wait(ctx); err != nil {
			return r.abort()
		}

		statuses, err := r.backend.CheckStatuses(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return r.abort()
			}
			// Visibility errors are tolerated, but a dead transport must
			// not stall the batch: sweep with no observations so the
			// silence timeout still fires for unobservable jobs.
			r.logger.Warn("status query failed", zap.Error(err))
			r.applyStatuses(nil)
			continue
		}
		r.applyStatuses(statuses)
	}

	status := BatchSucceeded
	if r.lg.Summary().NumFailed > 0 {
		status = BatchFailed
	}
	r.setStatus(status)

	if err := r.runPostProcess(ctx); err != nil {
		r.setStatus(BatchFailed)
		_ = r.lg.Save(r.resultsDir)
		return BatchFailed, err
	}

	if err := r.lg.Save(r.resultsDir); err != nil {
		return status, fmt.Errorf("persist ledger: %w", err)
	}

	summary := r.lg.Summary()
	r.logger.Info("batch finished",
		zap.String("batch_id", r.batchID),
		zap.String("run_id", r.runID),
		zap.String("status", string(status)),
		zap.Int("num_successful", summary.NumSuccessful),
		zap.Int("num_failed", summary.NumFailed))
	return status, nil
}

// submitPending fills free concurrency slots with the earliest-index
// pending jobs. Submissions run concurrently; their outcomes are joined
// and applied by the coordinator before returning.
func (r *Runner) submitPending(ctx context.Context) {
	free := r.opts.MaxConcurrent - r.numSubmitted
	if free <= 0 {
		return
	}

	now := time.Now()
	var batch []*trackedJob
	for _, j := range r.tracked {
		if len(batch) == free {
			break
		}
		if j.state != statePending || now.Before(j.nextAttempt) {
			continue
		}
		if err := r.prepareJob(j); err != nil {
			// Script or permission problems are fatal to this job only.
			r.logger.Error("failed to prepare job",
				zap.String("job", j.params.Name()),
				zap.Error(err))
			r.finishJob(j, ledger.Result{
				JobName:    j.params.Name(),
				ReturnCode: 1,
				Status:     ledger.ResultFailed,
				Reason:     err.Error(),
			})
			continue
		}
		batch = append(batch, j)
	}
	if len(batch) == 0 {
		return
	}

	type submitResult struct {
		job     *trackedJob
		outcome hpc.SubmitOutcome
		jobID   string
		err     error
	}

	results := make(chan submitResult, len(batch))
	var wg sync.WaitGroup
	for _, j := range batch {
		wg.Add(1)
		go func(j *trackedJob) {
			defer wg.Done()
			outcome, jobID, err := r.backend.Submit(ctx, j.scriptPath)
			results <- submitResult{job: j, outcome: outcome, jobID: jobID, err: err}
		}(j)
	}
	wg.Wait()
	close(results)

	for res := range results {
		j := res.job
		switch res.outcome {
		case hpc.SubmitAccepted:
			j.state = stateSubmitted
			j.jobID = res.jobID
			j.submittedAt = time.Now()
			j.lastSeen = j.submittedAt
			r.numSubmitted++
			r.logger.Debug("submitted job",
				zap.String("job", j.params.Name()),
				zap.String("job_id", j.jobID))

		case hpc.SubmitRejected:
			r.logger.Error("submission rejected",
				zap.String("job", j.params.Name()),
				zap.Error(res.err))
			r.finishJob(j, ledger.Result{
				JobName:    j.params.Name(),
				ReturnCode: 1,
				Status:     ledger.ResultFailed,
				Reason:     fmt.Sprintf("rejected: %v", res.err),
			})

		default: // transient
			j.attempts++
			if j.attempts > r.opts.SubmitRetries {
				r.logger.Error("submission retries exhausted",
					zap.String("job", j.params.Name()),
					zap.Int("attempts", j.attempts),
					zap.Error(res.err))
				r.finishJob(j, ledger.Result{
					JobName:    j.params.Name(),
					ReturnCode: 1,
					Status:     ledger.ResultFailed,
					Reason:     fmt.Sprintf("submission retries exhausted: %v", res.err),
				})
				continue
			}
			backoff := r.opts.RetryBackoff << (j.attempts - 1)
			j.nextAttempt = time.Now().Add(backoff)
			r.logger.Warn("transient submission failure, will retry",
				zap.String("job", j.params.Name()),
				zap.Int("attempt", j.attempts),
				zap.Duration("backoff", backoff),
				zap.Error(res.err))
		}
	}
}

// prepareJob builds the job's command and writes its submission script on
// first use.
func (r *Runner) prepareJob(j *trackedJob) error {
	if j.scriptPath != "" {
		return nil
	}
	name := j.params.Name()
	workdir := filepath.Join(r.jobsOutput, name)
	if err := os.MkdirAll(workdir, 0755); err != nil {
		return fmt.Errorf("create job workdir: %w", err)
	}

	buildCommand, err := r.registry.CommandBuilder(j.params.Extension())
	if err != nil {
		return err
	}
	command, err := buildCommand(j.params, workdir)
	if err != nil {
		return fmt.Errorf("build command: %w", err)
	}

	scriptPath := filepath.Join(workdir, "run.sh")
	if err := r.backend.CreateSubmissionScript(name, command, scriptPath); err != nil {
		return fmt.Errorf("write submission script: %w", err)
	}

	j.workdir = workdir
	j.command = command
	j.scriptPath = scriptPath
	return nil
}

// applyStatuses folds one status sweep into the batch state. A nil map
// means nothing was observable this sweep; submitted jobs then only age
// toward the silence timeout.
func (r *Runner) applyStatuses(statuses map[string]hpc.JobStatus) {
	now := time.Now()
	exitCoder, _ := r.backend.(hpc.ExitCoder)

	for _, j := range r.tracked {
		if j.state != stateSubmitted {
			continue
		}
		st, ok := statuses[j.jobID]
		if !ok {
			st = hpc.StatusNone
		}

		switch st {
		case hpc.StatusQueued, hpc.StatusRunning:
			j.lastSeen = now

		case hpc.StatusComplete, hpc.StatusFailed:
			rc := 0
			if st == hpc.StatusFailed {
				rc = 1
			}
			if exitCoder != nil {
				if code, known := exitCoder.ExitCode(j.jobID); known {
					rc = code
				}
			}
			status := ledger.ResultComplete
			if st == hpc.StatusFailed {
				status = ledger.ResultFailed
			}
			r.finishJob(j, ledger.Result{
				JobName:          j.params.Name(),
				ReturnCode:       rc,
				ExecutionSeconds: now.Sub(j.submittedAt).Seconds(),
				Status:           status,
			})

		case hpc.StatusNone:
			// The scheduler has no record. Either the job has not appeared
			// yet or its history was purged; give it the silence window.
			if now.Sub(j.lastSeen) > r.opts.SilenceTimeout {
				r.logger.Error("job lost: no external status within silence timeout",
					zap.String("job", j.params.Name()),
					zap.String("job_id", j.jobID),
					zap.Duration("silence_timeout", r.opts.SilenceTimeout))
				r.finishJob(j, ledger.Result{
					JobName:          j.params.Name(),
					ReturnCode:       -1,
					ExecutionSeconds: now.Sub(j.submittedAt).Seconds(),
					Status:           ledger.ResultFailed,
					Reason:           ledger.ReasonLost,
				})
			}
		}
	}
}

// finishJob transitions a job to terminal and appends its result.
// Each job passes through here exactly once.
func (r *Runner) finishJob(j *trackedJob, res ledger.Result) {
	if j.state == stateSubmitted {
		r.numSubmitted--
	}
	j.state = stateTerminal
	r.numTerminal++
	if err := r.lg.Append(res); err != nil {
		// Unreachable by construction; log rather than drop silently.
		r.logger.Error("ledger append failed", zap.String("job", res.JobName), zap.Error(err))
	}
}

// abort cancels every submitted job and marks remaining pending jobs
// aborted without submitting them.
func (r *Runner) abort() (BatchStatus, error) {
	r.logger.Warn("aborting batch", zap.String("batch_id", r.batchID))
	r.setStatus(BatchAborted)

	// The run context is already cancelled; cancellation calls get their
	// own bounded context.
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	now := time.Now()
	for _, j := range r.tracked {
		switch j.state {
		case stateSubmitted:
			if _, err := r.backend.Cancel(ctx, j.jobID); err != nil {
				r.logger.Warn("cancel failed",
					zap.String("job", j.params.Name()),
					zap.String("job_id", j.jobID),
					zap.Error(err))
			}
			r.finishJob(j, ledger.Result{
				JobName:          j.params.Name(),
				ReturnCode:       -1,
				ExecutionSeconds: now.Sub(j.submittedAt).Seconds(),
				Status:           ledger.ResultAborted,
			})
		case statePending:
			r.finishJob(j, ledger.Result{
				JobName:    j.params.Name(),
				ReturnCode: -1,
				Status:     ledger.ResultAborted,
			})
		}
	}

	if err := r.lg.Save(r.resultsDir); err != nil {
		return BatchAborted, fmt.Errorf("persist ledger: %w", err)
	}
	return BatchAborted, nil
}

func (r *Runner) runPostProcess(ctx context.Context) error {
	spec := r.cfg.PostProcess()
	if spec == nil {
		return nil
	}
	pp, err := jobs.NewPostProcess(spec)
	if err != nil {
		return fmt.Errorf("resolve post-process: %w", err)
	}
	if err := pp.Run(ctx, r.lg, r.outputDir); err != nil {
		return fmt.Errorf("post-process: %w", err)
	}
	return nil
}
