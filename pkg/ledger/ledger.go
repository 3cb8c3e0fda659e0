// Package ledger accumulates per-job outcomes for one batch and derives
// summary statistics from them.
//
// The ledger is append-only: exactly one Result per job name, written when
// that job reaches a terminal state. The summary is a pure projection over
// the appended results and is never mutated directly.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Result statuses persisted in snapshots.
const (
	// ResultComplete means the job ran to completion; the return code says
	// whether it succeeded.
	ResultComplete = "complete"

	// ResultFailed means the job failed, was reported failed by the
	// scheduler, or was lost (see Reason).
	ResultFailed = "failed"

	// ResultAborted means the batch was cancelled before the job finished.
	ResultAborted = "aborted"
)

// ReasonLost marks a job whose external status stopped being observable
// before it reached a terminal state.
const ReasonLost = "lost"

// ErrDuplicateResult indicates a second Result for the same job name.
// The runner guarantees by construction that this never happens.
var ErrDuplicateResult = errors.New("duplicate result")

// Result is the recorded outcome of one job.
type Result struct {
	JobName          string  `json:"job_name"`
	ReturnCode       int     `json:"return_code"`
	ExecutionSeconds float64 `json:"execution_time_s"`
	Status           string  `json:"status"`

	// Reason distinguishes failure causes that share a status, e.g. "lost".
	Reason string `json:"reason,omitempty"`

	CompletedAt time.Time `json:"completed_at"`
}

// Successful reports whether the job completed with a zero return code.
func (r Result) Successful() bool {
	return r.Status == ResultComplete && r.ReturnCode == 0
}

// Summary holds the derived counts for one batch.
type Summary struct {
	NumJobs       int `json:"num_jobs"`
	NumComplete   int `json:"num_complete"`
	NumSuccessful int `json:"num_successful"`
	NumFailed     int `json:"num_failed"`
}

// Ledger is the append-only outcome record for one batch.
//
// A single coordinator writes results; reads may come from other
// goroutines (e.g. the status endpoint), so access is guarded.
type Ledger struct {
	mu      sync.RWMutex
	batchID string
	numJobs int
	results []Result
	byName  map[string]struct{}
}

// New creates a ledger for a batch of numJobs jobs.
func New(batchID string, numJobs int) *Ledger {
	return &Ledger{
		batchID: batchID,
		numJobs: numJobs,
		results: make([]Result, 0, numJobs),
		byName:  make(map[string]struct{}, numJobs),
	}
}

// BatchID returns the batch identifier the ledger was created for.
func (l *Ledger) BatchID() string {
	return l.batchID
}

// Append records one job outcome. A second result for the same job name
// fails with ErrDuplicateResult.
func (l *Ledger) Append(r Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byName[r.JobName]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateResult, r.JobName)
	}
	l.byName[r.JobName] = struct{}{}
	l.results = append(l.results, r)
	return nil
}

// Results returns a copy of the appended results in append order.
// Callers needing configuration order must sort by job name.
func (l *Ledger) Results() []Result {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Result, len(l.results))
	copy(out, l.results)
	return out
}

// Summary recomputes the derived counts. Safe to call at any time.
func (l *Ledger) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Summary{NumJobs: l.numJobs, NumComplete: len(l.results)}
	for _, r := range l.results {
		if r.Successful() {
			s.NumSuccessful++
		} else {
			s.NumFailed++
		}
	}
	return s
}

// Report renders the summary as indented JSON text.
func (l *Ledger) Report() string {
	b, err := json.MarshalIndent(l.Summary(), "", "    ")
	if err != nil {
		// Summary contains only ints; marshalling cannot fail.
		return "{}"
	}
	return string(b)
}

// snapshot is the persisted form of the ledger.
type snapshot struct {
	BatchID string   `json:"batch_id"`
	Summary Summary  `json:"summary"`
	Results []Result `json:"results"`
}

// Save persists the ledger snapshot and the summary report under dir.
//
// Results are written sorted by job name so snapshots of the same batch
// compare equal regardless of completion order. Writes are atomic.
func (l *Ledger) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}

	results := l.Results()
	sort.Slice(results, func(i, j int) bool { return results[i].JobName < results[j].JobName })

	snap := snapshot{BatchID: l.batchID, Summary: l.Summary(), Results: results}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger snapshot: %w", err)
	}
	b = append(b, '\n')

	if err := writeFileAtomic(filepath.Join(dir, "results.json"), b); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, "summary.json"), []byte(l.Report()+"\n"))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}
