package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbatch/gridbatch/pkg/hpc"
)

func writeTestScript(t *testing.T, b *Backend, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.sh")
	require.NoError(t, b.CreateSubmissionScript("test-job", body, path))
	return path
}

func waitTerminal(t *testing.T, b *Backend, jobID string) hpc.JobStatus {
	t.Helper()
	var st hpc.JobStatus
	require.Eventually(t, func() bool {
		info, err := b.CheckStatus(context.Background(), jobID)
		require.NoError(t, err)
		st = info.Status
		return st.Terminal()
	}, 10*time.Second, 20*time.Millisecond)
	return st
}

func TestCheckStatusUnknownJob(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	info, err := b.CheckStatus(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, hpc.StatusNone, info.Status)
}

func TestSubmitAndComplete(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	script := writeTestScript(t, b, "exit 0")
	outcome, jobID, err := b.Submit(context.Background(), script)
	require.NoError(t, err)
	require.Equal(t, hpc.SubmitAccepted, outcome)
	require.NotEmpty(t, jobID)

	assert.Equal(t, hpc.StatusComplete, waitTerminal(t, b, jobID))

	rc, known := b.ExitCode(jobID)
	require.True(t, known)
	assert.Equal(t, 0, rc)
}

func TestSubmitFailingScript(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	script := writeTestScript(t, b, "exit 3")
	outcome, jobID, err := b.Submit(context.Background(), script)
	require.NoError(t, err)
	require.Equal(t, hpc.SubmitAccepted, outcome)

	assert.Equal(t, hpc.StatusFailed, waitTerminal(t, b, jobID))

	rc, known := b.ExitCode(jobID)
	require.True(t, known)
	assert.Equal(t, 3, rc)
}

func TestSubmitMissingScriptIsRejected(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	outcome, _, err := b.Submit(context.Background(), filepath.Join(t.TempDir(), "absent.sh"))
	assert.Equal(t, hpc.SubmitRejected, outcome)
	require.Error(t, err)
	assert.False(t, hpc.IsTransient(err))
}

func TestJobOutputCaptured(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	script := writeTestScript(t, b, "echo from-the-job")
	outcome, jobID, err := b.Submit(context.Background(), script)
	require.NoError(t, err)
	require.Equal(t, hpc.SubmitAccepted, outcome)
	waitTerminal(t, b, jobID)

	raw, err := os.ReadFile(filepath.Join(filepath.Dir(script), "job.log"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "from-the-job")
}

func TestCancelRunningJob(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	script := writeTestScript(t, b, "sleep 30")
	outcome, jobID, err := b.Submit(context.Background(), script)
	require.NoError(t, err)
	require.Equal(t, hpc.SubmitAccepted, outcome)

	info, err := b.CheckStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, hpc.StatusRunning, info.Status)

	rc, err := b.Cancel(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, 0, rc)

	assert.Equal(t, hpc.StatusFailed, waitTerminal(t, b, jobID))

	// Cancel after terminal is a no-op.
	rc, err = b.Cancel(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, 0, rc)
}

func TestCancelUnknownJob(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	rc, err := b.Cancel(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, 0, rc)
}

func TestCheckStatusesCoversAllJobs(t *testing.T) {
	b := New()
	defer func() { _ = b.Close() }()

	var ids []string
	for _, body := range []string{"exit 0", "exit 1"} {
		script := writeTestScript(t, b, body)
		outcome, jobID, err := b.Submit(context.Background(), script)
		require.NoError(t, err)
		require.Equal(t, hpc.SubmitAccepted, outcome)
		ids = append(ids, jobID)
	}
	for _, id := range ids {
		waitTerminal(t, b, id)
	}

	statuses, err := b.CheckStatuses(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, hpc.StatusComplete, statuses[ids[0]])
	assert.Equal(t, hpc.StatusFailed, statuses[ids[1]])
}

func TestJobIDsAreUniquePerBackend(t *testing.T) {
	b1 := New()
	defer func() { _ = b1.Close() }()
	b2 := New()
	defer func() { _ = b2.Close() }()

	script := writeTestScript(t, b1, "exit 0")

	seen := make(map[string]struct{})
	for i := 0; i < 3; i++ {
		_, id, err := b1.Submit(context.Background(), script)
		require.NoError(t, err)
		_, dup := seen[id]
		assert.False(t, dup, "job id %s assigned twice", id)
		seen[id] = struct{}{}
	}

	// A second backend starts its own id sequence without interfering.
	_, id, err := b2.Submit(context.Background(), script)
	require.NoError(t, err)
	assert.Equal(t, "1", id)
}
