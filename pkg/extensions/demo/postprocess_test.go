package demo

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridbatch/gridbatch/pkg/ledger"
)

func TestNewSummaryReport(t *testing.T) {
	t.Run("defaults filename", func(t *testing.T) {
		pp, err := NewSummaryReport(nil)
		require.NoError(t, err)
		assert.Equal(t, "post_process_report.json", pp.(*SummaryReport).Filename)
	})

	t.Run("custom filename", func(t *testing.T) {
		pp, err := NewSummaryReport(map[string]any{"filename": "gdp.json"})
		require.NoError(t, err)
		assert.Equal(t, "gdp.json", pp.(*SummaryReport).Filename)
	})

	t.Run("unknown keys rejected", func(t *testing.T) {
		_, err := NewSummaryReport(map[string]any{"filenme": "typo.json"})
		assert.Error(t, err)
	})
}

func TestSummaryReportRun(t *testing.T) {
	lg := ledger.New("1", 2)
	require.NoError(t, lg.Append(ledger.Result{
		JobName: "united_states", ReturnCode: 0, ExecutionSeconds: 1.5, Status: ledger.ResultComplete,
	}))
	require.NoError(t, lg.Append(ledger.Result{
		JobName: "brazil", ReturnCode: 1, ExecutionSeconds: 0.5, Status: ledger.ResultFailed,
	}))

	outputDir := t.TempDir()
	pp, err := NewSummaryReport(nil)
	require.NoError(t, err)
	require.NoError(t, pp.Run(context.Background(), lg, outputDir))

	raw, err := os.ReadFile(filepath.Join(outputDir, "post_process_report.json"))
	require.NoError(t, err)

	var rep struct {
		BatchID string         `json:"batch_id"`
		Summary ledger.Summary `json:"summary"`
		Jobs    []struct {
			Country    string `json:"country"`
			ReturnCode int    `json:"return_code"`
			Successful bool   `json:"successful"`
		} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(raw, &rep))

	assert.Equal(t, "1", rep.BatchID)
	assert.Equal(t, 1, rep.Summary.NumSuccessful)
	require.Len(t, rep.Jobs, 2)
	// Entries are sorted by job name.
	assert.Equal(t, "brazil", rep.Jobs[0].Country)
	assert.False(t, rep.Jobs[0].Successful)
	assert.Equal(t, "united_states", rep.Jobs[1].Country)
	assert.True(t, rep.Jobs[1].Successful)
}

func TestSummaryReportCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pp, err := NewSummaryReport(nil)
	require.NoError(t, err)
	assert.Error(t, pp.Run(ctx, ledger.New("1", 0), t.TempDir()))
}
