package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-viper/mapstructure/v2"

	"github.com/gridbatch/gridbatch/pkg/jobs"
	"github.com/gridbatch/gridbatch/pkg/ledger"
)

// SummaryReport is the demo post-process: it writes an aggregate report of
// per-country outcomes next to the batch results.
type SummaryReport struct {
	// Filename is the report file name inside the output directory.
	Filename string
}

type summaryReportData struct {
	Filename string `mapstructure:"filename"`
}

// NewSummaryReport validates the data payload and constructs the routine.
// Unknown payload keys are rejected so misconfiguration surfaces at
// configuration-build time, before any jobs run.
func NewSummaryReport(data map[string]any) (jobs.PostProcess, error) {
	var d summaryReportData
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &d,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(data); err != nil {
		return nil, fmt.Errorf("demo: SummaryReport config: %w", err)
	}
	if d.Filename == "" {
		d.Filename = "post_process_report.json"
	}
	return &SummaryReport{Filename: d.Filename}, nil
}

type reportEntry struct {
	Country    string  `json:"country"`
	ReturnCode int     `json:"return_code"`
	Seconds    float64 `json:"execution_time_s"`
	Successful bool    `json:"successful"`
}

type report struct {
	BatchID string         `json:"batch_id"`
	Summary ledger.Summary `json:"summary"`
	Jobs    []reportEntry  `json:"jobs"`
}

// Run writes the aggregate report into outputDir.
func (s *SummaryReport) Run(ctx context.Context, lg *ledger.Ledger, outputDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	results := lg.Results()
	sort.Slice(results, func(i, j int) bool { return results[i].JobName < results[j].JobName })

	rep := report{BatchID: lg.BatchID(), Summary: lg.Summary()}
	for _, r := range results {
		rep.Jobs = append(rep.Jobs, reportEntry{
			Country:    r.JobName,
			ReturnCode: r.ReturnCode,
			Seconds:    r.ExecutionSeconds,
			Successful: r.Successful(),
		})
	}

	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("demo: marshal report: %w", err)
	}
	path := filepath.Join(outputDir, s.Filename)
	if err := os.WriteFile(path, append(b, '\n'), 0644); err != nil {
		return fmt.Errorf("demo: write report: %w", err)
	}
	return nil
}
