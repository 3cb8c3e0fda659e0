package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gridbatch/gridbatch/internal/config"
	"github.com/gridbatch/gridbatch/internal/observability"
	"github.com/gridbatch/gridbatch/internal/server"
	"github.com/gridbatch/gridbatch/pkg/hpc"
	"github.com/gridbatch/gridbatch/pkg/hpc/local"
	"github.com/gridbatch/gridbatch/pkg/hpc/slurm"
	"github.com/gridbatch/gridbatch/pkg/jobs"
	"github.com/gridbatch/gridbatch/pkg/runner"
)

var runJobsCmd = &cobra.Command{
	Use:   "run-jobs <config-file>",
	Short: "Run every job in a configuration on the HPC",
	Long: `Run every job in a configuration on the HPC, polling status until all
jobs are terminal, then write the result ledger.

The configuration file name must match batch_<id>.json; the id becomes the
batch identifier. The process exit code is the batch outcome: 0 when every
job succeeded, 1 when any failed, 2 when the batch was aborted.

Example:
  gridbatch run-jobs batch_1.json --output output`,
	Args: cobra.ExactArgs(1),
	RunE: runRunJobs,
}

var (
	runJobsOutput     string
	runJobsHPCMode    string
	runJobsStatusAddr string
	runJobsVerbose    bool
)

func init() {
	rootCmd.AddCommand(runJobsCmd)

	runJobsCmd.Flags().StringVarP(&runJobsOutput, "output", "o", "output", "Output directory")
	runJobsCmd.Flags().StringVar(&runJobsHPCMode, "hpc", "", "Scheduler backend (local|slurm); overrides settings")
	runJobsCmd.Flags().StringVar(&runJobsStatusAddr, "status-addr", "", "Serve a read-only status endpoint on this address while running")
	runJobsCmd.Flags().BoolVarP(&runJobsVerbose, "verbose", "v", false, "Enable verbose log output")
}

var batchIDRe = regexp.MustCompile(`batch_(\d+)\.json`)

// batchIDFromPath extracts the batch identifier from the configuration
// file name.
func batchIDFromPath(path string) (string, error) {
	m := batchIDRe.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return "", fmt.Errorf("config file name %q must match batch_<id>.json", filepath.Base(path))
	}
	return m[1], nil
}

func runRunJobs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	configFile := args[0]

	batchID, err := batchIDFromPath(configFile)
	if err != nil {
		return err
	}

	var overrides []map[string]any
	if runJobsHPCMode != "" {
		overrides = append(overrides, map[string]any{"hpc": map[string]any{"mode": runJobsHPCMode}})
	}
	settings, err := config.Load(overrides...)
	if err != nil {
		return err
	}

	outputDir := runJobsOutput
	if !cmd.Flags().Changed("output") && settings.Output.Dir != "" {
		outputDir = settings.Output.Dir
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	logFile := filepath.Join(outputDir, fmt.Sprintf("run_jobs_batch_%s.log", batchID))
	observability.Init(runJobsVerbose, logFile)
	observability.CLILogger.Info("invocation",
		zap.String("command", strings.Join(os.Args, " ")))

	registry := jobs.Default()
	cfg, err := jobs.Load(configFile, registry)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	backend, err := buildBackend(settings)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	opts := runner.Options{
		MaxConcurrent:   settings.Runner.MaxConcurrent,
		PollInterval:    settings.Runner.PollInterval,
		MinPollInterval: settings.Runner.MinPollInterval,
		SubmitRetries:   settings.Runner.SubmitRetries,
		RetryBackoff:    settings.Runner.RetryBackoff,
		SilenceTimeout:  settings.Runner.SilenceTimeout,
	}
	r, err := runner.New(batchID, cfg, backend, registry, outputDir, opts, observability.CLILogger)
	if err != nil {
		return err
	}

	if runJobsStatusAddr != "" {
		srv := server.New(runJobsStatusAddr, r.Ledger(),
			func() string { return string(r.Status()) },
			observability.CLILogger)
		srv.Start()
		defer srv.Shutdown()
	}

	status, err := r.Run(ctx)
	if err != nil {
		return withExitCode(status.ExitCode(), err)
	}
	if status != runner.BatchSucceeded {
		summary := r.Ledger().Summary()
		return withExitCode(status.ExitCode(),
			fmt.Errorf("batch %s %s: %d of %d jobs failed", batchID, status, summary.NumFailed, summary.NumJobs))
	}

	fmt.Println(r.Ledger().Report())
	return nil
}

// buildBackend constructs the scheduler backend the settings select.
func buildBackend(settings *config.Settings) (hpc.Backend, error) {
	switch settings.HPC.Mode {
	case "local":
		return local.New(), nil
	case "slurm":
		return slurm.New(slurm.Config{
			Account:   settings.HPC.Account,
			Walltime:  settings.HPC.Walltime,
			Partition: settings.HPC.Partition,
			Memory:    settings.HPC.Memory,
			Nodes:     settings.HPC.Nodes,
		})
	default:
		return nil, fmt.Errorf("unsupported hpc mode %q", settings.HPC.Mode)
	}
}
