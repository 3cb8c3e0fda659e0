// Package cmd implements the gridbatch command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gridbatch/gridbatch/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "gridbatch",
	Short: "Batch job orchestration for HPC clusters",
	Long: `gridbatch orchestrates large batches of independent jobs across a
shared HPC resource, tracking each job from submission through completion
and aggregating results into a ledger.

Extensions supply job enumeration and command construction; the
orchestration core is domain-agnostic.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionInfo is populated from build flags via SetVersionInfo.
var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "HEAD",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata shown by the version command.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gridbatch %s (commit %s, built %s)\n",
			versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the command tree. A SIGINT or SIGTERM cancels the command
// context, which aborts any running batch at its next suspension point.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var coded *exitCodeError
		if errors.As(err, &coded) {
			return coded.code
		}
		return 1
	}
	return 0
}

// exitCodeError carries a specific process exit code up through cobra.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string { return e.err.Error() }
func (e *exitCodeError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		err = fmt.Errorf("exit %d", code)
	}
	return &exitCodeError{code: code, err: err}
}
