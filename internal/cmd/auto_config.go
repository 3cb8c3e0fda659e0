package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gridbatch/gridbatch/internal/observability"
	"github.com/gridbatch/gridbatch/pkg/jobs"
)

var autoConfigCmd = &cobra.Command{
	Use:   "auto-config <extension> <inputs>",
	Short: "Automatically create a job configuration",
	Long: `Automatically create a job configuration by running the extension's
auto-configuration routine over the inputs (typically a directory of input
files).

Example:
  gridbatch auto-config demo ./gdp-data --config-file batch_1.json`,
	Args: cobra.ExactArgs(2),
	RunE: runAutoConfig,
}

var (
	autoConfigFile     string
	autoConfigPostFile string
	autoConfigVerbose  bool
)

func init() {
	rootCmd.AddCommand(autoConfigCmd)

	autoConfigCmd.Flags().StringVarP(&autoConfigFile, "config-file", "c", "config.json", "Configuration file to generate")
	autoConfigCmd.Flags().StringVarP(&autoConfigPostFile, "post-process-config-file", "p", "", "Post-process config file (JSON/TOML/YAML)")
	autoConfigCmd.Flags().BoolVarP(&autoConfigVerbose, "verbose", "v", false, "Enable verbose log output")
}

func runAutoConfig(cmd *cobra.Command, args []string) error {
	observability.Init(autoConfigVerbose, "")

	extension, inputs := args[0], args[1]

	// Validate the post-process config before writing anything: construct
	// and discard one instance so misconfiguration fails fast.
	var post *jobs.PostProcessSpec
	if autoConfigPostFile != "" {
		spec, err := jobs.LoadPostProcessSpec(autoConfigPostFile)
		if err != nil {
			return fmt.Errorf("invalid post-process config: %w", err)
		}
		if err := jobs.ValidatePostProcess(spec); err != nil {
			return fmt.Errorf("invalid post-process config: %w", err)
		}
		post = spec
	}

	registry := jobs.Default()
	if !registry.IsRegistered(extension) {
		return fmt.Errorf("extension %q is not registered", extension)
	}
	autoConfig, err := registry.AutoConfig(extension)
	if err != nil {
		return err
	}

	cfg, err := autoConfig(inputs, post)
	if err != nil {
		return fmt.Errorf("auto-config failed: %w", err)
	}
	fmt.Printf("Created configuration with %d jobs.\n", cfg.NumJobs())

	if err := cfg.Dump(autoConfigFile); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}
	observability.CLILogger.Debug("dumped configuration",
		zap.String("path", autoConfigFile),
		zap.Int("num_jobs", cfg.NumJobs()))
	fmt.Printf("Dumped configuration to %s.\n", autoConfigFile)
	return nil
}
