// Package config loads runtime settings for the CLI.
//
// Settings come from defaults, an optional gridbatch.yaml in the working
// directory, GRIDBATCH_-prefixed environment variables, and runtime
// override maps, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the decoded runtime configuration.
type Settings struct {
	HPC    HPCSettings    `mapstructure:"hpc"`
	Runner RunnerSettings `mapstructure:"runner"`
	Output OutputSettings `mapstructure:"output"`
}

// HPCSettings selects and parameterizes the scheduler backend.
type HPCSettings struct {
	// Mode is "local" or "slurm".
	Mode string `mapstructure:"mode"`

	Account   string `mapstructure:"account"`
	Walltime  string `mapstructure:"walltime"`
	Partition string `mapstructure:"partition"`
	Memory    int    `mapstructure:"memory"`
	Nodes     int    `mapstructure:"nodes"`
}

// RunnerSettings tune the orchestration loop.
type RunnerSettings struct {
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MinPollInterval time.Duration `mapstructure:"min_poll_interval"`
	SubmitRetries   int           `mapstructure:"submit_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	SilenceTimeout  time.Duration `mapstructure:"silence_timeout"`
}

// OutputSettings configure the run output tree.
type OutputSettings struct {
	Dir string `mapstructure:"dir"`
}

// Every key gets a default so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("hpc.mode", "local")
	v.SetDefault("hpc.account", "")
	v.SetDefault("hpc.walltime", "")
	v.SetDefault("hpc.partition", "")
	v.SetDefault("hpc.memory", 0)
	v.SetDefault("hpc.nodes", 1)
	v.SetDefault("runner.max_concurrent", 0) // 0 = backend CPU count
	v.SetDefault("runner.poll_interval", 10*time.Second)
	v.SetDefault("runner.min_poll_interval", time.Second)
	v.SetDefault("runner.submit_retries", 3)
	v.SetDefault("runner.retry_backoff", 2*time.Second)
	v.SetDefault("runner.silence_timeout", 10*time.Minute)
	v.SetDefault("output.dir", "output")
}

// Load builds Settings. Later override maps win over earlier ones.
func Load(overrides ...map[string]any) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("gridbatch")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix("GRIDBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, o := range overrides {
		if err := v.MergeConfigMap(o); err != nil {
			return nil, fmt.Errorf("merge overrides: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if s.HPC.Mode != "local" && s.HPC.Mode != "slurm" {
		return nil, fmt.Errorf("unsupported hpc mode %q (expected local or slurm)", s.HPC.Mode)
	}
	return &s, nil
}
