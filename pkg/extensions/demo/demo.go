// Package demo implements the auto-regression demo extension: one job per
// country, each running a GDP trend analysis over a CSV input file.
//
// The package registers itself into the process-wide extension registry at
// init, so importing it is enough to make "demo" resolvable.
package demo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-viper/mapstructure/v2"

	"github.com/gridbatch/gridbatch/pkg/jobs"
)

// ExtensionName is the registry tag for this extension.
const ExtensionName = "demo"

// Parameters identifies one auto-regression job.
type Parameters struct {
	// Country is the country whose GDP series is analyzed.
	Country string

	// Data is the path to the CSV file containing the GDP data.
	Data string
}

// Name derives the job name from the country: lowercase, spaces replaced
// with underscores.
func (p Parameters) Name() string {
	return strings.ReplaceAll(strings.ToLower(p.Country), " ", "_")
}

// Extension returns the registry tag.
func (p Parameters) Extension() string {
	return ExtensionName
}

// Serialize returns the plain key-value form of the parameters.
func (p Parameters) Serialize() map[string]any {
	return map[string]any{
		jobs.ExtensionKey: ExtensionName,
		"country":         p.Country,
		"data":            p.Data,
	}
}

// wireParameters is the serialized field set, including the extension tag.
type wireParameters struct {
	Extension string `mapstructure:"extension"`
	Country   string `mapstructure:"country"`
	Data      string `mapstructure:"data"`
}

// Deserialize reconstructs Parameters from their serialized form.
func Deserialize(fields map[string]any) (jobs.JobParameters, error) {
	var wire wireParameters
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &wire,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(fields); err != nil {
		return nil, fmt.Errorf("demo: decode parameters: %w", err)
	}
	if wire.Extension != ExtensionName {
		return nil, fmt.Errorf("demo: unexpected extension tag %q", wire.Extension)
	}
	if wire.Country == "" {
		return nil, fmt.Errorf("demo: country is required")
	}
	if wire.Data == "" {
		return nil, fmt.Errorf("demo: data is required")
	}
	return Parameters{Country: wire.Country, Data: wire.Data}, nil
}

// BuildCommand renders the analysis invocation for one job.
func BuildCommand(p jobs.JobParameters, workdir string) (string, error) {
	params, ok := p.(Parameters)
	if !ok {
		return "", fmt.Errorf("demo: unexpected parameter type %T", p)
	}
	return fmt.Sprintf("demo-autoregression --country %q --data %q --output %q",
		params.Country, params.Data, workdir), nil
}

// BuildConfiguration assembles a configuration from enumerated parameters.
func BuildConfiguration(params []jobs.JobParameters, post *jobs.PostProcessSpec) (*jobs.Configuration, error) {
	cfg := jobs.NewConfiguration()
	for _, p := range params {
		if err := cfg.AddJob(p); err != nil {
			return nil, err
		}
	}
	cfg.SetPostProcess(post)
	return cfg, nil
}

// AutoConfig discovers one job per CSV file under the inputs directory.
// The country is derived from the file name stem with underscores restored
// to spaces; job order is the sorted file order, so repeated runs over the
// same inputs produce identical configurations.
func AutoConfig(inputs string, post *jobs.PostProcessSpec) (*jobs.Configuration, error) {
	info, err := os.Stat(inputs)
	if err != nil {
		return nil, fmt.Errorf("demo: inputs directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("demo: inputs must be a directory: %s", inputs)
	}

	matches, err := doublestar.Glob(os.DirFS(inputs), "**/*.csv")
	if err != nil {
		return nil, fmt.Errorf("demo: glob inputs: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("demo: no CSV files found under %s", inputs)
	}
	sort.Strings(matches)

	params := make([]jobs.JobParameters, 0, len(matches))
	for _, rel := range matches {
		stem := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
		params = append(params, Parameters{
			Country: strings.ReplaceAll(stem, "_", " "),
			Data:    filepath.Join(inputs, filepath.FromSlash(rel)),
		})
	}
	return BuildConfiguration(params, post)
}

func init() {
	jobs.MustRegister(ExtensionName, jobs.CapabilitySet{
		Deserialize:        Deserialize,
		BuildCommand:       BuildCommand,
		BuildConfiguration: BuildConfiguration,
		AutoConfig:         AutoConfig,
	})
	jobs.RegisterPostProcess(ExtensionName, "SummaryReport", NewSummaryReport)
}
