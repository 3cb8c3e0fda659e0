package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gridbatch/gridbatch/pkg/ledger"
)

// PostProcessSpec references a user-supplied post-processing routine:
// a module/class identifier plus an arbitrary data payload. The spec is
// persisted alongside the configuration and resolved through the
// post-process factory registry at run time.
type PostProcessSpec struct {
	Module    string         `json:"module" yaml:"module" toml:"module" mapstructure:"module"`
	ClassName string         `json:"class_name" yaml:"class_name" toml:"class_name" mapstructure:"class_name"`
	Data      map[string]any `json:"data,omitempty" yaml:"data,omitempty" toml:"data,omitempty" mapstructure:"data"`
}

func (s *PostProcessSpec) key() string {
	return s.Module + "." + s.ClassName
}

// PostProcess runs after every job in a batch is terminal, with the full
// result ledger.
type PostProcess interface {
	Run(ctx context.Context, lg *ledger.Ledger, outputDir string) error
}

// PostProcessFactory constructs a post-process routine from its data
// payload, validating the payload in the process.
type PostProcessFactory func(data map[string]any) (PostProcess, error)

// ErrUnknownPostProcess indicates a spec referencing an unregistered
// module/class pair.
var ErrUnknownPostProcess = errors.New("unknown post-process")

var (
	postProcMu sync.RWMutex
	postProcs  = make(map[string]PostProcessFactory)
)

// RegisterPostProcess adds a factory for the module/class pair.
// Registration happens at process start; re-registration replaces the
// factory.
func RegisterPostProcess(module, className string, factory PostProcessFactory) {
	postProcMu.Lock()
	defer postProcMu.Unlock()
	postProcs[module+"."+className] = factory
}

// NewPostProcess resolves and constructs the routine the spec references.
func NewPostProcess(spec *PostProcessSpec) (PostProcess, error) {
	if spec == nil {
		return nil, fmt.Errorf("post-process spec is nil")
	}
	postProcMu.RLock()
	factory, ok := postProcs[spec.key()]
	postProcMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPostProcess, spec.key())
	}
	return factory(spec.Data)
}

// ValidatePostProcess constructs and discards the routine, surfacing
// misconfiguration before any cluster resources are consumed.
func ValidatePostProcess(spec *PostProcessSpec) error {
	_, err := NewPostProcess(spec)
	return err
}

// LoadPostProcessSpec reads a spec from a JSON/TOML/YAML file.
func LoadPostProcessSpec(path string) (*PostProcessSpec, error) {
	var spec PostProcessSpec
	if err := decodeFile(path, &spec); err != nil {
		return nil, err
	}
	if spec.Module == "" || spec.ClassName == "" {
		return nil, fmt.Errorf("post-process config %s: module and class_name are required", path)
	}
	return &spec, nil
}
