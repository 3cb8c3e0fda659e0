package jobs

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// CapabilityKind names one capability an extension may supply.
type CapabilityKind string

const (
	KindParameters    CapabilityKind = "parameters"
	KindConfiguration CapabilityKind = "configuration"
	KindCommand       CapabilityKind = "command"
	KindAutoConfig    CapabilityKind = "auto-config"
)

// CommandBuilder turns one job's parameters into the shell command text
// executed inside the job's working directory.
type CommandBuilder func(p JobParameters, workdir string) (string, error)

// ConfigurationBuilder assembles a configuration from enumerated
// parameters.
type ConfigurationBuilder func(params []JobParameters, post *PostProcessSpec) (*Configuration, error)

// AutoConfigFunc discovers jobs from raw inputs (e.g. a directory of input
// files) without user enumeration.
type AutoConfigFunc func(inputs string, post *PostProcessSpec) (*Configuration, error)

// CapabilitySet is the fixed set of operations one extension supplies.
// Deserialize and BuildCommand are required; the rest are optional.
type CapabilitySet struct {
	Deserialize        ParametersDeserializer
	BuildCommand       CommandBuilder
	BuildConfiguration ConfigurationBuilder
	AutoConfig         AutoConfigFunc
}

// Registry errors.
var (
	// ErrDuplicateExtension indicates a name registered twice with a
	// conflicting capability set.
	ErrDuplicateExtension = errors.New("duplicate extension")

	// ErrUnregisteredExtension indicates a lookup for an unknown name.
	ErrUnregisteredExtension = errors.New("extension not registered")

	// ErrUnsupportedCapability indicates the extension exists but does not
	// implement the requested capability.
	ErrUnsupportedCapability = errors.New("capability not supported")
)

// Registry maps extension names to their capability sets.
//
// Registration happens once at process start (package init of each
// extension); lookups fail closed on unknown names.
type Registry struct {
	mu   sync.RWMutex
	exts map[string]CapabilitySet
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{exts: make(map[string]CapabilitySet)}
}

// Register adds an extension. Re-registering the same name with the same
// capability set is a no-op; a conflicting set fails with
// ErrDuplicateExtension.
func (r *Registry) Register(name string, caps CapabilitySet) error {
	if name == "" {
		return fmt.Errorf("extension name is required")
	}
	if caps.Deserialize == nil || caps.BuildCommand == nil {
		return fmt.Errorf("extension %q: deserializer and command builder are required", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.exts[name]; ok {
		if sameCapabilitySet(existing, caps) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicateExtension, name)
	}
	r.exts[name] = caps
	return nil
}

// sameCapabilitySet compares capability sets by function identity.
func sameCapabilitySet(a, b CapabilitySet) bool {
	return funcPtr(a.Deserialize) == funcPtr(b.Deserialize) &&
		funcPtr(a.BuildCommand) == funcPtr(b.BuildCommand) &&
		funcPtr(a.BuildConfiguration) == funcPtr(b.BuildConfiguration) &&
		funcPtr(a.AutoConfig) == funcPtr(b.AutoConfig)
}

func funcPtr(f any) uintptr {
	v := reflect.ValueOf(f)
	if v.Kind() != reflect.Func || v.IsNil() {
		return 0
	}
	return v.Pointer()
}

// IsRegistered reports whether name is known. Pure query, no side effects.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.exts[name]
	return ok
}

// Names returns the registered extension names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.exts))
	for name := range r.exts {
		out = append(out, name)
	}
	return out
}

func (r *Registry) get(name string) (CapabilitySet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps, ok := r.exts[name]
	if !ok {
		return CapabilitySet{}, fmt.Errorf("%w: %s", ErrUnregisteredExtension, name)
	}
	return caps, nil
}

// Deserializer returns the extension's parameter deserializer.
func (r *Registry) Deserializer(name string) (ParametersDeserializer, error) {
	caps, err := r.get(name)
	if err != nil {
		return nil, err
	}
	if caps.Deserialize == nil {
		return nil, fmt.Errorf("%w: %s does not implement %s", ErrUnsupportedCapability, name, KindParameters)
	}
	return caps.Deserialize, nil
}

// CommandBuilder returns the extension's command builder.
func (r *Registry) CommandBuilder(name string) (CommandBuilder, error) {
	caps, err := r.get(name)
	if err != nil {
		return nil, err
	}
	if caps.BuildCommand == nil {
		return nil, fmt.Errorf("%w: %s does not implement %s", ErrUnsupportedCapability, name, KindCommand)
	}
	return caps.BuildCommand, nil
}

// ConfigurationBuilder returns the extension's configuration builder.
func (r *Registry) ConfigurationBuilder(name string) (ConfigurationBuilder, error) {
	caps, err := r.get(name)
	if err != nil {
		return nil, err
	}
	if caps.BuildConfiguration == nil {
		return nil, fmt.Errorf("%w: %s does not implement %s", ErrUnsupportedCapability, name, KindConfiguration)
	}
	return caps.BuildConfiguration, nil
}

// AutoConfig returns the extension's auto-configuration routine.
func (r *Registry) AutoConfig(name string) (AutoConfigFunc, error) {
	caps, err := r.get(name)
	if err != nil {
		return nil, err
	}
	if caps.AutoConfig == nil {
		return nil, fmt.Errorf("%w: %s does not implement %s", ErrUnsupportedCapability, name, KindAutoConfig)
	}
	return caps.AutoConfig, nil
}

// defaultRegistry is the process-wide registry extensions register into
// from their package init functions.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds an extension to the process-wide registry.
func Register(name string, caps CapabilitySet) error {
	return defaultRegistry.Register(name, caps)
}

// MustRegister is Register for package init functions, where a conflict is
// a programming error.
func MustRegister(name string, caps CapabilitySet) {
	if err := defaultRegistry.Register(name, caps); err != nil {
		panic(err)
	}
}
