package jobs

import (
	"errors"
	"fmt"
)

// ErrDuplicateJobName indicates two jobs with the same name in one
// configuration.
var ErrDuplicateJobName = errors.New("duplicate job name")

// Configuration is an ordered collection of job parameters plus optional
// post-process metadata.
//
// Job names are unique within a configuration. The persisted form is
// immutable; changing a batch means rebuilding and re-dumping the
// configuration.
type Configuration struct {
	jobs   []JobParameters
	byName map[string]int
	post   *PostProcessSpec
}

// NewConfiguration creates an empty configuration.
func NewConfiguration() *Configuration {
	return &Configuration{byName: make(map[string]int)}
}

// AddJob appends parameters to the configuration, preserving insertion
// order. The job name must be valid and unique.
func (c *Configuration) AddJob(p JobParameters) error {
	name := p.Name()
	if err := CheckName(name); err != nil {
		return err
	}
	if _, ok := c.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJobName, name)
	}
	c.byName[name] = len(c.jobs)
	c.jobs = append(c.jobs, p)
	return nil
}

// Jobs returns the jobs in stored order. The slice is a copy.
func (c *Configuration) Jobs() []JobParameters {
	out := make([]JobParameters, len(c.jobs))
	copy(out, c.jobs)
	return out
}

// NumJobs returns the number of jobs in the configuration.
func (c *Configuration) NumJobs() int {
	return len(c.jobs)
}

// PostProcess returns the post-process spec, or nil if none is configured.
func (c *Configuration) PostProcess() *PostProcessSpec {
	return c.post
}

// SetPostProcess attaches post-process metadata to the configuration.
func (c *Configuration) SetPostProcess(spec *PostProcessSpec) {
	c.post = spec
}

// document is the persisted form of a configuration.
type document struct {
	Jobs        []map[string]any `json:"jobs" yaml:"jobs" toml:"jobs"`
	PostProcess *PostProcessSpec `json:"post_process,omitempty" yaml:"post_process,omitempty" toml:"post_process,omitempty"`
}

// Dump persists the configuration to path. The format is selected by file
// extension (.json, .toml, .yaml/.yml) and the write is atomic.
func (c *Configuration) Dump(path string) error {
	doc := document{Jobs: make([]map[string]any, 0, len(c.jobs)), PostProcess: c.post}
	for _, p := range c.jobs {
		fields := p.Serialize()
		if _, ok := fields[ExtensionKey]; !ok {
			return fmt.Errorf("job %s: serialized form is missing the %q field", p.Name(), ExtensionKey)
		}
		doc.Jobs = append(doc.Jobs, fields)
	}
	return encodeFile(path, &doc)
}

// Load reads a configuration from path, resolving each job's extension tag
// through reg to reconstruct typed parameters.
func Load(path string, reg *Registry) (*Configuration, error) {
	var doc document
	if err := decodeFile(path, &doc); err != nil {
		return nil, err
	}

	cfg := NewConfiguration()
	cfg.post = doc.PostProcess
	for i, fields := range doc.Jobs {
		extVal, ok := fields[ExtensionKey]
		if !ok {
			return nil, fmt.Errorf("job %d in %s: missing %q field", i, path, ExtensionKey)
		}
		ext, ok := extVal.(string)
		if !ok || ext == "" {
			return nil, fmt.Errorf("job %d in %s: %q field must be a non-empty string", i, path, ExtensionKey)
		}

		deserialize, err := reg.Deserializer(ext)
		if err != nil {
			return nil, fmt.Errorf("job %d in %s: %w", i, path, err)
		}
		p, err := deserialize(fields)
		if err != nil {
			return nil, fmt.Errorf("job %d in %s: %w", i, path, err)
		}
		if err := cfg.AddJob(p); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return cfg, nil
}
