// Package jobs holds the batch data model: job parameters, the job
// configuration persisted between runs, the extension registry that maps
// extension names to their capabilities, and post-process wiring.
package jobs

import (
	"errors"
	"fmt"
	"regexp"
)

// ExtensionKey is the field in a serialized parameter map that carries the
// extension tag. Every Serialize implementation must include it.
const ExtensionKey = "extension"

// MaxNameLength is the longest permitted job name. Job names become
// directory and file names, so the limit matches common path components.
const MaxNameLength = 255

// JobParameters identifies one unit of work. Implementations are supplied
// by extensions and must be immutable values.
//
// Name must be a pure, deterministic function of the parameter fields and
// unique within a configuration. Serialize must round-trip through the
// extension's deserializer with all observable fields intact.
type JobParameters interface {
	// Name returns the stable job name derived from the parameter fields.
	Name() string

	// Extension returns the extension tag this parameter type belongs to.
	Extension() string

	// Serialize returns the plain key-value form of the parameters,
	// including ExtensionKey.
	Serialize() map[string]any
}

// ParametersDeserializer reconstructs typed parameters from their
// serialized key-value form.
type ParametersDeserializer func(fields map[string]any) (JobParameters, error)

// ErrInvalidJobName indicates a name with illegal characters or excessive
// length.
var ErrInvalidJobName = errors.New("invalid job name")

var nameRe = regexp.MustCompile(`^[\w.-]+$`)

// CheckName validates that name is usable as a file or directory name:
// letters, digits, underscore, hyphen and period only, at most
// MaxNameLength characters.
func CheckName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("%w: %q contains illegal characters", ErrInvalidJobName, name)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: length of %q exceeds the limit of %d", ErrInvalidJobName, name, MaxNameLength)
	}
	return nil
}
