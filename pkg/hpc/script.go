package hpc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Interpreter is the directive placed on the first line of every
// generated submission script.
const Interpreter = "#!/bin/bash"

// RenderScript assembles a submission script from scheduler directive
// lines and the caller-supplied command body. The body is placed after the
// directives, unmodified.
func RenderScript(directives []string, body string) string {
	lines := make([]string, 0, len(directives)+2)
	lines = append(lines, Interpreter)
	lines = append(lines, directives...)
	lines = append(lines, body)
	text := strings.Join(lines, "\n")
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text
}

// WriteScript writes text to path with execute permission.
//
// The write is atomic: the content goes to a temp file in the destination
// directory which is then renamed over path, so a partially written script
// is never observable. Any existing file at path is replaced.
func WriteScript(path, text string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create script dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp script: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp script: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp script: %w", err)
	}
	if err := os.Chmod(tmpName, 0755); err != nil {
		return fmt.Errorf("chmod script: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename script: %w", err)
	}
	return nil
}

// ScratchFromEnv returns the first of the TMP and TEMP environment
// variables that is set, falling back to fallback when neither is.
func ScratchFromEnv(fallback string) string {
	for _, envvar := range []string{"TMP", "TEMP"} {
		if dir := os.Getenv(envvar); dir != "" {
			return dir
		}
	}
	return fallback
}
