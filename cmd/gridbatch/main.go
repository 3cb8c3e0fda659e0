package main

import (
	"os"

	"github.com/gridbatch/gridbatch/internal/cmd"

	// Registers the demo extension and its post-process.
	_ "github.com/gridbatch/gridbatch/pkg/extensions/demo"
)

// Populated via -ldflags at release time.
var (
	version   = "dev"
	commit    = "HEAD"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	os.Exit(cmd.Execute())
}
