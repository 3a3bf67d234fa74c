// Package version provides build-time version information.
package version

import "fmt"

// Set via -ldflags at build time, e.g.
// -X github.com/GoCodeAlone/cairn/internal/version.Version=v0.3.0
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String formats the build info for a version command.
func String(program string) string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", program, Version, Commit, BuildDate)
}
