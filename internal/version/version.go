// Package version holds build-time version information,
// injected via -ldflags at release build.
package version

// Build-time variables.
var (
	Version = "dev"
	Commit  = "unknown"
)
