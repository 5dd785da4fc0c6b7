// Package version holds build-time version information, overridable via
// -ldflags "-X github.com/wisbric/aegis/internal/version.Version=... ".
package version

var (
	// Version is the semantic version of this build.
	Version = "dev"
	// Commit is the git commit SHA this build was produced from.
	Commit = "unknown"
)
