package version

import "fmt"

var (
	// Version is the bedrock-keeper release, overridden via ldflags on tagged builds.
	Version = "0.0.0-dev"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the release string.
func Short() string {
	return Version
}

// Full returns the release plus build metadata, as printed by the version subcommand.
func Full() string {
	return fmt.Sprintf("bedrock-keeper %s (commit %s, built %s)", Version, Commit, BuildTime)
}
