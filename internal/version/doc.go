// Package version carries the bedrock-keeper build metadata.
//
// Version, Commit and BuildTime are injected via ldflags on release builds
// and default to development values otherwise. Full renders the line printed
// by the version subcommand.
package version
