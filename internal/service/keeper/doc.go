// Package keeper orchestrates the update workflow: platform detection,
// deduplicated backup, release resolution, chunked download, extraction with
// the preserved-path allowlist, and version-marker bookkeeping. A marker file
// guards against concurrent runs; a live server process aborts the update.
package keeper
