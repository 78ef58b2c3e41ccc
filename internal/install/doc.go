// Package install extracts a downloaded server build and applies it over the
// existing installation. A fixed allowlist of configuration paths survives
// every upgrade; the server binary is swapped with checksum verification and
// its executable bit set.
package install
