// Package backup produces deduplicated compressed snapshots of the server
// installation.
//
// Identity of a backup is the SHA-512 content hash of its source directory:
// when the hash matches the one recorded for the most recent backup, no new
// archive is written. Archives are built with an external 7-Zip when one is
// installed and fall back to a standard zip otherwise.
package backup
