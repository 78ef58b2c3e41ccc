// Package download fetches server archives over HTTPS.
//
// When the origin advertises byte-range support, the file is pulled as
// fixed-size chunks by a bounded worker pool and assembled in place with
// positional writes; otherwise a plain single-stream download is used.
// Partial files never survive a failed download.
package download
