// Package release resolves the latest available Bedrock server build.
//
// The primary source is the official download-links JSON API; when it is
// unreachable, exactly one attempt is made against a mirror that publishes
// the raw download link. The build version is parsed out of the link itself
// and compared with the locally recorded marker using hashicorp/go-version,
// which handles the four-segment Bedrock scheme.
package release
