// Package platform resolves OS-specific details of the Bedrock dedicated server:
// the executable name and the distribution download type. macOS has no Bedrock
// server build and is rejected up front.
package platform

import (
	"errors"
	"fmt"
	"runtime"
)

const (
	// LinuxExecutable is the server binary name shipped in Linux builds.
	LinuxExecutable = "bedrock_server"
	// WindowsExecutable is the server binary name shipped in Windows builds.
	WindowsExecutable = "bedrock_server.exe"

	// linuxDownloadType and windowsDownloadType are the identifiers used by the
	// download-links API to label platform builds.
	linuxDownloadType   = "serverBedrockLinux"
	windowsDownloadType = "serverBedrockWindows"
)

// ErrUnsupportedOS is returned for platforms without a Bedrock server build.
var ErrUnsupportedOS = errors.New("os does not support the bedrock dedicated server")

// ServerExecutable returns the server binary name for the current platform.
func ServerExecutable() (string, error) {
	return serverExecutableFor(runtime.GOOS)
}

// DownloadType returns the download-links API build identifier for the current platform.
func DownloadType() (string, error) {
	return downloadTypeFor(runtime.GOOS)
}

func serverExecutableFor(goos string) (string, error) {
	switch goos {
	case "linux":
		return LinuxExecutable, nil
	case "windows":
		return WindowsExecutable, nil
	default:
		return "", fmt.Errorf("%s: %w", goos, ErrUnsupportedOS)
	}
}

func downloadTypeFor(goos string) (string, error) {
	switch goos {
	case "linux":
		return linuxDownloadType, nil
	case "windows":
		return windowsDownloadType, nil
	default:
		return "", fmt.Errorf("%s: %w", goos, ErrUnsupportedOS)
	}
}
