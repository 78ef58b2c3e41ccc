package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestServerExecutableFor checks per-OS executable names and the macOS rejection.
func TestServerExecutableFor(t *testing.T) {
	t.Parallel()

	got, err := serverExecutableFor("linux")
	require.NoError(t, err)
	require.Equal(t, LinuxExecutable, got)

	got, err = serverExecutableFor("windows")
	require.NoError(t, err)
	require.Equal(t, WindowsExecutable, got)

	_, err = serverExecutableFor("darwin")
	require.ErrorIs(t, err, ErrUnsupportedOS)
}

// TestDownloadTypeFor checks per-OS download type identifiers and the macOS rejection.
func TestDownloadTypeFor(t *testing.T) {
	t.Parallel()

	got, err := downloadTypeFor("linux")
	require.NoError(t, err)
	require.Equal(t, "serverBedrockLinux", got)

	got, err = downloadTypeFor("windows")
	require.NoError(t, err)
	require.Equal(t, "serverBedrockWindows", got)

	_, err = downloadTypeFor("darwin")
	require.ErrorIs(t, err, ErrUnsupportedOS)
}
