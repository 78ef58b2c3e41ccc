package install

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeZip builds a zip archive from the provided name->content map.
func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()

	out, err := os.Create(path)
	require.NoError(t, err)

	writer := zip.NewWriter(out)
	for name, content := range files {
		entry, createErr := writer.Create(name)
		require.NoError(t, createErr)

		_, writeErr := entry.Write([]byte(content))
		require.NoError(t, writeErr)
	}

	require.NoError(t, writer.Close())
	require.NoError(t, out.Close())
}

// newStaging lays out an extracted build in a temp directory.
func newStaging(t *testing.T, files map[string]string) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	return dir
}

// TestExtractArchive unpacks a zip and verifies contents and the cleared destination.
func TestExtractArchive(t *testing.T) {
	t.Parallel()

	archive := filepath.Join(t.TempDir(), "build.zip")
	writeZip(t, archive, map[string]string{
		"bedrock_server":          "new-binary",
		"behavior_packs/vanilla/": "",
		"server.properties":       "defaults\n",
	})

	dest := filepath.Join(t.TempDir(), "temp")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "stale.txt"), []byte("stale"), 0o644))

	require.NoError(t, ExtractArchive(context.Background(), archive, dest))

	// Stale content from a previous extraction is gone.
	_, err := os.Stat(filepath.Join(dest, "stale.txt"))
	require.ErrorIs(t, err, os.ErrNotExist)

	got, err := os.ReadFile(filepath.Join(dest, "bedrock_server"))
	require.NoError(t, err)
	require.Equal(t, []byte("new-binary"), got)

	info, err := os.Stat(filepath.Join(dest, "behavior_packs", "vanilla"))
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

// TestExtractArchive_RejectsPathEscape ensures zip-slip entries fail extraction.
func TestExtractArchive_RejectsPathEscape(t *testing.T) {
	t.Parallel()

	archive := filepath.Join(t.TempDir(), "evil.zip")
	writeZip(t, archive, map[string]string{
		"../escape.txt": "gotcha",
	})

	dest := filepath.Join(t.TempDir(), "temp")
	err := ExtractArchive(context.Background(), archive, dest)
	require.ErrorIs(t, err, ErrUnsafeArchivePath)
}

// TestApply_UpgradePreservesConfiguration verifies every preserved path is
// byte-identical after an upgrade while everything else is replaced.
func TestApply_UpgradePreservesConfiguration(t *testing.T) {
	t.Parallel()

	server := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(server, "bedrock_server"), []byte("old-binary"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(server, "server.properties"), []byte("level-name=myworld\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(server, "allowlist.json"), []byte(`[{"name":"steve"}]`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(server, "behavior_packs", "custom"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(server, "behavior_packs", "custom", "pack.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(server, "release-notes.txt"), []byte("old notes"), 0o644))

	staging := newStaging(t, map[string]string{
		"bedrock_server":                       "new-binary",
		"server.properties":                    "level-name=default\n",
		"allowlist.json":                       "[]",
		"permissions.json":                     "[]",
		"behavior_packs/vanilla/manifest.json": "{}",
		"resource_packs/vanilla/manifest.json": "{}",
		"release-notes.txt":                    "new notes",
	})

	opts := &Options{
		StagingDir:       staging,
		ServerDir:        server,
		ServerExecutable: "bedrock_server",
	}

	require.NoError(t, Apply(context.Background(), opts))

	// Preserved paths are byte-identical to their pre-update state.
	got, err := os.ReadFile(filepath.Join(server, "server.properties"))
	require.NoError(t, err)
	require.Equal(t, []byte("level-name=myworld\n"), got)

	got, err = os.ReadFile(filepath.Join(server, "allowlist.json"))
	require.NoError(t, err)
	require.Equal(t, []byte(`[{"name":"steve"}]`), got)

	got, err = os.ReadFile(filepath.Join(server, "behavior_packs", "custom", "pack.json"))
	require.NoError(t, err)
	require.Equal(t, []byte("{}"), got)

	// Preserved path missing locally is restored from the new build.
	got, err = os.ReadFile(filepath.Join(server, "permissions.json"))
	require.NoError(t, err)
	require.Equal(t, []byte("[]"), got)

	// Non-preserved files are replaced.
	got, err = os.ReadFile(filepath.Join(server, "release-notes.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("new notes"), got)

	// The binary was swapped with the executable bit set.
	got, err = os.ReadFile(filepath.Join(server, "bedrock_server"))
	require.NoError(t, err)
	require.Equal(t, []byte("new-binary"), got)

	if runtime.GOOS != "windows" {
		info, statErr := os.Stat(filepath.Join(server, "bedrock_server"))
		require.NoError(t, statErr)
		require.NotZero(t, info.Mode().Perm()&0o111)
	}

	// No .old leftovers.
	_, err = os.Stat(filepath.Join(server, "bedrock_server.old"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestApply_FreshInstallCopiesEverything verifies a first install does not
// treat the allowlist specially.
func TestApply_FreshInstallCopiesEverything(t *testing.T) {
	t.Parallel()

	server := t.TempDir()
	staging := newStaging(t, map[string]string{
		"bedrock_server":    "binary",
		"server.properties": "defaults\n",
		"allowlist.json":    "[]",
	})

	opts := &Options{
		StagingDir:       staging,
		ServerDir:        server,
		ServerExecutable: "bedrock_server",
		Fresh:            true,
	}

	require.NoError(t, Apply(context.Background(), opts))

	for name, want := range map[string]string{
		"bedrock_server":    "binary",
		"server.properties": "defaults\n",
		"allowlist.json":    "[]",
	} {
		got, err := os.ReadFile(filepath.Join(server, name))
		require.NoError(t, err)
		require.Equal(t, want, string(got))
	}
}
