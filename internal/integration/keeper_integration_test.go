package integration

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ghwns9652/bedrock-keeper/internal/config"
	"github.com/ghwns9652/bedrock-keeper/internal/platform"
	"github.com/ghwns9652/bedrock-keeper/internal/repository/state"
	"github.com/ghwns9652/bedrock-keeper/internal/service/keeper"
)

// buildServerZip produces a fake distribution archive in memory.
func buildServerZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	writer := zip.NewWriter(&buf)
	for name, content := range files {
		entry, err := writer.Create(name)
		require.NoError(t, err)

		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	return buf.Bytes()
}

// newDistributionServer serves a links API and the archive it points at.
func newDistributionServer(t *testing.T, downloadType, version string, archive []byte) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	var ts *httptest.Server

	mux.HandleFunc("/api/v1.0/download/links", func(w http.ResponseWriter, _ *http.Request) {
		link := fmt.Sprintf("%s/bin/bedrock-server-%s.zip", ts.URL, version)
		_, _ = fmt.Fprintf(w,
			`{"result":{"links":[{"downloadType":%q,"downloadUrl":%q}]}}`,
			downloadType, link)
	})

	mux.HandleFunc("/bin/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "bedrock-server.zip", time.Now(), bytes.NewReader(archive))
	})

	ts = httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return ts
}

// TestKeeper_Run_EndToEnd drives the full workflow against a fake
// distribution endpoint: backup, download, install with preserved paths,
// version marker, and backup deduplication across repeated runs.
//
//nolint:funlen // Integration test requires comprehensive setup and verification.
func TestKeeper_Run_EndToEnd(t *testing.T) {
	exe, err := platform.ServerExecutable()
	if err != nil {
		t.Skipf("platform unsupported: %v", err)
	}

	downloadType, err := platform.DownloadType()
	require.NoError(t, err)

	// Existing installation with user configuration worth preserving.
	serverDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(serverDir, exe), []byte("old-binary"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(serverDir, "server.properties"), []byte("level-name=myworld\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(serverDir, "release-notes.txt"), []byte("old"), 0o644))

	const remoteVersion = "1.21.99.01"

	archive := buildServerZip(t, map[string]string{
		exe:                 "new-binary",
		"server.properties": "level-name=default\n",
		"release-notes.txt": "new",
	})

	ts := newDistributionServer(t, downloadType, remoteVersion, archive)

	cfgPath := filepath.Join(t.TempDir(), config.DefaultConfigFilename)
	cfg := &config.Config{
		ServerDir:   serverDir,
		LinksURL:    ts.URL + "/api/v1.0/download/links",
		FallbackURL: ts.URL + "/unused.txt",
	}

	require.NoError(t, config.Save(cfgPath, cfg))

	opts := &keeper.Options{ConfigPath: cfgPath, AssumeYes: true}

	// First run: backs up the old install and applies the update.
	require.NoError(t, keeper.Run(context.Background(), opts))

	// User configuration survived, everything else was replaced.
	got, err := os.ReadFile(filepath.Join(serverDir, "server.properties"))
	require.NoError(t, err)
	require.Equal(t, []byte("level-name=myworld\n"), got)

	got, err = os.ReadFile(filepath.Join(serverDir, exe))
	require.NoError(t, err)
	require.Equal(t, []byte("new-binary"), got)

	got, err = os.ReadFile(filepath.Join(serverDir, "release-notes.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), got)

	// The version marker records the installed build.
	repo := state.NewFileRepository(filepath.Join(serverDir, "updater", keeper.StateFilename))

	rec, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, remoteVersion, rec.Version)
	require.Contains(t, rec.DownloadURL, remoteVersion)

	backupDir := filepath.Join(serverDir, "backup")

	archives, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, archives, 1)

	// Second run: the installation changed during the update, so one more
	// backup appears, but the build is already current.
	require.NoError(t, keeper.Run(context.Background(), opts))

	archives, err = os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, archives, 2)

	// Third run: nothing changed since the second run's backup and the build
	// is current, so no new archive may appear.
	require.NoError(t, keeper.Run(context.Background(), opts))

	archives, err = os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, archives, 2)
}

// TestKeeper_Run_FreshInstall installs into an empty directory without
// creating a backup.
func TestKeeper_Run_FreshInstall(t *testing.T) {
	exe, err := platform.ServerExecutable()
	if err != nil {
		t.Skipf("platform unsupported: %v", err)
	}

	downloadType, err := platform.DownloadType()
	require.NoError(t, err)

	serverDir := t.TempDir()

	archive := buildServerZip(t, map[string]string{
		exe:                 "fresh-binary",
		"server.properties": "level-name=default\n",
		"allowlist.json":    "[]",
	})

	ts := newDistributionServer(t, downloadType, "1.21.99.01", archive)

	cfgPath := filepath.Join(t.TempDir(), config.DefaultConfigFilename)
	cfg := &config.Config{
		ServerDir:   serverDir,
		LinksURL:    ts.URL + "/api/v1.0/download/links",
		FallbackURL: ts.URL + "/unused.txt",
	}

	require.NoError(t, config.Save(cfgPath, cfg))

	// AssumeYes stands in for the interactive confirmation.
	require.NoError(t, keeper.Run(context.Background(), &keeper.Options{
		ConfigPath: cfgPath,
		AssumeYes:  true,
	}))

	for name, want := range map[string]string{
		exe:                 "fresh-binary",
		"server.properties": "level-name=default\n",
		"allowlist.json":    "[]",
	} {
		got, readErr := os.ReadFile(filepath.Join(serverDir, name))
		require.NoError(t, readErr)
		require.Equal(t, want, string(got))
	}

	// No backup folder for a fresh install.
	_, err = os.Stat(filepath.Join(serverDir, "backup"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
