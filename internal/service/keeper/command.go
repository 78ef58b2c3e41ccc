package keeper

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ghwns9652/bedrock-keeper/internal/backup"
	"github.com/ghwns9652/bedrock-keeper/internal/config"
	"github.com/ghwns9652/bedrock-keeper/internal/download"
	"github.com/ghwns9652/bedrock-keeper/internal/install"
	"github.com/ghwns9652/bedrock-keeper/internal/logger"
	"github.com/ghwns9652/bedrock-keeper/internal/platform"
	"github.com/ghwns9652/bedrock-keeper/internal/release"
	"github.com/ghwns9652/bedrock-keeper/internal/repository/state"
)

// Options are inputs accepted by the keeper entry points.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// AssumeYes answers the first-install prompt without asking.
	AssumeYes bool
	// Input is where interactive answers are read from; nil means stdin.
	Input io.Reader
}

// runner holds the state and helpers for a single keeper execution.
// It is intentionally unexported: call Run, RunBackup or RunCheck.
type runner struct {
	cfg              *config.Config
	states           state.Repository
	rec              *state.Record
	resolver         *release.Resolver
	downloader       *download.Downloader
	serverExecutable string
	markerPath       string
	resourcesDir     string
	input            io.Reader
	assumeYes        bool
	fresh            bool
	ownsMarker       bool
}

// Run executes the full update workflow and is the entry point for the root command.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "bedrock-keeper")

	r, err := newRunner(ctx, opts, true)
	if err != nil {
		return err
	}

	defer r.cleanup(ctx)

	if err = r.run(ctx); err != nil {
		logger.ErrorKV(ctx, "Update run failed", "error", err)

		return err
	}

	logger.Info(ctx, "Keeper completed")

	return nil
}

// RunBackup executes only the deduplicated backup step.
func RunBackup(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "bedrock-keeper")

	r, err := newRunner(ctx, opts, true)
	if err != nil {
		return err
	}

	defer r.cleanup(ctx)

	if err = r.loadState(ctx); err != nil {
		return err
	}

	r.detectFreshInstall(ctx)

	if r.fresh {
		return fmt.Errorf("%s: %w", r.serverExecutable, os.ErrNotExist)
	}

	warnIfServerLive(ctx, r.serverExecutable)

	if err = r.backupIfChanged(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "Backup completed")

	return nil
}

// RunCheck resolves the latest remote build and reports whether an update is
// needed, without changing anything on disk.
func RunCheck(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "bedrock-keeper")

	r, err := newRunner(ctx, opts, false)
	if err != nil {
		return err
	}

	if err = r.loadState(ctx); err != nil {
		return err
	}

	r.detectFreshInstall(ctx)

	rel, err := r.resolver.Latest(ctx)
	if err != nil {
		return fmt.Errorf("resolve latest release: %w", err)
	}

	switch {
	case r.fresh:
		logger.InfoKV(ctx, "No server installed",
			"latest", rel.Version, "download_url", rel.DownloadURL)
	case release.IsNewer(r.rec.Version, rel.Version):
		logger.InfoKV(ctx, "Update available",
			"installed", r.rec.Version, "latest", rel.Version)
	default:
		logger.InfoKV(ctx, "Server is up to date", "installed", r.rec.Version)
	}

	return nil
}

// newRunner loads configuration, wires the HTTP helpers and, when asked,
// takes the concurrent-run marker.
func newRunner(ctx context.Context, opts *Options, takeMarker bool) (*runner, error) {
	serverExecutable, err := platform.ServerExecutable()
	if err != nil {
		return nil, err
	}

	downloadType, err := platform.DownloadType()
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	// The overall timeout fits the small links/mirror responses. Archive
	// transfers get a client of their own: http.Client.Timeout covers the
	// whole exchange including the body, which would abort any download
	// slower than the knob even while making steady progress.
	apiClient := &http.Client{Timeout: cfg.Timeout}

	r := &runner{
		cfg:              cfg,
		states:           state.NewFileRepository(filepath.Join(cfg.KeeperDir, StateFilename)),
		resolver:         release.NewResolver(apiClient, cfg.LinksURL, cfg.FallbackURL, downloadType),
		downloader:       download.New(download.NewClient(cfg.Timeout), cfg.DownloadWorkers, cfg.ChunkSize),
		serverExecutable: serverExecutable,
		markerPath:       filepath.Join(cfg.KeeperDir, MarkerFilename),
		resourcesDir:     filepath.Join(cfg.KeeperDir, resourcesDirName),
		input:            opts.Input,
		assumeYes:        opts.AssumeYes,
	}

	if r.input == nil {
		r.input = os.Stdin
	}

	if !takeMarker {
		return r, nil
	}

	if isKeeperRunningNow(ctx, r.markerPath) {
		return nil, ErrAlreadyRunning
	}

	if err = os.MkdirAll(cfg.KeeperDir, 0o755); err != nil {
		return nil, fmt.Errorf("create keeper directory: %w", err)
	}

	marker, err := os.Create(r.markerPath)
	if err != nil {
		return nil, fmt.Errorf("create update marker: %w", err)
	}

	if err = marker.Close(); err != nil {
		return nil, err
	}

	r.ownsMarker = true

	return r, nil
}

// run executes the update workflow:
// 1) Load the version marker.
// 2) Detect whether this is a fresh install (prompting the user if so).
// 3) Back up the current installation unless an identical backup exists.
// 4) Resolve the latest remote build and compare versions.
// 5) Download, extract, and apply with the preserved-path allowlist.
// 6) Record the new version marker.
func (r *runner) run(ctx context.Context) error {
	if err := r.loadState(ctx); err != nil {
		return err
	}

	r.detectFreshInstall(ctx)

	if r.fresh && !r.assumeYes {
		confirmed, err := confirmInstall(ctx, r.input)
		if err != nil {
			return err
		}

		if !confirmed {
			logger.Info(ctx, "Installation declined, nothing to do")

			return nil
		}
	}

	if !r.fresh {
		warnIfServerLive(ctx, r.serverExecutable)

		if err := r.backupIfChanged(ctx); err != nil {
			return fmt.Errorf("backup: %w", err)
		}
	}

	logger.Info(ctx, "Resolving the latest server build")

	rel, err := r.resolver.Latest(ctx)
	if err != nil {
		return fmt.Errorf("resolve latest release: %w", err)
	}

	logger.InfoKV(ctx, "Latest build resolved",
		"version", rel.Version, "download_url", rel.DownloadURL)

	if !r.updateNeeded(ctx, rel) {
		return r.recordDownloadLink(ctx, rel)
	}

	if err = r.ensureServerStopped(); err != nil {
		return err
	}

	archivePath, err := r.downloadBuild(ctx, rel)
	if err != nil {
		return fmt.Errorf("download server build: %w", err)
	}

	if err = r.installBuild(ctx, archivePath); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			logger.Error(ctx, "Permission denied while updating server files. "+
				"Fix the ownership of the server directory or rerun with elevated privileges.")
		}

		return fmt.Errorf("install server build: %w", err)
	}

	r.rec.Version = rel.Version
	r.rec.DownloadURL = rel.DownloadURL
	r.rec.UpdatedAt = time.Now().UTC()

	if err = r.states.Save(ctx, r.rec); err != nil {
		return fmt.Errorf("record installed version: %w", err)
	}

	logger.InfoKV(ctx, "Server updated", "version", rel.Version)

	return nil
}

// loadState reads the persisted record, starting empty when none exists.
func (r *runner) loadState(ctx context.Context) error {
	rec, err := r.states.Load(ctx)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			r.rec = &state.Record{}

			return nil
		}

		return fmt.Errorf("load state: %w", err)
	}

	r.rec = rec

	logger.DebugKV(ctx, "Loaded state", "version", rec.Version)

	return nil
}

// detectFreshInstall marks the run as a first-time install when the server
// executable is absent.
func (r *runner) detectFreshInstall(ctx context.Context) {
	_, err := os.Stat(filepath.Join(r.cfg.ServerDir, r.serverExecutable))
	r.fresh = errors.Is(err, os.ErrNotExist)

	if r.fresh {
		logger.Info(ctx, "No server executable found, treating this as a fresh install")
	}
}

// updateNeeded compares the recorded version against the remote build.
func (r *runner) updateNeeded(ctx context.Context, rel *release.Release) bool {
	if r.fresh {
		return true
	}

	if release.IsNewer(r.rec.Version, rel.Version) {
		logger.InfoKV(ctx, "Update required",
			"installed", r.rec.Version, "remote", rel.Version)

		return true
	}

	logger.InfoKV(ctx, "Local server is up to date", "version", r.rec.Version)

	return false
}

// recordDownloadLink keeps the resolved link in the state record even when no
// update was needed, so the last known source is always available.
func (r *runner) recordDownloadLink(ctx context.Context, rel *release.Release) error {
	if r.rec.DownloadURL == rel.DownloadURL {
		return nil
	}

	r.rec.DownloadURL = rel.DownloadURL

	return r.states.Save(ctx, r.rec)
}

// ensureServerStopped refuses to overwrite files under a live server.
func (r *runner) ensureServerStopped() error {
	running, err := serverProcessRunning(r.serverExecutable)
	if err != nil {
		return err
	}

	if running {
		return ErrServerRunning
	}

	return nil
}

// backupIfChanged snapshots the installation unless an identical backup
// already exists, then persists the new backup bookkeeping immediately so
// deduplication holds even if a later step fails.
func (r *runner) backupIfChanged(ctx context.Context) error {
	logger.Info(ctx, "Creating backup of server data")

	var lastChecksum []byte

	if r.rec.LastBackupChecksum != "" {
		decoded, err := base64.StdEncoding.DecodeString(r.rec.LastBackupChecksum)
		if err != nil {
			logger.WarnKV(ctx, "Recorded backup checksum is corrupt, ignoring", "error", err)
		} else {
			lastChecksum = decoded
		}
	}

	// Deduplication only holds while the archive it refers to still exists;
	// a pruned backup folder must not suppress a fresh backup.
	if lastChecksum != nil && r.rec.LastBackupArchive != "" {
		if _, statErr := os.Stat(r.rec.LastBackupArchive); statErr != nil {
			logger.WarnKV(ctx, "Recorded backup archive is gone, taking a fresh backup",
				"archive", r.rec.LastBackupArchive)

			lastChecksum = nil
		}
	}

	result, err := backup.Run(ctx, &backup.Options{
		SourceDir:    r.cfg.ServerDir,
		BackupDir:    r.cfg.BackupDir,
		Exclude:      backupExclusions(r.cfg),
		LastChecksum: lastChecksum,
	})
	if err != nil {
		return err
	}

	if result.Skipped {
		return nil
	}

	r.rec.LastBackupChecksum = base64.StdEncoding.EncodeToString(result.Checksum)
	r.rec.LastBackupArchive = result.ArchivePath
	r.rec.UpdatedAt = time.Now().UTC()

	if err = r.states.Save(ctx, r.rec); err != nil {
		return fmt.Errorf("record backup: %w", err)
	}

	return nil
}

// downloadBuild fetches the release archive into the resources folder.
func (r *runner) downloadBuild(ctx context.Context, rel *release.Release) (string, error) {
	if err := os.MkdirAll(r.resourcesDir, 0o755); err != nil {
		return "", fmt.Errorf("create resources directory: %w", err)
	}

	archivePath := filepath.Join(r.resourcesDir, fmt.Sprintf("bedrock-server-%s.zip", rel.Version))

	logger.InfoKV(ctx, "Downloading server build", "version", rel.Version, "target", archivePath)

	if err := r.downloader.Fetch(ctx, rel.DownloadURL, archivePath); err != nil {
		return "", err
	}

	return archivePath, nil
}

// installBuild extracts the downloaded archive and applies it over the
// installation, honoring the preserved-path allowlist on upgrades.
func (r *runner) installBuild(ctx context.Context, archivePath string) error {
	tempDir := filepath.Join(r.resourcesDir, tempDirName)

	if err := install.ExtractArchive(ctx, archivePath, tempDir); err != nil {
		return err
	}

	defer func() {
		_ = os.RemoveAll(tempDir)
	}()

	logger.Info(ctx, "Updating server files")

	return install.Apply(ctx, &install.Options{
		StagingDir:       tempDir,
		ServerDir:        r.cfg.ServerDir,
		ServerExecutable: r.serverExecutable,
		Fresh:            r.fresh,
	})
}

// cleanup removes the running marker when this run owns it.
func (r *runner) cleanup(ctx context.Context) {
	if !r.ownsMarker {
		return
	}

	if _, err := os.Stat(r.markerPath); err == nil {
		_ = os.Remove(r.markerPath)
	}

	logger.Info(ctx, "The keeper has stopped")
}
