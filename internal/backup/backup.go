package backup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ghwns9652/bedrock-keeper/internal/fsutil"
	"github.com/ghwns9652/bedrock-keeper/internal/logger"
)

const (
	// archivePrefix and timestampLayout produce names like Backup-20250101-120000.
	archivePrefix   = "Backup-"
	timestampLayout = "20060102-150405"

	// stageWorkers bounds the parallel staging copy of top-level entries.
	stageWorkers = 8
)

// Options are the inputs for one backup run.
type Options struct {
	// SourceDir is the server installation to snapshot.
	SourceDir string
	// BackupDir is where archives are written.
	BackupDir string
	// Exclude lists top-level names under SourceDir to leave out of the
	// snapshot (the backup folder itself, the keeper's working folder, ...).
	Exclude map[string]struct{}
	// LastChecksum is the content hash recorded for the previous backup;
	// nil when no backup exists yet.
	LastChecksum []byte
}

// Result describes the outcome of a backup run.
type Result struct {
	// ArchivePath is the created archive, empty when the backup was skipped.
	ArchivePath string
	// Checksum is the content hash of the snapshot source.
	Checksum []byte
	// Skipped is true when an identical backup already existed.
	Skipped bool
}

// Run snapshots SourceDir into a timestamped compressed archive under
// BackupDir. When the source's content hash matches LastChecksum the run is
// a no-op: an identical backup already exists.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	checksum, err := DirectoryChecksum(opts.SourceDir, opts.Exclude)
	if err != nil {
		return nil, fmt.Errorf("hash source directory: %w", err)
	}

	if opts.LastChecksum != nil && bytes.Equal(checksum, opts.LastChecksum) {
		logger.Info(ctx, "Server data unchanged since the last backup, skipping")

		return &Result{Checksum: checksum, Skipped: true}, nil
	}

	if err = os.MkdirAll(opts.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	stamp := time.Now().Format(timestampLayout)
	staging := uniqueArchiveBase(filepath.Join(opts.BackupDir, archivePrefix+stamp))

	if err = stage(ctx, opts.SourceDir, staging, opts.Exclude); err != nil {
		_ = os.RemoveAll(staging)

		return nil, fmt.Errorf("stage backup: %w", err)
	}

	archivePath, err := archiveDir(ctx, staging, staging)
	// The staging copy is temporary regardless of the archiver outcome.
	_ = os.RemoveAll(staging)

	if err != nil {
		return nil, fmt.Errorf("archive backup: %w", err)
	}

	logger.InfoKV(ctx, "Backup archive created", "archive", archivePath)

	return &Result{
		ArchivePath: archivePath,
		Checksum:    checksum,
	}, nil
}

// uniqueArchiveBase returns base, or base with a numeric suffix when an
// archive with that name already exists. Two backups in the same second must
// not overwrite each other.
func uniqueArchiveBase(base string) string {
	candidate := base
	for i := 2; archiveBaseTaken(candidate); i++ {
		candidate = fmt.Sprintf("%s-%d", base, i)
	}

	return candidate
}

func archiveBaseTaken(base string) bool {
	for _, name := range []string{base, base + ".7z", base + ".zip"} {
		if _, err := os.Stat(name); err == nil {
			return true
		}
	}

	return false
}

// stage copies the snapshot source into a staging directory, top-level
// entries in parallel the way the archiver expects to find them.
func stage(ctx context.Context, src, dst string, exclude map[string]struct{}) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}

	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(stageWorkers)

	for _, entry := range entries {
		if _, skip := exclude[entry.Name()]; skip {
			continue
		}

		entry := entry
		group.Go(func() error {
			return fsutil.CopyEntry(
				filepath.Join(src, entry.Name()),
				filepath.Join(dst, entry.Name()),
			)
		})
	}

	return group.Wait()
}
