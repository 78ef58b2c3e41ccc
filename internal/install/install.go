package install

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/ghwns9652/bedrock-keeper/internal/fsutil"
	"github.com/ghwns9652/bedrock-keeper/internal/logger"
)

// ErrUnsafeArchivePath is returned when an archive entry would escape the
// extraction directory.
var ErrUnsafeArchivePath = errors.New("archive entry escapes extraction directory")

// executableFileMode is applied to the server binary on update.
const executableFileMode os.FileMode = 0o755

// PreservedPaths returns the fixed set of top-level installation entries that
// survive every upgrade untouched: user configuration and content packs.
func PreservedPaths() map[string]struct{} {
	return map[string]struct{}{
		"config":            {},
		"behavior_packs":    {},
		"resource_packs":    {},
		"allowlist.json":    {},
		"permissions.json":  {},
		"server.properties": {},
	}
}

// ExtractArchive unpacks a downloaded server zip into dest. Any previous
// contents of dest are removed first; entry paths are validated so a crafted
// archive cannot write outside dest.
func ExtractArchive(ctx context.Context, archivePath, dest string) error {
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("clear extraction directory: %w", err)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("create extraction directory: %w", err)
	}

	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = reader.Close()
	}()

	cleanDest := filepath.Clean(dest)

	for _, entry := range reader.File {
		if err = extractEntry(entry, cleanDest); err != nil {
			return err
		}
	}

	logger.InfoKV(ctx, "Archive extracted", "archive", archivePath, "dest", dest)

	return nil
}

// extractEntry writes one archive member under dest, rejecting path escapes.
func extractEntry(entry *zip.File, dest string) error {
	target := filepath.Join(dest, filepath.FromSlash(entry.Name))
	if !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return fmt.Errorf("%s: %w", entry.Name, ErrUnsafeArchivePath)
	}

	if entry.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	source, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open %s in archive: %w", entry.Name, err)
	}

	defer func() {
		_ = source.Close()
	}()

	mode := entry.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	if _, err = io.Copy(out, source); err != nil {
		_ = out.Close()

		return fmt.Errorf("extract %s: %w", entry.Name, err)
	}

	return out.Close()
}

// Options describe one apply pass from an extracted build onto the installation.
type Options struct {
	// StagingDir holds the extracted new build.
	StagingDir string
	// ServerDir is the live installation being updated.
	ServerDir string
	// ServerExecutable is the base name of the server binary.
	ServerExecutable string
	// Fresh marks a first-time install: everything is copied, nothing preserved.
	Fresh bool
}

// Apply copies the extracted build over the installation. On upgrades the
// preserved paths are left untouched when they already exist locally; a
// preserved path missing locally is restored from the new build. The server
// binary itself is swapped via go-update with checksum verification and the
// executable bit set.
func Apply(ctx context.Context, opts *Options) error {
	preserved := PreservedPaths()

	entries, err := os.ReadDir(opts.StagingDir)
	if err != nil {
		return fmt.Errorf("read staging directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		src := filepath.Join(opts.StagingDir, name)
		dst := filepath.Join(opts.ServerDir, name)

		if name == opts.ServerExecutable {
			if err = applyExecutable(ctx, src, dst); err != nil {
				return fmt.Errorf("apply server executable: %w", err)
			}

			continue
		}

		if !opts.Fresh {
			if _, isPreserved := preserved[name]; isPreserved {
				if _, statErr := os.Stat(dst); statErr == nil {
					logger.InfoKV(ctx, "Preserved", "path", name)

					continue
				}

				logger.InfoKV(ctx, "Preserved path missing locally, restoring from new build", "path", name)
			}
		}

		if err = replaceEntry(src, dst); err != nil {
			return fmt.Errorf("update %s: %w", name, err)
		}

		logger.InfoKV(ctx, "Updated", "path", name)
	}

	return nil
}

// replaceEntry removes the previous file or directory and copies the new one in.
func replaceEntry(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}

	return fsutil.CopyEntry(src, dst)
}

// applyExecutable swaps the server binary using go-update: the new binary's
// checksum is verified during the apply and the executable mode is set, which
// covers the chmod step Linux installs need.
func applyExecutable(ctx context.Context, src, dst string) error {
	data, err := os.ReadFile(filepath.Clean(src))
	if err != nil {
		return err
	}

	checksum := sha512.Sum512(data)

	// go-update needs an existing target to replace.
	if _, err = os.Stat(dst); err != nil && errors.Is(err, os.ErrNotExist) {
		if writeErr := os.WriteFile(dst, nil, executableFileMode); writeErr != nil {
			return writeErr
		}
	}

	options := goupdate.Options{
		TargetPath: dst,
		TargetMode: executableFileMode,
		Checksum:   checksum[:],
		Hash:       crypto.SHA512,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return err
	}

	// go-update leaves the previous binary around as .old.
	oldName := dst + ".old"
	if _, err = os.Stat(oldName); err == nil {
		_ = os.Remove(oldName)
	}

	logger.InfoKV(ctx, "Server executable replaced", "path", dst)

	return nil
}
