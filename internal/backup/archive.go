package backup

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/klauspost/compress/flate"

	"github.com/ghwns9652/bedrock-keeper/internal/logger"
)

// sevenZipNames are the external archiver binaries probed on PATH, in order.
var sevenZipNames = []string{"7z", "7za", "7zr"}

// lookupSevenZip returns the path of the first 7-Zip binary found on PATH.
func lookupSevenZip() (string, bool) {
	for _, name := range sevenZipNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}

	return "", false
}

// archiveDir compresses the contents of stagingDir into an archive whose path
// is archiveBase plus the format extension. 7-Zip is preferred when installed;
// a plain zip is always a valid fallback. The produced archive path is returned.
func archiveDir(ctx context.Context, stagingDir, archiveBase string) (string, error) {
	if seven, ok := lookupSevenZip(); ok {
		out := archiveBase + ".7z"
		logger.InfoKV(ctx, "Creating archive with 7-Zip", "archiver", seven, "archive", out)

		err := runSevenZip(ctx, seven, stagingDir, out)
		if err == nil {
			return out, nil
		}

		logger.WarnKV(ctx, "7-Zip failed, falling back to zip", "error", err)

		if _, statErr := os.Stat(out); statErr == nil {
			_ = os.Remove(out)
		}
	}

	out := archiveBase + ".zip"
	logger.InfoKV(ctx, "Creating zip archive", "archive", out)

	if err := zipDir(stagingDir, out); err != nil {
		if _, statErr := os.Stat(out); statErr == nil {
			_ = os.Remove(out)
		}

		return "", err
	}

	return out, nil
}

// runSevenZip archives the staging directory contents with LZMA2 at a fast
// preset, multithreaded. Run from inside the staging dir so archive entries
// stay relative.
func runSevenZip(ctx context.Context, seven, stagingDir, out string) error {
	cmd := exec.CommandContext(ctx, seven,
		"a", "-t7z", "-m0=LZMA2:d32m:fb32", "-mx=3", "-mmt=on", out, ".")
	cmd.Dir = stagingDir

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("7z: %w: %s", err, output)
	}

	return nil
}

// zipDir writes the contents of src into a zip file at out. Compression uses
// the klauspost deflate encoder at its fastest level; the output stays a
// standard deflate stream that any zip reader can extract.
func zipDir(src, out string) error {
	outFile, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	writer := zip.NewWriter(outFile)
	writer.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestSpeed)
	})

	err = filepath.WalkDir(src, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		if rel == "." {
			return nil
		}

		name := filepath.ToSlash(rel)
		if entry.IsDir() {
			_, err = writer.Create(name + "/")

			return err
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		entryWriter, err := writer.Create(name)
		if err != nil {
			return err
		}

		file, err := os.Open(filepath.Clean(path))
		if err != nil {
			return err
		}

		_, err = io.Copy(entryWriter, file)
		_ = file.Close()

		return err
	})
	if err != nil {
		_ = writer.Close()
		_ = outFile.Close()

		return fmt.Errorf("zip %s: %w", src, err)
	}

	if err = writer.Close(); err != nil {
		_ = outFile.Close()

		return fmt.Errorf("finish archive: %w", err)
	}

	return outFile.Close()
}
