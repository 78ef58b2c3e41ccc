package backup

import (
	"crypto/sha512"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DirectoryChecksum computes a SHA-512 content hash over everything under
// root except the excluded top-level names. The walk order of fs.WalkDir is
// lexical, so the hash is stable for identical trees: it covers every
// relative path and every regular file's contents.
func DirectoryChecksum(root string, exclude map[string]struct{}) ([]byte, error) {
	hasher := sha512.New()

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if rel == "." {
			return nil
		}

		if _, skip := exclude[topLevelName(rel)]; skip {
			if entry.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		// The path itself participates so that renames change the hash.
		_, _ = io.WriteString(hasher, filepath.ToSlash(rel))
		_, _ = hasher.Write([]byte{0})

		if entry.IsDir() || !entry.Type().IsRegular() {
			return nil
		}

		file, err := os.Open(filepath.Clean(path))
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}

		_, err = io.Copy(hasher, file)
		_ = file.Close()

		if err != nil {
			return fmt.Errorf("hash %s: %w", path, err)
		}

		_, _ = hasher.Write([]byte{0})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return hasher.Sum(nil), nil
}

// topLevelName returns the first path element of a relative path.
func topLevelName(rel string) string {
	rel = filepath.ToSlash(rel)
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}

	return rel
}
