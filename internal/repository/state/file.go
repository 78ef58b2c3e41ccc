package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghwns9652/bedrock-keeper/internal/config"
)

// Record is the persisted outcome of the last successful run: which build is
// installed, where it came from, and what the last backup looked like.
type Record struct {
	// Version is the installed server build, e.g. "1.21.44.01".
	Version string `yaml:"version"`
	// DownloadURL is the distribution link the installed build came from.
	DownloadURL string `yaml:"download_url"`
	// LastBackupChecksum is the base64 SHA-512 content hash of the most
	// recent backup's source directory.
	LastBackupChecksum string `yaml:"last_backup_checksum"`
	// LastBackupArchive is the path of the most recent backup archive.
	LastBackupArchive string `yaml:"last_backup_archive"`
	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time `yaml:"updated_at"`
}

// Repository defines persistence operations for the keeper state.
type Repository interface {
	Load(ctx context.Context) (*Record, error)
	Save(ctx context.Context, rec *Record) error
}

// FileRepository persists the keeper state to a YAML file on disk.
type FileRepository struct {
	// path is the filesystem location of the YAML state file.
	path string
	// mu protects concurrent access to the state file.
	mu sync.Mutex
}

// ErrNotFound is returned when the state file does not exist yet.
var ErrNotFound = errors.New("state not found")

// NewFileRepository creates a repository that reads/writes YAML at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the state from disk.
func (r *FileRepository) Load(_ context.Context) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var rec Record
	if err = yaml.Unmarshal(contents, &rec); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	return &rec, nil
}

// Save writes the state to disk, creating the parent directory when needed.
func (r *FileRepository) Save(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}
