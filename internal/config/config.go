package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by every bedrock-keeper command.
type Config struct {
	// ServerDir is the root of the Bedrock server installation.
	ServerDir string `yaml:"server_dir"`
	// BackupDir is the folder where backup archives are stored.
	BackupDir string `yaml:"backup_dir"`
	// KeeperDir is the working folder for state, downloads and temp extraction.
	KeeperDir string `yaml:"keeper_dir"`
	// LinksURL is the primary download-links API endpoint.
	LinksURL string `yaml:"links_url"`
	// FallbackURL is the mirror serving a raw download link on primary failure.
	FallbackURL string `yaml:"fallback_url"`
	// Timeout bounds individual HTTP requests.
	Timeout time.Duration `yaml:"timeout"`
	// DownloadWorkers limits parallelism of the chunked download.
	DownloadWorkers int `yaml:"download_workers"`
	// ChunkSize is the byte size of each ranged download request.
	ChunkSize int64 `yaml:"chunk_size"`
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "bedrock-keeper-settings.yaml"

	// DefaultLinksURL is the official download-links API endpoint.
	DefaultLinksURL = "https://net-secondary.web.minecraft-services.net/api/v1.0/download/links"

	// DefaultFallbackURL serves a plain-text download link when the API is unreachable.
	DefaultFallbackURL = "https://raw.githubusercontent.com/ghwns9652/Minecraft-Bedrock-Server-Updater/main/backup_download_link.txt"

	// DefaultTimeout is the default duration for HTTP requests.
	DefaultTimeout = 30 * time.Second

	// DefaultDownloadWorkers is the default parallelism of the chunked download.
	DefaultDownloadWorkers = 5

	// DefaultChunkSize is the default ranged request size (1 MiB).
	DefaultChunkSize int64 = 1 << 20

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// defaultBackupDirName and defaultKeeperDirName are resolved under ServerDir
	// when the corresponding paths are not configured explicitly.
	defaultBackupDirName = "backup"
	defaultKeeperDirName = "updater"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errNegativeChunkSize is returned when chunk_size is below zero.
	errNegativeChunkSize = errors.New("chunk size must not be negative")
)

// Default returns a configuration with every field set to its default value.
func Default() *Config {
	cfg := &Config{
		ServerDir: ".",
	}
	applyDefaults(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates essential fields.
// A missing file is not an error: the tool runs with defaults so that a bare
// invocation next to the server works without any setup.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}

		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ChunkSize < 0 {
		return errNegativeChunkSize
	}

	applyDefaults(cfg)

	if _, err := url.ParseRequestURI(cfg.LinksURL); err != nil {
		return fmt.Errorf("invalid links URL: %w", err)
	}

	if _, err := url.ParseRequestURI(cfg.FallbackURL); err != nil {
		return fmt.Errorf("invalid fallback URL: %w", err)
	}

	return nil
}

// applyDefaults fills zero-valued fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.ServerDir == "" {
		cfg.ServerDir = "."
	}

	if cfg.BackupDir == "" {
		cfg.BackupDir = filepath.Join(cfg.ServerDir, defaultBackupDirName)
	}

	if cfg.KeeperDir == "" {
		cfg.KeeperDir = filepath.Join(cfg.ServerDir, defaultKeeperDirName)
	}

	if cfg.LinksURL == "" {
		cfg.LinksURL = DefaultLinksURL
	}

	if cfg.FallbackURL == "" {
		cfg.FallbackURL = DefaultFallbackURL
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.DownloadWorkers <= 0 {
		cfg.DownloadWorkers = DefaultDownloadWorkers
	}

	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
}
