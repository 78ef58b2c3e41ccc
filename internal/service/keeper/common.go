package keeper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/ghwns9652/bedrock-keeper/internal/config"
	"github.com/ghwns9652/bedrock-keeper/internal/logger"
)

const (
	// MarkerFilename marks that the keeper is running right now to avoid parallel execution.
	MarkerFilename = "bedrock-keeper-update-marker.bin"

	// StateFilename stores the version marker and backup bookkeeping.
	StateFilename = "bedrock-keeper-state.yaml"

	// resourcesDirName is where downloaded archives are kept, under the keeper dir.
	resourcesDirName = "resources"

	// tempDirName is the extraction scratch directory, under resources.
	tempDirName = "temp"

	// keeperExecutable is this tool's own binary base name, excluded from backups.
	keeperExecutable = "bedrock-keeper"

	// markerLifetime is the period after which a stale update marker is
	// reconsidered. Downloads of a full server build can take a while.
	markerLifetime = 15 * time.Minute
)

var (
	// ErrAlreadyRunning is returned when another keeper run holds the marker.
	ErrAlreadyRunning = errors.New("the keeper is already running")

	// ErrServerRunning is returned when the server process is alive during an update.
	ErrServerRunning = errors.New("the bedrock server is running, stop it before updating")
)

// listProcesses enumerates system processes. A variable so tests can stub it.
var listProcesses = ps.Processes

// backupExclusions returns the top-level names under serverDir that never
// participate in backups or content hashing: the backup folder, the keeper's
// working folder, the keeper's own files.
func backupExclusions(cfg *config.Config) map[string]struct{} {
	exclude := map[string]struct{}{
		config.DefaultConfigFilename: {},
		keeperExecutable:             {},
		keeperExecutable + ".exe":    {},
	}

	for _, dir := range []string{cfg.BackupDir, cfg.KeeperDir} {
		if filepath.Dir(filepath.Clean(dir)) == filepath.Clean(cfg.ServerDir) {
			exclude[filepath.Base(filepath.Clean(dir))] = struct{}{}
		}
	}

	return exclude
}

// isKeeperRunningNow checks presence of the marker file and attempts recovery
// when it looks stale and no other keeper process is alive.
func isKeeperRunningNow(ctx context.Context, markerPath string) bool {
	fileInfo, err := os.Stat(markerPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Infof(ctx, "Unable to read update marker: %v", err)
		}

		return false
	}

	if time.Since(fileInfo.ModTime()) <= markerLifetime {
		return true
	}

	logger.Info(ctx, "The update marker is stale, checking for a live keeper process")

	if otherKeeperProcessAlive() {
		return true
	}

	if err = os.Remove(markerPath); err != nil {
		return true
	}

	return false
}

// otherKeeperProcessAlive reports whether a keeper process other than this one is running.
func otherKeeperProcessAlive() bool {
	processList, err := listProcesses()
	if err != nil {
		// Unable to enumerate: err on the safe side.
		return true
	}

	thisProcessID := os.Getpid()

	for _, process := range processList {
		if process.Pid() == thisProcessID {
			continue
		}

		name := strings.TrimSuffix(process.Executable(), ".exe")
		if name == keeperExecutable {
			return true
		}
	}

	return false
}

// serverProcessRunning reports whether the Bedrock server binary is alive.
func serverProcessRunning(executable string) (bool, error) {
	processList, err := listProcesses()
	if err != nil {
		return false, fmt.Errorf("list processes: %w", err)
	}

	for _, process := range processList {
		if process.Executable() == executable {
			return true, nil
		}
	}

	return false, nil
}

// warnIfServerLive logs a warning when the server binary is running while a
// backup is about to be taken: the snapshot may catch the world mid-write.
func warnIfServerLive(ctx context.Context, executable string) {
	running, err := serverProcessRunning(executable)
	if err != nil {
		logger.WarnKV(ctx, "Unable to check for a running server", "error", err)

		return
	}

	if running {
		logger.WarnKV(ctx, "The bedrock server is running, the backup may catch the world mid-write",
			"executable", executable)
	}
}

// confirmInstall asks the user whether to download and install the server.
// Declining is a normal answer, not an error.
func confirmInstall(ctx context.Context, in io.Reader) (bool, error) {
	logger.Info(ctx, "Bedrock server not found. Download and install it now? [y/n]")

	reader := bufio.NewReader(in)

	answer, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read answer: %w", err)
	}

	return strings.ToLower(strings.TrimSpace(answer)) == "y", nil
}
