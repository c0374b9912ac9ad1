package staging

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"datastudio/internal/fileutil"
	"datastudio/internal/logging"
)

// CleanStaleResult contains the outcome of a stale directory cleanup operation.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// runDir is one per-run scratch directory found under the staging root.
type runDir struct {
	id      string
	path    string
	modTime time.Time
	err     error
}

// scanRunDirs lists run scratch directories, skipping plain files and the
// lock directory. A missing staging root yields no entries and no error.
func scanRunDirs(stagingDir string) ([]runDir, error) {
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(stagingDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dirs := make([]runDir, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == LocksDir {
			continue
		}
		dir := runDir{id: entry.Name(), path: filepath.Join(stagingDir, entry.Name())}
		if info, err := entry.Info(); err != nil {
			dir.err = err
		} else {
			dir.modTime = info.ModTime()
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}

// CleanStale removes run scratch directories older than maxAge, skipping any
// run listed in active.
func CleanStale(stagingDir string, maxAge time.Duration, active map[string]struct{}, logger *slog.Logger) CleanStaleResult {
	cutoff := time.Now().Add(-maxAge)
	return clean(stagingDir, logger, "stale", func(dir runDir) bool {
		if _, ok := active[dir.id]; ok {
			return false
		}
		return dir.modTime.Before(cutoff)
	})
}

// CleanOrphaned removes every run scratch directory whose run id is not in active.
func CleanOrphaned(stagingDir string, active map[string]struct{}, logger *slog.Logger) CleanStaleResult {
	return clean(stagingDir, logger, "orphaned", func(dir runDir) bool {
		_, ok := active[dir.id]
		return !ok
	})
}

func clean(stagingDir string, logger *slog.Logger, reason string, shouldRemove func(runDir) bool) CleanStaleResult {
	if logger == nil {
		logger = logging.NewNop()
	}
	var result CleanStaleResult

	dirs, err := scanRunDirs(stagingDir)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: err})
		return result
	}

	for _, dir := range dirs {
		if dir.err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir.path, Error: dir.err})
			continue
		}
		if !shouldRemove(dir) {
			continue
		}
		if err := os.RemoveAll(dir.path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir.path, Error: err})
			logging.WarnWithContext(logger, "failed to remove "+reason+" scratch directory", "staging_cleanup_failed",
				logging.String(logging.FieldRunID, dir.id),
				logging.String("path", dir.path),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dir.path)
		logger.Info("removed "+reason+" scratch directory",
			logging.String(logging.FieldRunID, dir.id),
			logging.String("path", dir.path),
			logging.Duration("age", time.Since(dir.modTime)),
			logging.String(logging.FieldEventType, "staging_cleanup"),
		)
	}
	return result
}

// DirInfo contains metadata about a run scratch directory.
type DirInfo struct {
	RunID   string
	Path    string
	ModTime time.Time
	Size    int64
}

// ListDirectories returns every run scratch directory under stagingDir.
func ListDirectories(stagingDir string) ([]DirInfo, error) {
	dirs, err := scanRunDirs(stagingDir)
	if err != nil || len(dirs) == 0 {
		return nil, err
	}
	out := make([]DirInfo, 0, len(dirs))
	for _, dir := range dirs {
		if dir.err != nil {
			continue
		}
		// best effort: a run may still be writing
		size, _ := fileutil.TreeSize(dir.path)
		out = append(out, DirInfo{RunID: dir.id, Path: dir.path, ModTime: dir.modTime, Size: size})
	}
	return out, nil
}
