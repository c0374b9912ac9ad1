// Package staging owns the scratch area under staging_dir: per-run working
// trees, destination locks, and cleanup of abandoned runs.
package staging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocksDir is the staging_dir subdirectory holding destination lock files.
const LocksDir = ".locks"

// Scratch is the private working tree of one run. Nothing outside the run
// writes under RunDir.
type Scratch struct {
	RunID  string
	RunDir string
	Dir    string
}

// NewScratch creates staging_dir/<run_id>/<sanitized repo id>. An existing
// directory for the same run is an error.
func NewScratch(stagingDir, runID, repoID string) (*Scratch, error) {
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return nil, errors.New("staging dir is required")
	}
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("run id is required")
	}
	runDir := filepath.Join(stagingDir, runID)
	if _, err := os.Stat(runDir); err == nil {
		return nil, fmt.Errorf("scratch for run %s already exists", runID)
	}
	dir := filepath.Join(runDir, SanitizeRepoID(repoID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &Scratch{RunID: runID, RunDir: runDir, Dir: dir}, nil
}

// Remove deletes the run's scratch tree. Safe to call after the tree was
// moved away by a publisher.
func (s *Scratch) Remove() error {
	if s == nil {
		return nil
	}
	return os.RemoveAll(s.RunDir)
}

// SanitizeRepoID turns an "owner/name" repository id into a single path
// component.
func SanitizeRepoID(repoID string) string {
	repoID = strings.TrimSpace(repoID)
	if repoID == "" {
		return "dataset"
	}
	var b strings.Builder
	for _, r := range strings.ReplaceAll(repoID, "/", "__") {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "." || out == ".." {
		return "dataset"
	}
	return out
}
