package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"datastudio/internal/fileutil"
	"datastudio/internal/logging"
)

// LocalPublisher moves scratch trees into a datasets directory.
type LocalPublisher struct {
	datasetsDir string
	logger      *slog.Logger
}

// NewLocal returns a publisher rooted at datasetsDir.
func NewLocal(datasetsDir string, logger *slog.Logger) *LocalPublisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LocalPublisher{datasetsDir: datasetsDir, logger: logger}
}

// Name returns "local".
func (p *LocalPublisher) Name() string { return "local" }

// Publish replaces datasets_dir/<repo id> with scratchRoot. An existing copy
// is renamed aside first and restored if the move fails.
func (p *LocalPublisher) Publish(ctx context.Context, scratchRoot, repoID string) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, err
	}
	repoID = strings.Trim(repoID, "/")
	if repoID == "" {
		return Location{}, fmt.Errorf("local publish: repo id is required")
	}
	dest := filepath.Join(p.datasetsDir, filepath.FromSlash(repoID))

	files, err := listFiles(scratchRoot)
	if err != nil {
		return Location{}, fmt.Errorf("local publish: list scratch: %w", err)
	}

	aside := ""
	if _, err := os.Lstat(dest); err == nil {
		aside = dest + ".replaced"
		_ = os.RemoveAll(aside)
		if err := os.Rename(dest, aside); err != nil {
			return Location{}, fmt.Errorf("local publish: move existing copy aside: %w", err)
		}
	}

	if err := fileutil.MoveDir(scratchRoot, dest); err != nil {
		if aside != "" {
			if restoreErr := os.Rename(aside, dest); restoreErr != nil {
				p.logger.Error("failed to restore previous dataset",
					logging.String(logging.FieldRepoID, repoID),
					logging.String("path", aside),
					logging.Error(restoreErr),
					logging.String(logging.FieldEventType, "publish_restore_failed"),
					logging.String(logging.FieldErrorHint, "rename the .replaced directory back by hand"),
				)
			}
		}
		return Location{}, fmt.Errorf("local publish: move scratch into place: %w", err)
	}

	if aside != "" {
		if err := os.RemoveAll(aside); err != nil {
			p.logger.Warn("failed to remove replaced dataset",
				logging.String(logging.FieldRepoID, repoID),
				logging.String("path", aside),
				logging.Error(err),
				logging.String(logging.FieldEventType, "publish_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "remove the .replaced directory manually"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
		}
	}

	loc := Location{Target: p.Name(), URI: dest, Files: len(files)}
	for _, f := range files {
		loc.Bytes += f.size
	}
	return loc, nil
}
