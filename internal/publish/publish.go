package publish

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"datastudio/internal/config"
	"datastudio/internal/logging"
)

// Location describes where a dataset was published.
type Location struct {
	Target string
	URI    string
	// Version is the remote version directory CURRENT points at; empty for local.
	Version string
	Files   int
	Bytes   int64
}

// Publisher moves a completed scratch tree to durable storage.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, scratchRoot, repoID string) (Location, error)
}

// New builds the publisher selected by cfg.Publish.Target.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Publisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("publish: config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	switch cfg.Publish.Target {
	case "", "local":
		return NewLocal(cfg.Paths.DatasetsDir, logger), nil
	case "s3":
		return NewS3FromConfig(ctx, cfg, logger)
	case "minio":
		return NewMinioFromConfig(cfg, logger)
	default:
		return nil, fmt.Errorf("publish: unknown target %q", cfg.Publish.Target)
	}
}

type localFile struct {
	path string
	rel  string
	size int64
}

// listFiles returns the regular files under root with slash-separated relative paths.
func listFiles(root string) ([]localFile, error) {
	var files []localFile
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, localFile{path: p, rel: filepath.ToSlash(rel), size: info.Size()})
		return nil
	})
	return files, err
}

// objectPrefix returns "<prefix>/<repo id>/" with no leading slash.
func objectPrefix(prefix, repoID string) string {
	joined := path.Join(strings.Trim(prefix, "/"), strings.Trim(repoID, "/"))
	return strings.TrimPrefix(joined, "/") + "/"
}

// removeStaleLocal deletes datasets_dir/<repo id> after a remote publish.
func removeStaleLocal(datasetsDir, repoID string, logger *slog.Logger) {
	if strings.TrimSpace(datasetsDir) == "" {
		return
	}
	local := filepath.Join(datasetsDir, filepath.FromSlash(strings.Trim(repoID, "/")))
	if _, err := os.Stat(local); err != nil {
		return
	}
	if err := os.RemoveAll(local); err != nil {
		logger.Warn("failed to remove stale local copy",
			logging.String(logging.FieldRepoID, repoID),
			logging.String("path", local),
			logging.Error(err),
			logging.String(logging.FieldEventType, "stale_local_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "remove the directory manually"),
			logging.String(logging.FieldImpact, "local copy is older than the published dataset"),
		)
		return
	}
	logger.Info("removed stale local copy",
		logging.String(logging.FieldRepoID, repoID),
		logging.String("path", local),
		logging.String(logging.FieldEventType, "stale_local_removed"),
	)
}
