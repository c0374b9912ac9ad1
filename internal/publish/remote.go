package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"datastudio/internal/logging"
)

const (
	// CurrentObject names the pointer object under <prefix>/<repo id>/. Its
	// body is the version directory, relative to the repo prefix, that readers
	// should load.
	CurrentObject = "CURRENT"
	// VersionsDir holds one immutable directory per remote publish.
	VersionsDir = ".runs/"

	infoRel = "meta/info.json"
)

// objectStore is the bucket surface a versioned remote publish needs.
type objectStore interface {
	putFile(ctx context.Context, key, path, rel string) error
	putBytes(ctx context.Context, key string, data []byte) error
	list(ctx context.Context, prefix string) ([]string, error)
	remove(ctx context.Context, keys []string) error
}

// newVersion returns a sortable, unique version directory name.
func newVersion(now time.Time) string {
	return now.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

// versionedPublish uploads files under <repoPrefix>.runs/<version>/, uploads
// meta/info.json last, then swaps CURRENT to the new version. Until CURRENT
// is written nothing readers see has changed; on failure every object the run
// wrote is deleted. Objects of earlier versions are pruned only after the swap.
type versionedPublish struct {
	store       objectStore
	repoPrefix  string
	concurrency int
	logger      *slog.Logger

	mu       sync.Mutex
	uploaded []string
}

func (v *versionedPublish) run(ctx context.Context, files []localFile, version string) error {
	root := v.repoPrefix + VersionsDir + version + "/"

	var body, last []localFile
	for _, f := range files {
		if f.rel == infoRel {
			last = append(last, f)
			continue
		}
		body = append(body, f)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for _, f := range body {
		g.Go(func() error { return v.put(gctx, root+f.rel, f) })
	}
	if err := g.Wait(); err != nil {
		return v.rollback(ctx, root, err)
	}
	for _, f := range last {
		if err := v.put(ctx, root+f.rel, f); err != nil {
			return v.rollback(ctx, root, err)
		}
	}

	pointer := v.repoPrefix + CurrentObject
	if err := v.store.putBytes(ctx, pointer, []byte(VersionsDir+version)); err != nil {
		return v.rollback(ctx, root, fmt.Errorf("write %s: %w", pointer, err))
	}

	v.prune(ctx, root)
	return nil
}

func (v *versionedPublish) put(ctx context.Context, key string, f localFile) error {
	if err := v.store.putFile(ctx, key, f.path, f.rel); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	v.mu.Lock()
	v.uploaded = append(v.uploaded, key)
	v.mu.Unlock()
	return nil
}

// rollback deletes the version directory, including objects whose upload
// landed after the caller gave up on them, and returns cause.
func (v *versionedPublish) rollback(ctx context.Context, root string, cause error) error {
	cleanupCtx := context.WithoutCancel(ctx)

	keys := map[string]struct{}{}
	v.mu.Lock()
	for _, k := range v.uploaded {
		keys[k] = struct{}{}
	}
	v.mu.Unlock()
	listed, listErr := v.store.list(cleanupCtx, root)
	for _, k := range listed {
		keys[k] = struct{}{}
	}

	doomed := make([]string, 0, len(keys))
	for k := range keys {
		doomed = append(doomed, k)
	}
	removeErr := v.store.remove(cleanupCtx, doomed)
	if err := errors.Join(listErr, removeErr); err != nil {
		logging.WarnWithContext(v.logger, "failed to remove partial upload", "publish_rollback_failed",
			logging.String("prefix", root),
			logging.Int("objects", len(doomed)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "delete the version directory manually"),
			logging.String(logging.FieldImpact, "unreferenced objects remain in the bucket; the published dataset is unchanged"),
		)
	}
	return cause
}

// prune removes everything under the repo prefix except CURRENT and the new
// version. A failure leaves garbage but never affects what CURRENT points at.
func (v *versionedPublish) prune(ctx context.Context, root string) {
	keys, err := v.store.list(ctx, v.repoPrefix)
	if err == nil {
		var stale []string
		for _, k := range keys {
			if k == v.repoPrefix+CurrentObject || strings.HasPrefix(k, root) {
				continue
			}
			stale = append(stale, k)
		}
		if len(stale) == 0 {
			return
		}
		if err = v.store.remove(ctx, stale); err == nil {
			v.logger.Info("removed stale objects",
				logging.String("prefix", v.repoPrefix),
				logging.Int("count", len(stale)),
				logging.String(logging.FieldEventType, "publish_stale_objects_removed"),
			)
			return
		}
	}
	logging.WarnWithContext(v.logger, "failed to prune earlier versions", "publish_prune_failed",
		logging.String("prefix", v.repoPrefix),
		logging.Error(err),
		logging.String(logging.FieldImpact, "earlier versions still occupy the bucket"),
	)
}
