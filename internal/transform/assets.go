package transform

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"datastudio/internal/dataset"
	"datastudio/internal/fileutil"
	"datastudio/internal/logging"
)

// MissingAsset is a video file that was expected but absent in the source.
type MissingAsset struct {
	NewIndex int
	VideoKey string
	Path     string
}

// AssetReport summarizes the video copy.
type AssetReport struct {
	Copied  int
	Missing []MissingAsset
}

// copyAssets copies every (episode, video key) file into the new layout. A
// missing source file is logged and skipped.
func copyAssets(ctx context.Context, sources []*dataset.Dataset, idx IndexMaps, out Output) (AssetReport, error) {
	if len(sources) == 0 {
		return AssetReport{}, nil
	}
	videoKeys := sources[0].Info.VideoKeys()
	if len(videoKeys) == 0 {
		return AssetReport{}, nil
	}

	var (
		mu      sync.Mutex
		missing []MissingAsset
		copied  atomic.Int64
		done    atomic.Int64
		total   = len(idx.Episodes)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(out.workers())
	for _, m := range idx.Episodes {
		g.Go(func() error {
			src := sources[m.Source]
			for _, key := range videoKeys {
				if err := gctx.Err(); err != nil {
					return err
				}
				ok, srcPath, err := copyVideo(src, m, key, out)
				if err != nil {
					return err
				}
				if !ok {
					mu.Lock()
					missing = append(missing, MissingAsset{NewIndex: m.NewIndex, VideoKey: key, Path: srcPath})
					mu.Unlock()
					continue
				}
				copied.Add(1)
			}
			out.progress(int(done.Add(1)), total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return AssetReport{}, err
	}

	sort.Slice(missing, func(i, j int) bool {
		if missing[i].NewIndex != missing[j].NewIndex {
			return missing[i].NewIndex < missing[j].NewIndex
		}
		return missing[i].VideoKey < missing[j].VideoKey
	})
	return AssetReport{Copied: int(copied.Load()), Missing: missing}, nil
}

// copyVideo returns false when the source file does not exist.
func copyVideo(src *dataset.Dataset, m EpisodeMapping, key string, out Output) (bool, string, error) {
	srcPath, err := src.VideoFile(m.OldIndex, key, out.FallbackChunkSize)
	if err != nil {
		return false, "", fmt.Errorf("locate video %s of %s episode %d: %w", key, src.RepoID, m.OldIndex, err)
	}
	if _, err := os.Stat(srcPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return false, srcPath, err
		}
		cause := Wrap(ErrAssetMissing, StageCopyingAssets, "copy video", key, err)
		logging.WarnWithContext(out.logger(), "video file not found; skipping", "asset_missing",
			logging.String(logging.FieldRepoID, src.RepoID),
			logging.Episode(m.OldIndex),
			logging.Int("new_episode_index", m.NewIndex),
			logging.VideoKey(key),
			logging.String("path", srcPath),
			logging.Error(cause),
			logging.String(logging.FieldErrorHint, "re-download the source dataset videos"),
			logging.String(logging.FieldImpact, "published dataset lacks this video file"),
		)
		return false, srcPath, nil
	}

	dst := filepath.Join(out.Root, filepath.FromSlash(out.Layout.VideoPath(m.NewIndex, key)))
	copyFn := fileutil.CopyFile
	if out.VerifyCopies {
		copyFn = fileutil.CopyFileVerified
	}
	if err := copyFn(srcPath, dst); err != nil {
		return false, srcPath, fmt.Errorf("copy video %s of episode %d: %w", key, m.NewIndex, err)
	}
	return true, srcPath, nil
}
