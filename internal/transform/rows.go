package transform

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"datastudio/internal/dataset"
	"datastudio/internal/logging"
)

// Output is the scratch-side configuration shared by row and asset writers.
type Output struct {
	Root              string
	Layout            dataset.Layout
	Codec             dataset.Codec
	Workers           int
	VerifyCopies      bool
	FallbackChunkSize int
	Logger            *slog.Logger
	// Progress is called after each episode completes. It may be called
	// from several goroutines.
	Progress func(done, total int)
}

func (o Output) logger() *slog.Logger {
	if o.Logger == nil {
		return logging.NewNop()
	}
	return o.Logger
}

func (o Output) progress(done, total int) {
	if o.Progress != nil {
		o.Progress(done, total)
	}
}

func (o Output) workers() int {
	if o.Workers <= 0 {
		return 1
	}
	return o.Workers
}

// RowReport summarizes the row rewrite.
type RowReport struct {
	Rows int64
	// Foreign counts rows whose episode_index did not match the file's episode; they are dropped.
	Foreign int64
}

// transformRows writes one data file per new episode. Episodes are processed
// in parallel; rows within an episode keep their order.
func transformRows(ctx context.Context, sources []*dataset.Dataset, idx IndexMaps, out Output) (RowReport, error) {
	var (
		rows, foreign, done atomic.Int64
		total               = len(idx.Episodes)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(out.workers())
	for _, m := range idx.Episodes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			n, skipped, err := rewriteEpisode(sources[m.Source], m, idx.TaskRemap[m.Source], out)
			if err != nil {
				return err
			}
			rows.Add(n)
			foreign.Add(skipped)
			out.progress(int(done.Add(1)), total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RowReport{}, err
	}
	return RowReport{Rows: rows.Load(), Foreign: foreign.Load()}, nil
}

func rewriteEpisode(src *dataset.Dataset, m EpisodeMapping, taskRemap map[int64]int64, out Output) (int64, int64, error) {
	srcPath, err := src.DataFile(m.OldIndex, out.FallbackChunkSize)
	if err != nil {
		return 0, 0, fmt.Errorf("locate rows of %s episode %d: %w", src.RepoID, m.OldIndex, err)
	}
	if _, err := os.Stat(srcPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, 0, Wrap(ErrNotFound, StageWritingRows, "read rows",
				fmt.Sprintf("%s episode %d data file missing", src.RepoID, m.OldIndex), err)
		}
		return 0, 0, err
	}

	dst := filepath.Join(out.Root, filepath.FromSlash(out.Layout.DataPath(m.NewIndex)))
	writer, err := dataset.CreateRowFile(dst, out.Codec)
	if err != nil {
		return 0, 0, fmt.Errorf("create rows for episode %d: %w", m.NewIndex, err)
	}

	var skipped int64
	readErr := dataset.ReadRows(srcPath, func(row dataset.Row) error {
		if row.EpisodeIndex != int64(m.OldIndex) {
			skipped++
			return nil
		}
		row.EpisodeIndex = int64(m.NewIndex)
		if row.HasTaskIndex {
			if newTask, ok := taskRemap[row.TaskIndex]; ok {
				row.TaskIndex = newTask
			}
		}
		return writer.Write(row)
	})
	closeErr := writer.Close()
	if err := errors.Join(readErr, closeErr); err != nil {
		return 0, 0, fmt.Errorf("rewrite %s episode %d: %w", src.RepoID, m.OldIndex, err)
	}

	written := int64(writer.Count())
	if ep, ok := src.Episode(m.OldIndex); ok && int64(ep.Length) != written {
		logging.WarnWithContext(out.logger(), "row count differs from episode length", "row_count_mismatch",
			logging.String(logging.FieldRepoID, src.RepoID),
			logging.Episode(m.OldIndex),
			logging.Int("length", ep.Length),
			logging.Int64("rows", written),
			logging.String(logging.FieldErrorHint, "source episodes.jsonl may be stale"),
			logging.String(logging.FieldImpact, "total_frames follows episode lengths, not row counts"),
		)
	}
	return written, skipped, nil
}
