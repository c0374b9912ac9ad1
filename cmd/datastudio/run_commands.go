package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/spf13/cobra"

	"datastudio/internal/dataset"
	"datastudio/internal/runs"
	"datastudio/internal/transform"
)

const progressPollInterval = 200 * time.Millisecond

func newFilterCommand(ctx *commandContext) *cobra.Command {
	var source, dest, episodes string
	var tasks []string

	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Publish a subset of a dataset's episodes under a new repo id",
		Example: `  datastudio filter --source lab/pick_place --episodes 0,2,4 --dest lab/pick_subset
  datastudio filter --source lab/pick_place --episodes 0-9 --task 2=custom_pick --dest lab/relabelled`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := ctx.datasetRef(source)
			if err != nil {
				return fmt.Errorf("--source: %w", err)
			}
			src, err := dataset.Open(ref)
			if err != nil {
				return fmt.Errorf("--source: %w", err)
			}
			selected, err := parseEpisodeList(episodes, src.NumEpisodes())
			if err != nil {
				return err
			}
			overrides, err := parseTaskOverrides(tasks)
			if err != nil {
				return err
			}
			runner, err := ctx.newRunner(cmd.Context())
			if err != nil {
				return err
			}
			id := runner.Filter(cmd.Context(), transform.FilterRequest{
				Source:        ref,
				Episodes:      selected,
				TaskOverrides: overrides,
				Destination:   dest,
			})
			return followRun(cmd, ctx, runner, id)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Source dataset repo id")
	cmd.Flags().StringVar(&episodes, "episodes", "", "Episode indices to keep, e.g. 0,2,5-7")
	cmd.Flags().StringArrayVar(&tasks, "task", nil, "Append a task label to an episode, as <episode>=<label> (repeatable)")
	cmd.Flags().StringVar(&dest, "dest", "", "Destination repo id")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("episodes")
	_ = cmd.MarkFlagRequired("dest")
	return cmd
}

func newMergeCommand(ctx *commandContext) *cobra.Command {
	var sources []string
	var dest string

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Concatenate datasets in order under a new repo id",
		Long: `Concatenate datasets in the order given. Every source must share the first
source's fps and feature set. Append @<seconds> to a source to override the
timestamp tolerance checked for it; @0 disables the check.`,
		Example: `  datastudio merge --source lab/a --source lab/b@0.01 --dest lab/combined`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(sources) == 0 {
				return errors.New("at least one --source is required")
			}
			req := transform.MergeRequest{Destination: dest}
			for _, raw := range sources {
				repo, tol, err := parseMergeSource(raw)
				if err != nil {
					return err
				}
				ref, err := ctx.datasetRef(repo)
				if err != nil {
					return fmt.Errorf("--source %q: %w", raw, err)
				}
				req.Sources = append(req.Sources, transform.MergeSource{Ref: ref, ToleranceS: tol})
			}
			runner, err := ctx.newRunner(cmd.Context())
			if err != nil {
				return err
			}
			id := runner.Merge(cmd.Context(), req)
			return followRun(cmd, ctx, runner, id)
		},
	}

	cmd.Flags().StringArrayVar(&sources, "source", nil, "Source dataset repo id, optionally suffixed with @<tolerance seconds> (repeatable, in merge order)")
	cmd.Flags().StringVar(&dest, "dest", "", "Destination repo id")
	_ = cmd.MarkFlagRequired("dest")
	return cmd
}

// followRun prints stage transitions until run id finishes and then reports
// its outcome. A failed run is returned as an error carrying its cause.
func followRun(cmd *cobra.Command, ctx *commandContext, runner *runs.Runner, id string) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	var (
		final   runs.Snapshot
		waitErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		final, waitErr = runner.Wait(cmd.Context(), id)
	}()

	var lastStage transform.Stage
	show := func(snap runs.Snapshot) {
		if ctx.JSONMode() || snap.Stage == lastStage {
			return
		}
		lastStage = snap.Stage
		message := fmt.Sprintf("%3.0f%%  %s", snap.Progress*100, snap.Message)
		fmt.Fprintln(out, renderStatusLine(string(snap.Stage), stageStatus(snap.Stage), message, colorize))
	}

	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()
	for waiting := true; waiting; {
		select {
		case <-done:
			waiting = false
		case <-ticker.C:
			if snap, ok := runner.Tracker().Get(id); ok {
				show(snap)
			}
		}
	}
	if waitErr != nil {
		return waitErr
	}

	if ctx.JSONMode() {
		if err := writeJSON(cmd, newRunView(final)); err != nil {
			return err
		}
	} else {
		show(final)
		printRunSummary(cmd, final, colorize)
	}
	if final.Stage == transform.StageFailed {
		return errors.New(final.Error)
	}
	return nil
}

func printRunSummary(cmd *cobra.Command, snap runs.Snapshot, colorize bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderStatusLine("Run", statusInfo, snap.ID, colorize))
	if snap.Result == nil {
		return
	}
	res := snap.Result
	fmt.Fprintln(out, renderStatusLine("Published", statusOK, fmt.Sprintf("%s (%s)", res.URI, res.Target), colorize))
	fmt.Fprintln(out, renderStatusLine("Contents", statusInfo,
		fmt.Sprintf("%d episodes, %d frames, %d tasks, %d videos", res.Episodes, res.Frames, res.Tasks, res.VideosCopied), colorize))
	if res.MissingAssets > 0 {
		fmt.Fprintln(out, renderStatusLine("Missing videos", statusWarn,
			fmt.Sprintf("%d video files were absent in the sources and skipped", res.MissingAssets), colorize))
	}
}

// parseEpisodeList accepts comma-separated indices and inclusive ranges
// against a source holding total episodes. Every index must be below total,
// so a range is never expanded past the source. The result is ascending and
// free of duplicates.
func parseEpisodeList(value string, total int) ([]int, error) {
	selected := roaring.New()
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err1 := strconv.Atoi(strings.TrimSpace(lo))
			end, err2 := strconv.Atoi(strings.TrimSpace(hi))
			if err1 != nil || err2 != nil || start < 0 || end < start {
				return nil, fmt.Errorf("--episodes: invalid range %q", part)
			}
			if end >= total {
				return nil, fmt.Errorf("--episodes: range %q is out of range, source has %d episodes", part, total)
			}
			selected.AddRange(uint64(start), uint64(end)+1)
			continue
		}
		idx, err := strconv.Atoi(part)
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("--episodes: invalid episode index %q", part)
		}
		if idx >= total {
			return nil, fmt.Errorf("--episodes: episode %d is out of range, source has %d episodes", idx, total)
		}
		selected.Add(uint32(idx))
	}
	if selected.IsEmpty() {
		return nil, errors.New("--episodes: no episodes given")
	}
	out := make([]int, 0, selected.GetCardinality())
	it := selected.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out, nil
}

func parseTaskOverrides(values []string) (map[int]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[int]string, len(values))
	for _, raw := range values {
		idxText, label, ok := strings.Cut(raw, "=")
		label = strings.TrimSpace(label)
		if !ok || label == "" {
			return nil, fmt.Errorf("--task %q: expected <episode>=<label>", raw)
		}
		idx, err := strconv.Atoi(strings.TrimSpace(idxText))
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("--task %q: invalid episode index", raw)
		}
		if _, dup := out[idx]; dup {
			return nil, fmt.Errorf("--task: episode %d given twice", idx)
		}
		out[idx] = label
	}
	return out, nil
}

// parseMergeSource splits "org/name@0.05" into the repo id and tolerance.
func parseMergeSource(raw string) (string, *float64, error) {
	repo, tolText, ok := strings.Cut(strings.TrimSpace(raw), "@")
	if !ok {
		return repo, nil, nil
	}
	tol, err := strconv.ParseFloat(strings.TrimSpace(tolText), 64)
	if err != nil || tol < 0 {
		return "", nil, fmt.Errorf("--source %q: tolerance must be a non-negative number of seconds", raw)
	}
	return repo, &tol, nil
}
