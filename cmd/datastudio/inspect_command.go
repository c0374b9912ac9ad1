package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"datastudio/internal/dataset"
)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "inspect <repo-id>",
		Short: "Show a local dataset's metadata and episodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := ctx.datasetRef(args[0])
			if err != nil {
				return err
			}
			ds, err := dataset.Open(ref)
			if err != nil {
				if errors.Is(err, dataset.ErrNotDataset) || errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("dataset %s not found under %s", ref.RepoID, ref.Root)
				}
				return err
			}

			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{
					"repo_id":  ds.RepoID,
					"root":     ds.Root,
					"info":     ds.Info,
					"episodes": ds.Episodes,
					"tasks":    ds.Tasks,
				})
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			info := ds.Info
			for _, line := range renderSectionHeader(ds.RepoID, colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderStatusLine("Location", statusInfo, ds.Root, colorize))
			fmt.Fprintln(out, renderStatusLine("Version", statusInfo, info.CodebaseVersion, colorize))
			if info.RobotType != "" {
				fmt.Fprintln(out, renderStatusLine("Robot", statusInfo, info.RobotType, colorize))
			}
			fmt.Fprintln(out, renderStatusLine("FPS", statusInfo, strconv.Itoa(info.FPS), colorize))
			fmt.Fprintln(out, renderStatusLine("Episodes", statusInfo, strconv.Itoa(info.TotalEpisodes), colorize))
			fmt.Fprintln(out, renderStatusLine("Frames", statusInfo, strconv.Itoa(info.TotalFrames), colorize))
			fmt.Fprintln(out, renderStatusLine("Tasks", statusInfo, strconv.Itoa(info.TotalTasks), colorize))
			fmt.Fprintln(out, renderStatusLine("Chunk size", statusInfo, strconv.Itoa(info.ChunksSize), colorize))
			if keys := info.VideoKeys(); len(keys) > 0 {
				fmt.Fprintln(out, renderStatusLine("Video keys", statusInfo, strings.Join(keys, ", "), colorize))
			}
			if info.TotalEpisodes != ds.NumEpisodes() {
				fmt.Fprintln(out, renderStatusLine("Consistency", statusWarn,
					fmt.Sprintf("info lists %d episodes, episodes table has %d", info.TotalEpisodes, ds.NumEpisodes()), colorize))
			}
			fmt.Fprintln(out)

			rows := make([][]string, 0, len(ds.Episodes))
			for i, ep := range ds.Episodes {
				if limit > 0 && i == limit {
					break
				}
				rows = append(rows, []string{strconv.Itoa(ep.Index), strconv.Itoa(ep.Length), strings.Join(ep.Tasks, "; ")})
			}
			fmt.Fprint(out, renderTable([]string{"Episode", "Frames", "Tasks"}, rows, []columnAlignment{alignRight, alignRight, alignLeft}))
			if hidden := len(ds.Episodes) - len(rows); hidden > 0 {
				fmt.Fprintf(out, "... %d more episodes (use --limit 0 to show all)\n", hidden)
			}

			if len(ds.Tasks) > 0 {
				fmt.Fprintln(out)
				taskRows := make([][]string, 0, len(ds.Tasks))
				for _, task := range ds.Tasks {
					taskRows = append(taskRows, []string{strconv.Itoa(task.Index), task.Label})
				}
				fmt.Fprint(out, renderTable([]string{"Task", "Label"}, taskRows, []columnAlignment{alignRight, alignLeft}))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of episodes to list (0 for all)")
	return cmd
}
