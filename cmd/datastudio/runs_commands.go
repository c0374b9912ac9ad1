package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"datastudio/internal/runs"
)

type runView struct {
	ID         string        `json:"id"`
	Kind       string        `json:"kind"`
	RepoID     string        `json:"repo_id"`
	Sources    []string      `json:"sources"`
	Stage      string        `json:"stage"`
	Progress   float64       `json:"progress"`
	Message    string        `json:"message,omitempty"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
	Result     *runs.Summary `json:"result,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

func newRunView(snap runs.Snapshot) runView {
	sources := snap.Sources
	if sources == nil {
		sources = []string{}
	}
	return runView{
		ID:         snap.ID,
		Kind:       string(snap.Kind),
		RepoID:     snap.RepoID,
		Sources:    sources,
		Stage:      string(snap.Stage),
		Progress:   snap.Progress,
		Message:    snap.Message,
		ErrorKind:  snap.ErrorKind,
		Error:      snap.Error,
		Result:     snap.Result,
		CreatedAt:  snap.CreatedAt,
		UpdatedAt:  snap.UpdatedAt,
		FinishedAt: snap.FinishedAt,
	}
}

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect filter and merge run history",
	}

	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	runsCmd.AddCommand(newRunsResetCommand(ctx))
	runsCmd.AddCommand(newRunsPruneCommand(ctx))

	return runsCmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			list, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if ctx.JSONMode() {
				views := make([]runView, 0, len(list))
				for _, snap := range list {
					views = append(views, newRunView(snap))
				}
				return writeJSON(cmd, views)
			}

			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			now := time.Now()
			rows := make([][]string, 0, len(list))
			for _, snap := range list {
				rows = append(rows, []string{
					shortID(snap.ID),
					string(snap.Kind),
					snap.RepoID,
					string(snap.Stage),
					fmt.Sprintf("%.0f%%", snap.Progress*100),
					humanize.Time(snap.CreatedAt),
					formatDuration(snap.Duration(now)),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"ID", "Kind", "Destination", "Stage", "Progress", "Started", "Duration"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show (0 for all)")
	return cmd
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run; a unique id prefix is enough",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			snap, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			if snap == nil {
				return fmt.Errorf("run %s not found", args[0])
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, newRunView(*snap))
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Run "+snap.ID, colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderStatusLine("Kind", statusInfo, string(snap.Kind), colorize))
			fmt.Fprintln(out, renderStatusLine("Destination", statusInfo, snap.RepoID, colorize))
			fmt.Fprintln(out, renderStatusLine("Sources", statusInfo, strings.Join(snap.Sources, ", "), colorize))
			fmt.Fprintln(out, renderStatusLine("Stage", stageStatus(snap.Stage),
				fmt.Sprintf("%s (%.0f%%)", snap.Stage, snap.Progress*100), colorize))
			if snap.Message != "" && snap.Message != snap.Error {
				fmt.Fprintln(out, renderStatusLine("Message", statusInfo, snap.Message, colorize))
			}
			if snap.Error != "" {
				fmt.Fprintln(out, renderStatusLine("Error", statusError, fmt.Sprintf("%s: %s", snap.ErrorKind, snap.Error), colorize))
			}
			fmt.Fprintln(out, renderStatusLine("Started", statusInfo, snap.CreatedAt.Local().Format(time.RFC3339), colorize))
			fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, formatDuration(snap.Duration(time.Now())), colorize))
			if snap.Result != nil {
				printRunSummary(cmd, *snap, colorize)
			}
			return nil
		},
	}
}

func newRunsResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Mark runs left in progress by an exited process as failed",
		Long: `Mark every run still recorded as in progress as failed.

Only use this when no datastudio filter or merge command is running; runs in
other processes are indistinguishable from abandoned ones.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			n, err := store.MarkInterrupted(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{"reset": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marked %d runs as interrupted\n", n)
			return nil
		},
	}
}

func newRunsPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs from the history",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return errors.New("--older-than must not be negative")
			}
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			n, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, map[string]any{"removed": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d runs\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Only remove runs that finished longer ago than this")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Hour:
		return d.Round(time.Second).String()
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
