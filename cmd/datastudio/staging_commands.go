package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"datastudio/internal/logging"
	"datastudio/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Manage run scratch directories",
	}

	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))

	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List run scratch directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stagingDir := strings.TrimSpace(cfg.Paths.StagingDir)

			dirs, err := staging.ListDirectories(stagingDir)
			if err != nil {
				return fmt.Errorf("list staging directories: %w", err)
			}
			var totalSize int64
			for _, dir := range dirs {
				totalSize += dir.Size
			}

			if ctx.JSONMode() {
				if dirs == nil {
					dirs = []staging.DirInfo{}
				}
				return writeJSON(cmd, map[string]any{
					"staging_dir":      stagingDir,
					"directories":      dirs,
					"total_size_bytes": totalSize,
				})
			}

			out := cmd.OutOrStdout()
			if len(dirs) == 0 {
				fmt.Fprintln(out, "No staging directories found")
				return nil
			}

			fmt.Fprintf(out, "Staging directory: %s\n\n", stagingDir)
			rows := make([][]string, 0, len(dirs))
			for _, dir := range dirs {
				rows = append(rows, []string{
					shortID(dir.RunID),
					humanize.Time(dir.ModTime),
					humanize.IBytes(uint64(max(dir.Size, 0))),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Run", "Modified", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight},
			))
			fmt.Fprintf(out, "\nTotal: %d directories, %s\n", len(dirs), humanize.IBytes(uint64(max(totalSize, 0))))
			return nil
		},
	}
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	var orphaned bool
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove abandoned run scratch directories",
		Long: `Remove run scratch directories left behind by crashed or killed runs.

By default only directories older than engine.stale_staging_hours are removed.
Use --orphaned to remove every directory whose run is not recorded as in
progress. Runs recorded as in progress are never touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			known, err := store.List(cmd.Context(), 0)
			if err != nil {
				return err
			}
			active := make(map[string]struct{})
			for _, snap := range known {
				if !snap.Terminal() {
					active[snap.ID] = struct{}{}
				}
			}

			var result staging.CleanStaleResult
			label := "orphaned"
			if orphaned {
				result = staging.CleanOrphaned(cfg.Paths.StagingDir, active, logger)
			} else {
				label = "stale"
				age := maxAge
				if age <= 0 {
					age = time.Duration(cfg.Engine.StaleStagingHours) * time.Hour
				}
				result = staging.CleanStale(cfg.Paths.StagingDir, age, active, logger)
			}

			if ctx.JSONMode() {
				errs := make([]string, 0, len(result.Errors))
				for _, e := range result.Errors {
					errs = append(errs, fmt.Sprintf("%s: %v", e.Path, e.Error))
				}
				return writeJSON(cmd, map[string]any{"removed": len(result.Removed), "errors": errs})
			}
			printStagingCleanResult(cmd, result, label)
			if len(result.Errors) > 0 {
				logging.WarnWithContext(logger, "some staging directories could not be removed", "staging_clean_partial",
					logging.Int("errors", len(result.Errors)),
					logging.String(logging.FieldErrorHint, "check permissions under the staging directory"),
				)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&orphaned, "orphaned", false, "Remove every directory not owned by an in-progress run")
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Override engine.stale_staging_hours")
	return cmd
}

func printStagingCleanResult(cmd *cobra.Command, result staging.CleanStaleResult, label string) {
	out := cmd.OutOrStdout()
	if len(result.Removed) == 0 && len(result.Errors) == 0 {
		fmt.Fprintf(out, "No %s directories to clean\n", label)
		return
	}
	if len(result.Errors) > 0 {
		fmt.Fprintf(out, "Removed %d %s directories, %d errors\n", len(result.Removed), label, len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  Error: %s: %v\n", e.Path, e.Error)
		}
		return
	}
	fmt.Fprintf(out, "Removed %d %s directories\n", len(result.Removed), label)
}
