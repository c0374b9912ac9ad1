package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"datastudio/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the configuration file",
	}
	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := resolveInitTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				_, err := os.Stat(target)
				switch {
				case err == nil:
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				case !errors.Is(err, fs.ErrNotExist):
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Edit [paths] datasets_dir to point at your local datasets.")
			fmt.Fprintln(out, "Set [publish] target, bucket, and credentials before publishing to S3 or MinIO.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing configuration file")
	return cmd
}

func resolveInitTarget(flagValue string) (string, error) {
	if target := strings.TrimSpace(flagValue); target != "" {
		expanded, err := config.ExpandPath(target)
		if err != nil {
			return "", fmt.Errorf("resolve config path: %w", err)
		}
		return expanded, nil
	}
	target, err := config.DefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("determine default config path: %w", err)
	}
	return target, nil
}

type configSummary struct {
	Path          string `json:"path"`
	Exists        bool   `json:"exists"`
	DatasetsDir   string `json:"datasets_dir"`
	StagingDir    string `json:"staging_dir"`
	RowCodec      string `json:"row_codec"`
	Workers       int    `json:"workers"`
	PublishTarget string `json:"publish_target"`
	Notifications bool   `json:"notifications"`
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load, validate, and summarize the configuration",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(strings.TrimSpace(*ctx.configFlag))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			summary := configSummary{
				Path:          path,
				Exists:        exists,
				DatasetsDir:   cfg.Paths.DatasetsDir,
				StagingDir:    cfg.Paths.StagingDir,
				RowCodec:      cfg.Engine.RowCodec,
				Workers:       cfg.Engine.Workers,
				PublishTarget: cfg.Publish.Target,
				Notifications: cfg.Notifications.NtfyTopic != "",
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, summary)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			source := summary.Path
			if !exists {
				source += " (not found, using defaults)"
			}
			fmt.Fprintln(out, renderStatusLine("Config", statusInfo, source, colorize))
			fmt.Fprintln(out, renderStatusLine("Datasets", statusInfo, summary.DatasetsDir, colorize))
			fmt.Fprintln(out, renderStatusLine("Staging", statusInfo, summary.StagingDir, colorize))
			fmt.Fprintln(out, renderStatusLine("Rows", statusInfo, fmt.Sprintf("%s, %d workers", summary.RowCodec, summary.Workers), colorize))
			fmt.Fprintln(out, renderStatusLine("Publish", statusInfo, summary.PublishTarget, colorize))
			fmt.Fprintln(out, renderStatusLine("Notifications", statusInfo, onOff(summary.Notifications), colorize))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
