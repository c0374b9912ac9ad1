package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"datastudio/internal/config"
	"datastudio/internal/notifications"
	"datastudio/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var sendTest bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check directories and the publish endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			if sendTest {
				results = append(results, notificationCheck(cmd, cfg))
			}

			if ctx.JSONMode() {
				type check struct {
					Name   string `json:"name"`
					Passed bool   `json:"passed"`
					Detail string `json:"detail,omitempty"`
				}
				checks := make([]check, 0, len(results))
				for _, r := range results {
					checks = append(checks, check{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
				}
				if err := writeJSON(cmd, checks); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Preflight", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Publish target", statusInfo, cfg.Publish.Target, colorize))
				for _, r := range results {
					kind := statusOK
					if !r.Passed {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(r.Name, kind, r.Detail, colorize))
				}
			}

			if failed, ok := preflight.FirstFailure(results); ok {
				return errors.New(failed.Name + ": " + failed.Detail)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sendTest, "notify", false, "Send a test notification to the configured ntfy topic")
	return cmd
}

func notificationCheck(cmd *cobra.Command, cfg *config.Config) preflight.Result {
	svc := notifications.NewService(cfg)
	if !notifications.Enabled(svc) {
		return preflight.Result{Name: "Notifications", Passed: false, Detail: "notifications.ntfy_topic is not set"}
	}
	if err := svc.TestNotification(cmd.Context()); err != nil {
		return preflight.Result{Name: "Notifications", Passed: false, Detail: err.Error()}
	}
	return preflight.Result{Name: "Notifications", Passed: true, Detail: "test notification sent"}
}
