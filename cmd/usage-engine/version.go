package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maestro-ai/usage-engine/internal/appupdate"
	"github.com/maestro-ai/usage-engine/internal/config"
	"github.com/maestro-ai/usage-engine/internal/version"
)

func newVersionCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and check for updates.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Println("usage-engine", version.String())

			if !cfg.CheckUpdates {
				return nil
			}
			result, err := appupdate.Check(cmd.Context(), appupdate.CheckOptions{
				CurrentVersion: version.Version,
			})
			if err != nil {
				// Release checks are best effort; offline is fine.
				return nil
			}
			if result.UpdateAvailable {
				fmt.Printf("update available: %s -> %s\n", result.CurrentVersion, result.LatestVersion)
				fmt.Printf("  %s\n", result.UpgradeHint)
			}
			return nil
		},
	}
}
