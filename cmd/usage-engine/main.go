package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/maestro-ai/usage-engine/internal/config"
)

func main() {
	if os.Getenv("USAGE_ENGINE_DEBUG") != "" {
		log.SetOutput(os.Stderr)
	} else {
		log.SetOutput(io.Discard)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Config path: %s\n", config.ConfigPath())
		os.Exit(1)
	}

	root := cobra.Command{
		Use:   "usage-engine",
		Short: "Reconcile and audit AI-agent usage records against transcript logs.",
	}

	root.AddCommand(
		newReconstructCommand(cfg),
		newPreviewCommand(cfg),
		newAuditCommand(cfg),
		newScheduleCommand(cfg),
		newDaemonCommand(cfg),
		newVersionCommand(cfg),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
