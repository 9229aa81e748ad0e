package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/maestro-ai/usage-engine/internal/config"
	"github.com/maestro-ai/usage-engine/internal/pricing"
	"github.com/maestro-ai/usage-engine/internal/recon"
	"github.com/maestro-ai/usage-engine/internal/store"
)

const dateLayout = "2006-01-02"

func openStore(cfg config.Config) (*store.Store, error) {
	return store.Open(cfg.DBPath)
}

func newOrchestrator(cfg config.Config, st *store.Store) *recon.Orchestrator {
	o := recon.NewOrchestrator(st, cfg.TranscriptRoots)
	o.RemoteConcurrency = cfg.Recon.RemoteConcurrency
	o.CacheCapacity = cfg.Recon.CacheCapacity
	o.Billing = billingResolver(cfg)
	return o
}

func billingResolver(cfg config.Config) *pricing.Resolver {
	r := pricing.NewResolver()
	r.AccountPath = cfg.Billing.AccountPath
	for agent, raw := range cfg.Billing.ModeOverrides {
		if mode, ok := pricing.ParseMode(raw); ok {
			r.Overrides[agent] = mode
		}
	}
	return r
}

func parseDateFlags(from, to string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if from != "" {
		if start, err = time.Parse(dateLayout, from); err != nil {
			return start, end, fmt.Errorf("invalid --from date %q: %w", from, err)
		}
	}
	if to != "" {
		if end, err = time.Parse(dateLayout, to); err != nil {
			return start, end, fmt.Errorf("invalid --to date %q: %w", to, err)
		}
		// Inclusive: run up to the end of the named day.
		end = end.Add(24*time.Hour - time.Second)
	}
	return start, end, nil
}

func newReconstructCommand(cfg config.Config) *cobra.Command {
	var (
		dryRun        bool
		includeLocal  bool
		includeRemote bool
		fromDate      string
		toDate        string
	)

	cmd := &cobra.Command{
		Use:   "reconstruct",
		Short: "Backfill missing or incomplete usage events from transcript files.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := parseDateFlags(fromDate, toDate)
			if err != nil {
				return err
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			opts := recon.Options{
				IncludeLocal:  includeLocal,
				IncludeRemote: includeRemote,
				Remotes:       cfg.Remotes,
				From:          from,
				To:            to,
				DryRun:        dryRun,
			}
			result, err := newOrchestrator(cfg, st).Reconstruct(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "analyze without writing to the store")
	cmd.Flags().BoolVar(&includeLocal, "local", true, "scan local transcript roots")
	cmd.Flags().BoolVar(&includeRemote, "remote", false, "scan configured remote hosts")
	cmd.Flags().StringVar(&fromDate, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toDate, "to", "", "end date (YYYY-MM-DD, inclusive)")
	return cmd
}

func newPreviewCommand(cfg config.Config) *cobra.Command {
	var (
		includeRemote bool
		fromDate      string
		toDate        string
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show what a reconstruction run would change, without writing.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := parseDateFlags(fromDate, toDate)
			if err != nil {
				return err
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			opts := recon.Options{
				IncludeLocal:  true,
				IncludeRemote: includeRemote,
				Remotes:       cfg.Remotes,
				From:          from,
				To:            to,
			}
			result, err := newOrchestrator(cfg, st).Preview(cmd.Context(), opts)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeRemote, "remote", false, "scan configured remote hosts")
	cmd.Flags().StringVar(&fromDate, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toDate, "to", "", "end date (YYYY-MM-DD, inclusive)")
	return cmd
}

func printResult(r recon.Result) {
	mode := "live"
	if r.DryRun {
		mode = "dry-run"
	}
	fmt.Printf("reconstruction (%s) finished in %s\n", mode, r.Duration.Round(time.Millisecond))
	fmt.Printf("  queries found:    %d\n", r.QueriesFound)
	fmt.Printf("  inserted:         %d\n", r.QueriesInserted)
	fmt.Printf("  updated:          %d\n", r.QueriesUpdated)
	fmt.Printf("  skipped:          %d (no files: %d, no usage: %d)\n",
		r.QueriesSkipped, r.SkippedNoFiles, r.SkippedNoUsage)
	if r.DateRangeCovered.Start != "" {
		fmt.Printf("  dates covered:    %s .. %s\n", r.DateRangeCovered.Start, r.DateRangeCovered.End)
	}
	for _, e := range r.Errors {
		fmt.Printf("  error: %s: %s\n", e.File, e.Error)
	}
}
