package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maestro-ai/usage-engine/internal/audit"
	"github.com/maestro-ai/usage-engine/internal/config"
	"github.com/maestro-ai/usage-engine/internal/recon"
	"github.com/maestro-ai/usage-engine/internal/transcript"
)

func newDaemonCommand(cfg config.Config) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the audit scheduler, optionally watching transcripts for changes.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			sched := audit.NewScheduler(newAuditService(cfg, st), st)
			if err := sched.ScheduleAudits(ctx); err != nil {
				return err
			}
			defer sched.ClearScheduledTimers()
			fmt.Printf("scheduler armed (%d timers)\n", sched.ArmedTimers())

			if watch {
				orchestrator := newOrchestrator(cfg, st)
				runWatcher(ctx, cfg, orchestrator)
			} else {
				<-ctx.Done()
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", true, "reconstruct incrementally when transcripts change")
	return cmd
}

// runWatcher triggers a local reconstruction run whenever a transcript file
// changes. Runs against the store must not overlap, so triggers arriving
// while one is in flight are coalesced into a single follow-up run.
func runWatcher(ctx context.Context, cfg config.Config, orchestrator *recon.Orchestrator) {
	var mu sync.Mutex
	running := false
	rerun := false

	kick := func() {
		mu.Lock()
		if running {
			rerun = true
			mu.Unlock()
			return
		}
		running = true
		mu.Unlock()

		go func() {
			for {
				result, err := orchestrator.Reconstruct(ctx, recon.Options{IncludeLocal: true})
				if err != nil {
					log.Printf("daemon: reconstruction: %v", err)
				} else if result.QueriesInserted > 0 || result.QueriesUpdated > 0 {
					fmt.Printf("%s reconstructed: %d inserted, %d updated\n",
						time.Now().Format(time.RFC3339), result.QueriesInserted, result.QueriesUpdated)
				}

				mu.Lock()
				if !rerun || ctx.Err() != nil {
					running = false
					mu.Unlock()
					return
				}
				rerun = false
				mu.Unlock()
			}
		}()
	}

	watcher := transcript.NewWatcher(cfg.TranscriptRoots, func(string) { kick() })
	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("daemon: watcher: %v", err)
	}
}
