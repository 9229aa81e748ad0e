package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/maestro-ai/usage-engine/internal/audit"
	"github.com/maestro-ai/usage-engine/internal/config"
	"github.com/maestro-ai/usage-engine/internal/store"
)

func newAuditService(cfg config.Config, st *store.Store) *audit.Service {
	return audit.NewService(st, audit.NewTranscriptUsageSource(cfg.TranscriptRoots))
}

func newAuditCommand(cfg config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Compare recorded usage against transcript-derived ground truth.",
	}
	cmd.AddCommand(
		newAuditRunCommand(cfg),
		newAuditHistoryCommand(cfg),
		newAuditConfigCommand(cfg),
		newAuditCorrectCommand(cfg),
		newAuditCompactCommand(cfg),
	)
	return cmd
}

func newAuditRunCommand(cfg config.Config) *cobra.Command {
	var fromDate, toDate string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one audit over a date range (default: the last 7 days).",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, to, err := parseDateFlags(fromDate, toDate)
			if err != nil {
				return err
			}
			if to.IsZero() {
				to = time.Now()
			}
			if from.IsZero() {
				from = to.AddDate(0, 0, -7)
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := newAuditService(cfg, st).RunAudit(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			printAudit(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&fromDate, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toDate, "to", "", "end date (YYYY-MM-DD, inclusive)")
	return cmd
}

func printAudit(r audit.Result) {
	fmt.Printf("audit %s  %s .. %s\n", r.ID,
		r.Period.Start.Format(dateLayout), r.Period.End.Format(dateLayout))
	fmt.Printf("  tokens: %.0f authoritative vs %.0f recorded (%.2f%% diff)\n",
		r.Tokens.Anthropic, r.Tokens.Maestro, r.Tokens.PercentDiff)
	fmt.Printf("  costs:  $%.4f authoritative vs $%.4f recorded (%.2f%% diff)\n",
		r.Costs.Anthropic, r.Costs.Maestro, r.Costs.PercentDiff)
	fmt.Printf("  entries: %d match, %d minor, %d major, %d missing — status %s\n",
		r.Summary.Matches, r.Summary.Minor, r.Summary.Major, r.Summary.Missing, r.Summary.Status)
	for _, a := range r.Anomalies {
		fmt.Printf("  [%s] %s %s: %s\n", a.Severity, a.Kind, a.Model, a.Detail)
	}
}

func newAuditHistoryCommand(cfg config.Config) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List persisted audit snapshots, newest first.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			snaps, err := newAuditService(cfg, st).History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Println("no audit snapshots")
				return nil
			}
			for _, s := range snaps {
				fmt.Printf("%s  %s .. %s  tokens %d/%d  cost $%.4f/$%.4f  anomalies %d\n",
					s.GeneratedAt.Format(time.RFC3339),
					s.PeriodStart.Format(dateLayout), s.PeriodEnd.Format(dateLayout),
					s.AnthropicTokens, s.MaestroTokens,
					s.AnthropicCostUSD, s.MaestroCostUSD,
					s.AnomalyCount)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum snapshots to list")
	return cmd
}

func newAuditConfigCommand(cfg config.Config) *cobra.Command {
	var (
		daily, weekly, monthly bool
		hour, minute           int
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configure the recurring audit schedule.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			sched := audit.NewScheduler(newAuditService(cfg, st), st)
			schedCfg, err := sched.LoadConfig(cmd.Context())
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("daily") {
				schedCfg.Daily.Enabled = daily
			}
			if cmd.Flags().Changed("weekly") {
				schedCfg.Weekly.Enabled = weekly
			}
			if cmd.Flags().Changed("monthly") {
				schedCfg.Monthly.Enabled = monthly
			}
			if cmd.Flags().Changed("hour") {
				schedCfg.Daily.Hour = hour
				schedCfg.Weekly.Hour = hour
				schedCfg.Monthly.Hour = hour
			}
			if cmd.Flags().Changed("minute") {
				schedCfg.Daily.Minute = minute
				schedCfg.Weekly.Minute = minute
				schedCfg.Monthly.Minute = minute
			}

			if err := sched.SaveConfig(cmd.Context(), schedCfg); err != nil {
				return err
			}
			// The timers armed here die with this process; the daemon
			// re-arms from the persisted config.
			sched.ClearScheduledTimers()
			fmt.Println("audit schedule saved")
			return nil
		},
	}

	cmd.Flags().BoolVar(&daily, "daily", false, "enable the daily audit")
	cmd.Flags().BoolVar(&weekly, "weekly", false, "enable the weekly audit")
	cmd.Flags().BoolVar(&monthly, "monthly", false, "enable the monthly audit")
	cmd.Flags().IntVar(&hour, "hour", 3, "trigger hour (0-23)")
	cmd.Flags().IntVar(&minute, "minute", 0, "trigger minute (0-59)")
	return cmd
}

func newAuditCorrectCommand(cfg config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct <event-id>...",
		Short: "Mark audited events as corrected (stamps, never rewrites).",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, raw := range args {
				id, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid event id %q", raw)
				}
				ids = append(ids, id)
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := newAuditService(cfg, st).AutoCorrect(cmd.Context(), ids)
			if err != nil {
				return err
			}
			fmt.Printf("marked %d events corrected\n", n)
			return nil
		},
	}
	return cmd
}

func newAuditCompactCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Remove duplicate reconstructed rows left by older versions.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			result, err := st.CompactEvents(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("removed %d duplicate events\n", result.DuplicateEventsRemoved)
			return nil
		},
	}
}

func newScheduleCommand(cfg config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect the recurring audit schedule.",
	}
	cmd.AddCommand(newScheduleStatusCommand(cfg))
	return cmd
}

func newScheduleStatusCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-cadence enablement and run bookkeeping.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			sched := audit.NewScheduler(newAuditService(cfg, st), st)
			states, err := sched.Status(cmd.Context())
			if err != nil {
				return err
			}

			for _, typ := range []store.ScheduleType{store.ScheduleDaily, store.ScheduleWeekly, store.ScheduleMonthly} {
				state, ok := states[typ]
				if !ok {
					fmt.Printf("%-8s not configured\n", typ)
					continue
				}
				status := "disabled"
				if state.Enabled {
					status = "enabled"
				}
				fmt.Printf("%-8s %s", typ, status)
				if state.LastRunAt != nil {
					fmt.Printf("  last run %s (%s)", state.LastRunAt.Format(time.RFC3339), state.LastRunStatus)
				}
				if state.NextRunAt != nil {
					fmt.Printf("  next run %s", state.NextRunAt.Format(time.RFC3339))
				}
				fmt.Println()
			}
			return nil
		},
	}
}
