package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-sync/internal/monitoring"
	"github.com/sells-group/prospect-sync/internal/store"
)

var (
	statusJSON     bool
	statusLookback int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a health snapshot of pipeline runs and sync jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		lookback := statusLookback
		if lookback <= 0 {
			lookback = cfg.Monitoring.LookbackWindowHours
		}

		snap, err := monitoring.NewCollector(env.store).Collect(ctx, lookback)
		if err != nil {
			return err
		}

		if statusJSON {
			return json.NewEncoder(os.Stdout).Encode(snap)
		}

		fmt.Printf("Last %dh (collected %s)\n\n", snap.LookbackHours, snap.CollectedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("Enrichment: %d runs, %d succeeded, %d failed (%.1f%%), %d credits, avg quality %.1f\n",
			snap.PipelineTotal, snap.PipelineSucceeded, snap.PipelineFailed,
			snap.PipelineFailRate*100, snap.PipelineCredits, snap.PipelineAvgQuality)
		fmt.Printf("Sync: %d jobs, %d completed, %d failed, %d running, %d conflicts seen\n",
			snap.SyncTotal, snap.SyncCompleted, snap.SyncFailed, snap.SyncRunning, snap.SyncConflicts)
		fmt.Printf("Open conflicts: %d\n", snap.OpenConflicts)
		fmt.Printf("Audit: %d success, %d failure, %d skipped\n",
			snap.AuditSuccess, snap.AuditFailure, snap.AuditSkipped)
		return nil
	},
}

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent enrichment runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		runs, err := env.store.ListPipelineRuns(ctx, store.RunFilter{
			TenantID: cfg.Tenant.ID,
			Limit:    runsLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tENTITY\tSOURCES\tCREDITS\tDURATION\tSTATUS")
		for _, run := range runs {
			status := "ok"
			if run.Failed {
				status = "failed"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%dms\t%s\n",
				run.RunID, run.EntityID, len(run.SucceededSources()),
				run.CreditsUsed, run.DurationMS, status)
		}
		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "emit the snapshot as JSON")
	statusCmd.Flags().IntVar(&statusLookback, "hours", 0, "lookback window in hours (default from config)")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "max runs to list")
	rootCmd.AddCommand(statusCmd, runsCmd)
}
