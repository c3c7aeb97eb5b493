package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/dupescan/internal/types"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	Long:  `List runs recorded in the audit database, newest first.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := openStore(ctx, cmd, true)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", "RUN", "STARTED", "STATUS", "GROUPS", "AUTO/MANUAL", "SAVED", "ROOT")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%s\t%s\n",
				r.RunID,
				r.StartedAt.Local().Format(time.DateTime),
				statusColor(r.Status),
				r.Groups,
				r.Automatic, r.Manual,
				formatBytes(r.BytesSaved),
				r.Root)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run's recommendations and backups",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runID := args[0]

		store, err := openStore(ctx, cmd, true)
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", runID)
		}
		recs, err := store.GetRecommendations(ctx, runID)
		if err != nil {
			return err
		}
		backups, err := store.GetBackups(ctx, runID)
		if err != nil {
			return err
		}

		fmt.Printf("\n%s\n", cyan("=== Run "+run.RunID+" ==="))
		fmt.Printf("Root:      %s\n", run.Root)
		fmt.Printf("Started:   %s (%s)\n", run.StartedAt.Local().Format(time.DateTime), run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
		fmt.Printf("Status:    %s\n", statusColor(run.Status))
		fmt.Printf("Groups:    %d (%d automatic, %d need review)\n", run.Groups, run.Automatic, run.Manual)
		fmt.Printf("Wasted:    %s\n", formatBytes(run.WastedBytes))
		if run.Mode == types.ModeApply {
			fmt.Printf("Cleaned:   %d groups, saved %s, %d skipped\n", run.AppliedGroups, formatBytes(run.BytesSaved), run.SkippedGroups)
		}

		for i, rec := range recs {
			status := green("automatic")
			if !rec.Automatic {
				status = yellow("needs review")
			}
			fmt.Printf("\n%s %s  %s  confidence %.3f\n", cyan(fmt.Sprintf("[%d]", i+1)), rec.Method, status, rec.Confidence)
			fmt.Printf("  keep   %s\n", rec.CanonicalPath)
			fmt.Printf("  remove %s\n", strings.Join(rec.Remove, "\n         "))
			if rec.ReviewNote != "" {
				fmt.Printf("  note   %s\n", rec.ReviewNote)
			}
		}

		if len(backups) > 0 {
			fmt.Printf("\n%s\n", cyan("Backups"))
			for _, b := range backups {
				fmt.Printf("  %s %s %s\n", b.OriginalPath, gray("->"), b.BackupPath)
			}
		}
		return nil
	},
}

func statusColor(s types.RunStatus) string {
	switch s {
	case types.RunStatusApplied:
		return green(string(s))
	case types.RunStatusPartial:
		return yellow(string(s))
	default:
		return string(s)
	}
}

func init() {
	runsCmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 = all)")
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
