package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/steveyegge/dupescan/internal/config"
	"github.com/steveyegge/dupescan/internal/executor"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete backups and history of old runs",
	Long: `Delete the backups of runs that started before --older-than and remove the
runs from the audit database. Pruned runs can no longer be restored.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		olderThan, _ := cmd.Flags().GetString("older-than")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		var age config.Duration
		if err := age.UnmarshalText([]byte(olderThan)); err != nil {
			return err
		}
		cutoff := time.Now().Add(-time.Duration(age))

		store, err := openStore(ctx, cmd, true)
		if err != nil {
			return err
		}
		defer store.Close()

		fmt.Printf("Pruning runs started before %s...\n", cutoff.Local().Format(time.DateTime))

		runs, err := store.ListRuns(ctx, 0)
		if err != nil {
			return err
		}

		fs := afero.NewOsFs()
		pruned, files := 0, 0
		for _, run := range runs {
			if !run.StartedAt.Before(cutoff) {
				continue
			}
			backups, err := store.GetBackups(ctx, run.RunID)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Printf("  would prune %s (%d backups)\n", run.RunID, len(backups))
				pruned++
				files += len(backups)
				continue
			}

			ex := executor.New(fs, run.Root)
			ex.Logger = slog.Default().With("run_id", run.RunID)
			n, err := ex.DiscardBackups(ctx, run.RunID, backups)
			files += n
			if err != nil {
				// Keep the record so the remaining backups stay discoverable
				slog.Warn("failed to remove backups", "run_id", run.RunID, "error", err)
				continue
			}
			if err := store.DeleteRun(ctx, run.RunID); err != nil {
				return err
			}
			pruned++
		}

		if pruned > 0 {
			verb := "Pruned"
			if dryRun {
				verb = "Would prune"
			}
			fmt.Printf("%s %s %d run(s) and %d backup file(s)\n", green("✓"), verb, pruned, files)
		} else {
			fmt.Printf("%s No runs older than %s\n", green("✓"), olderThan)
		}
		return nil
	},
}

func init() {
	pruneCmd.Flags().String("older-than", "30d", "Prune runs started longer ago than this (e.g. 72h, 30d, 2w)")
	pruneCmd.Flags().Bool("dry-run", false, "Only list what would be pruned")
	rootCmd.AddCommand(pruneCmd)
}
