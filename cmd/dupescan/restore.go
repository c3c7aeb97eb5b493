package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/steveyegge/dupescan/internal/executor"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <run-id>",
	Short: "Put back files removed by a run",
	Long: `Copy every backup recorded for a run back to its original path.
Files that exist again are left untouched, and backups are kept.`,
	Args: cobra.ExactArgs(1),
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
		backups, err := store.GetBackups(ctx, runID)
		if err != nil {
			return err
		}
		if len(backups) == 0 {
			fmt.Printf("Run %s removed no files\n", runID)
			return nil
		}

		ex := executor.New(afero.NewOsFs(), run.Root)
		ex.Logger = slog.Default().With("run_id", runID)
		res, err := ex.Restore(ctx, backups)

		fmt.Printf("%s Restored %d files\n", green("✓"), len(res.Restored))
		if len(res.Present) > 0 {
			fmt.Printf("Left alone: %d files already exist\n", len(res.Present))
		}
		for _, fe := range res.Errors {
			fmt.Printf("  %s %v\n", red("✗"), fe)
		}
		if err != nil {
			return err
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("%d files could not be restored", len(res.Errors))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}
