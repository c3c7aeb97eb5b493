package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/steveyegge/dupescan/internal/config"
	"github.com/steveyegge/dupescan/internal/engine"
	"github.com/steveyegge/dupescan/internal/executor"
	"github.com/steveyegge/dupescan/internal/git"
	"github.com/steveyegge/dupescan/internal/review"
	"github.com/steveyegge/dupescan/internal/storage"
	"github.com/steveyegge/dupescan/internal/types"
)

var scanCmd = &cobra.Command{
	Use:   "scan <root>",
	Short: "Find duplicate files under root",
	Long: `Scan root for exact and near-duplicate files and print one recommendation per
group. By default this is a dry run that only validates what would be removed.

With --apply, groups whose confidence meets the safety threshold are cleaned up:
every removed file is first copied to <backup-dir>/<run-id>/ and verified.
Groups below the threshold are left alone unless --include-manual is given and
the removal is confirmed interactively.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

// scanFlag maps a command-line flag onto the config field it overrides. The
// value is read back through viper under "scan.<name>".
type scanFlag struct {
	name  string
	apply func(cfg *config.Config, key string)
}

var scanFlags = []scanFlag{
	{"min-file-size", func(c *config.Config, k string) { c.Scan.MinFileSize = viper.GetInt64(k) }},
	{"ignore", func(c *config.Config, k string) {
		c.Scan.IgnorePatterns = append(c.Scan.IgnorePatterns, viper.GetStringSlice(k)...)
	}},
	{"include", func(c *config.Config, k string) { c.Scan.IncludePatterns = viper.GetStringSlice(k) }},
	{"max-files", func(c *config.Config, k string) { c.Scan.MaxFilesToAnalyze = viper.GetInt(k) }},
	{"workers", func(c *config.Config, k string) { c.Scan.Workers = viper.GetInt(k) }},
	{"similarity-threshold", func(c *config.Config, k string) { c.Strategy.SimilarityThreshold = viper.GetFloat64(k) }},
	{"safety-threshold", func(c *config.Config, k string) { c.Strategy.SafetyThreshold = viper.GetFloat64(k) }},
	{"clustering-method", func(c *config.Config, k string) { c.Strategy.ClusteringMethod = viper.GetString(k) }},
	{"max-clusters", func(c *config.Config, k string) { c.Strategy.MaxClusters = viper.GetInt(k) }},
	{"backup-dir", func(c *config.Config, k string) { c.Execution.BackupDir = viper.GetString(k) }},
	{"max-deletes-per-sec", func(c *config.Config, k string) { c.Execution.MaxDeletesPerSecond = viper.GetFloat64(k) }},
}

func init() {
	f := scanCmd.Flags()
	// Defaults only label the help text; unset flags never override
	defaults := config.DefaultConfig()

	f.Bool("apply", false, "Back up and remove duplicates (default is a dry run)")
	f.Bool("include-manual", false, "Also remove groups below the safety threshold after typed confirmation")
	f.Bool("ai-review", false, "Ask Claude for a review note on groups that need a human decision (needs ANTHROPIC_API_KEY)")
	f.Bool("no-git", false, "Do not use git to check whether files are referenced")
	f.Bool("no-progress", false, "Hide the progress bar")
	f.Bool("json", false, "Print the report as JSON")

	f.Int64("min-file-size", defaults.Scan.MinFileSize, "Skip files smaller than this many bytes")
	f.StringSlice("ignore", nil, "Additional ignore patterns (glob, dir/ or re:<regexp>)")
	f.StringSlice("include", nil, "Only scan paths matching these patterns")
	f.Int("max-files", 0, "Analyze at most this many files (0 = unlimited)")
	f.Int("workers", 0, "Analyzer workers (0 = one per CPU)")
	f.Float64("similarity-threshold", defaults.Strategy.SimilarityThreshold, "Cosine similarity needed to link two files")
	f.Float64("safety-threshold", defaults.Strategy.SafetyThreshold, "Confidence needed for automatic cleanup")
	f.String("clustering-method", defaults.Strategy.ClusteringMethod, "hierarchical or partition")
	f.Int("max-clusters", 0, "Fixed cluster count (0 = automatic)")
	f.String("backup-dir", defaults.Execution.BackupDir, "Backup directory, relative to root unless absolute")
	f.Float64("max-deletes-per-sec", 0, "Throttle removals (0 = unthrottled)")

	for _, sf := range scanFlags {
		_ = viper.BindPFlag("scan."+sf.name, f.Lookup(sf.name))
	}

	rootCmd.AddCommand(scanCmd)
}

// scanConfig layers command-line flags over loadConfig. Only flags that were
// set on the command line override the file and environment.
func scanConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, err
	}
	for _, sf := range scanFlags {
		if cmd.Flags().Changed(sf.name) {
			sf.apply(&cfg, "scan."+sf.name)
		}
	}
	if apply, _ := cmd.Flags().GetBool("apply"); apply {
		cfg.Execution.Mode = config.ModeApply
	}
	// The audit database never takes part in a scan
	cfg.Scan.IgnorePatterns = append(cfg.Scan.IgnorePatterns, storage.DirName+"/")
	return cfg, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	includeManual, _ := flags.GetBool("include-manual")
	aiReview, _ := flags.GetBool("ai-review")
	noGit, _ := flags.GetBool("no-git")
	noProgress, _ := flags.GetBool("no-progress")
	asJSON, _ := flags.GetBool("json")

	cfg, err := scanConfig(cmd)
	if err != nil {
		return err
	}

	root, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("cannot scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}

	fs := afero.NewOsFs()
	eng := engine.New(cfg, fs)
	eng.Logger = slog.Default()

	if !noGit {
		refs, err := git.NewReferenceChecker(ctx, root)
		if err != nil {
			slog.Debug("reference check disabled", "error", err)
		} else {
			eng.References = refs
		}
	}

	if aiReview {
		advisor, err := review.NewClaudeAdvisor(review.Config{Fs: fs, Logger: slog.Default()})
		if err != nil {
			return fmt.Errorf("AI review unavailable: %w", err)
		}
		eng.Reviewer = advisor
	}

	store, err := openStore(ctx, cmd, false)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	if cfg.Execution.Mode == config.ModeApply {
		lockPath, err := storage.AcquireExclusiveLock(resolveDir(root, cfg.Execution.BackupDir), version)
		if err != nil {
			return err
		}
		defer func() {
			if err := storage.ReleaseExclusiveLock(lockPath); err != nil {
				slog.Warn("failed to release lock", "path", lockPath, "error", err)
			}
		}()
	}

	progress := newScanProgress(os.Stderr, !noProgress && !asJSON)
	eng.Progress = progress.update

	report, err := eng.Scan(ctx, root)
	progress.finish(err == nil)
	if err != nil {
		return err
	}

	if store != nil {
		if err := store.RecordScan(ctx, scanRecord(report)); err != nil {
			return fmt.Errorf("failed to record scan: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if !asJSON {
		printReport(out, report)
	}

	opts := executor.Options{IncludeManual: includeManual}
	if includeManual {
		opts.ConfirmManual = func(manual []types.Recommendation) bool {
			return confirmManual(os.Stderr, manual)
		}
	}

	res, execErr := eng.Execute(ctx, report, opts)
	if store != nil && res.RunID != "" {
		// Record partial results too: files listed as removed are gone
		if err := store.RecordExecution(context.WithoutCancel(ctx), &res); err != nil {
			slog.Error("failed to record execution", "run_id", res.RunID, "error", err)
		}
	}

	if asJSON {
		if err := writeJSON(out, report, res); err != nil {
			return err
		}
	} else if res.RunID != "" {
		printExecution(out, res)
	}
	return execErr
}

// openStore opens the audit database named by --db or DUPESCAN_DB_PATH, or
// one found under .dupescan/. Without any of those it returns nil unless
// required is set.
func openStore(ctx context.Context, cmd *cobra.Command, required bool) (storage.Storage, error) {
	path := viper.GetString("db.path")
	if path == "" {
		found, err := storage.DiscoverDatabase()
		if err != nil {
			if required {
				return nil, err
			}
			slog.Debug("no audit database", "error", err)
			return nil, nil
		}
		path = found
	}

	store, err := storage.NewStorage(ctx, &storage.Config{Path: path})
	if err != nil {
		return nil, err
	}
	slog.Debug("audit database opened", "path", path, "command", cmd.Name())
	return store, nil
}

func resolveDir(root, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(root, dir)
}

func scanRecord(r *engine.Report) *types.ScanRecord {
	return &types.ScanRecord{
		RunID:           r.RunID,
		Root:            r.Root,
		StartedAt:       r.StartedAt,
		FinishedAt:      r.FinishedAt,
		Groups:          r.Groups,
		Recommendations: r.Recommendations,
		FileErrors:      len(r.FileErrors),
	}
}

// jsonReport is the --json output.
type jsonReport struct {
	RunID           string                 `json:"run_id"`
	Root            string                 `json:"root"`
	Stats           engine.Stats           `json:"stats"`
	Groups          []types.DuplicateGroup `json:"groups"`
	Recommendations []types.Recommendation `json:"recommendations"`
	FileErrors      []*types.FileError     `json:"file_errors,omitempty"`
	GroupErrors     []*types.GroupError    `json:"group_errors,omitempty"`
	Execution       *types.ExecutionResult `json:"execution,omitempty"`
}

func writeJSON(w io.Writer, r *engine.Report, res types.ExecutionResult) error {
	out := jsonReport{
		RunID:           r.RunID,
		Root:            r.Root,
		Stats:           r.Stats,
		Groups:          r.Groups,
		Recommendations: r.Recommendations,
		FileErrors:      r.FileErrors,
		GroupErrors:     r.GroupErrors,
	}
	if res.RunID != "" {
		out.Execution = &res
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
