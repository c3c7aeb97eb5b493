// Package engine wires the analyzer, the three detectors, the merger, the
// decision engine and the executor into one scan-then-execute pipeline.
//
// Stages run behind a full barrier: analysis finishes before detection
// starts, and detection, merging and decisions finish before anything is
// executed. Each stage runs under its configured timeout.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/steveyegge/dupescan/internal/analyzer"
	"github.com/steveyegge/dupescan/internal/clustering"
	"github.com/steveyegge/dupescan/internal/config"
	"github.com/steveyegge/dupescan/internal/decision"
	"github.com/steveyegge/dupescan/internal/detection"
	"github.com/steveyegge/dupescan/internal/executor"
	"github.com/steveyegge/dupescan/internal/merge"
	"github.com/steveyegge/dupescan/internal/types"
)

// Reviewer writes advisory notes for groups that need a human decision.
// Notes are keyed by group ID; a group without a note is simply left out.
type Reviewer interface {
	Review(ctx context.Context, groups []types.DuplicateGroup, recs []types.Recommendation) (map[string]string, error)
}

// Engine runs scans and executions with one configuration.
type Engine struct {
	Config config.Config
	Fs     afero.Fs

	// Optional collaborators
	Extractor  analyzer.FeatureExtractor
	References decision.ReferenceChecker
	Reviewer   Reviewer
	Progress   analyzer.ProgressFunc

	Logger *slog.Logger
}

// New creates an engine over fs.
func New(cfg config.Config, fs afero.Fs) *Engine {
	return &Engine{Config: cfg, Fs: fs, Logger: slog.Default()}
}

// Stats summarizes a scan.
type Stats struct {
	FilesAnalyzed   int
	FilesSkipped    int
	FilesUnreadable int
	Truncated       int

	ExactGroups       int
	StatisticalGroups int
	ClusterGroups     int

	Groups      int
	Automatic   int
	Manual      int
	WastedBytes uint64
}

// Report is everything a scan produced. Groups and recommendations are in
// the same order.
type Report struct {
	RunID string
	Root  string

	Records         []types.FileRecord
	Groups          []types.DuplicateGroup
	Dropped         []merge.Dropped
	Recommendations []types.Recommendation

	FileErrors  []*types.FileError
	GroupErrors []*types.GroupError

	// ClusteringErr is set when the clustering detector gave up; the scan
	// continues without ml-cluster groups
	ClusteringErr error

	// ReviewErr is set when the reviewer failed; notes are advisory
	ReviewErr error

	Stats      Stats
	StartedAt  time.Time
	FinishedAt time.Time
}

// Scan analyzes root and returns merged groups with recommendations.
// Nothing on disk is modified. Configuration errors abort before any I/O.
func (e *Engine) Scan(ctx context.Context, root string) (*Report, error) {
	logger := e.logger()

	if err := e.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Root:      absRoot,
		StartedAt: time.Now(),
	}
	logger = logger.With("run_id", report.RunID)
	logger.Info("scan started", "root", absRoot)

	scanCfg := e.Config.Scan
	scanCfg.IgnorePatterns = append(append([]string(nil), scanCfg.IgnorePatterns...),
		backupIgnorePatterns(absRoot, e.Config.Execution.BackupDir)...)

	opts := []analyzer.Option{analyzer.WithLogger(logger), analyzer.WithProgress(e.Progress)}
	if e.Extractor != nil {
		opts = append(opts, analyzer.WithExtractor(e.Extractor))
	}
	an, err := analyzer.New(e.Fs, scanCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}

	var analyzed analyzer.Result
	err = runStage(ctx, "analyze", e.Config.Timeouts.Analyze, func(ctx context.Context) error {
		var err error
		analyzed, err = an.Analyze(ctx, absRoot)
		return err
	})
	if err != nil {
		return nil, err
	}
	report.Records = analyzed.Records
	report.FileErrors = analyzed.Errors
	report.Stats.FilesAnalyzed = len(analyzed.Records)
	report.Stats.Truncated = analyzed.Truncated
	for _, fe := range analyzed.Errors {
		if fe.Reason == types.ReasonSkipped {
			report.Stats.FilesSkipped++
		} else {
			report.Stats.FilesUnreadable++
		}
	}

	err = runStage(ctx, "detect", e.Config.Timeouts.Detect, func(ctx context.Context) error {
		return e.detect(ctx, report, logger)
	})
	if err != nil {
		return nil, err
	}

	if e.Reviewer != nil {
		e.review(ctx, report, logger)
	}

	report.FinishedAt = time.Now()
	logger.Info("scan complete",
		"groups", report.Stats.Groups,
		"automatic", report.Stats.Automatic,
		"manual", report.Stats.Manual,
		"wasted_bytes", report.Stats.WastedBytes,
		"duration", report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

// detect runs the three detectors, merges their output and decides every
// group. Exact-claimed paths are excluded from the similarity detectors and
// statistically grouped paths from clustering.
func (e *Engine) detect(ctx context.Context, report *Report, logger *slog.Logger) error {
	records := report.Records

	exact := detection.Exact(records)
	claimed := detection.Claimed(exact)
	logger.Debug("exact matching done", "groups", len(exact), "claimed", len(claimed))

	stat := detection.NewStatistical(e.Config.Strategy)
	stat.Logger = logger
	statistical, err := stat.Detect(ctx, records, claimed)
	if err != nil {
		return fmt.Errorf("statistical detection failed: %w", err)
	}

	grouped := detection.Claimed(statistical)
	for path := range claimed {
		grouped[path] = true
	}

	clusterer := clustering.NewDetector(e.Config.Strategy)
	clusterer.Logger = logger
	clustered, err := clusterer.Detect(ctx, records, grouped)
	if err != nil {
		if !errors.Is(err, types.ErrClusteringNonconvergent) {
			return fmt.Errorf("clustering failed: %w", err)
		}
		logger.Warn("clustering did not converge, continuing without clusters", "error", err)
		report.ClusteringErr = err
		clustered = nil
	}

	merged := merge.Merge(records, exact, statistical, clustered, logger)
	report.Groups = merged.Groups
	report.Dropped = merged.Dropped
	for _, g := range merged.Groups {
		switch g.Method {
		case types.MethodExact:
			report.Stats.ExactGroups++
		case types.MethodStatistical:
			report.Stats.StatisticalGroups++
		case types.MethodMLCluster:
			report.Stats.ClusterGroups++
		}
		report.Stats.WastedBytes += g.WastedBytes
	}
	report.Stats.Groups = len(merged.Groups)

	dec := &decision.Engine{
		SafetyThreshold: e.Config.Strategy.SafetyThreshold,
		References:      e.References,
		Logger:          logger,
	}
	decided, err := dec.Decide(ctx, merged.Groups, records)
	if err != nil {
		return fmt.Errorf("decision failed: %w", err)
	}
	report.Recommendations = decided.Recommendations
	report.GroupErrors = decided.Errors
	for _, r := range decided.Recommendations {
		if r.Automatic {
			report.Stats.Automatic++
		} else {
			report.Stats.Manual++
		}
	}
	return nil
}

// review attaches advisory notes to manual recommendations. Failures are
// recorded on the report and never fail the scan.
func (e *Engine) review(ctx context.Context, report *Report, logger *slog.Logger) {
	var manual []types.Recommendation
	for _, r := range report.Recommendations {
		if !r.Automatic {
			manual = append(manual, r)
		}
	}
	if len(manual) == 0 {
		return
	}

	notes, err := e.Reviewer.Review(ctx, report.Groups, manual)
	if err != nil {
		logger.Warn("review failed", "error", err)
		report.ReviewErr = err
	}

	// Recommendations are values; build a new slice rather than editing
	// what the decision engine handed back
	annotated := make([]types.Recommendation, len(report.Recommendations))
	for i, r := range report.Recommendations {
		if note, ok := notes[r.GroupID]; ok && !r.Automatic {
			r.ReviewNote = note
		}
		annotated[i] = r
	}
	report.Recommendations = annotated
}

// Execute applies a scan's recommendations. Mode and BackupDir default to
// the configured values, and the run ID is the scan's.
func (e *Engine) Execute(ctx context.Context, report *Report, opts executor.Options) (types.ExecutionResult, error) {
	if report == nil {
		return types.ExecutionResult{}, fmt.Errorf("no scan report to execute")
	}
	if opts.Mode == "" {
		opts.Mode = types.ApplyMode(e.Config.Execution.Mode)
	}
	if opts.BackupDir == "" {
		opts.BackupDir = e.Config.Execution.BackupDir
	}
	if opts.RunID == "" {
		opts.RunID = report.RunID
	}

	ex := executor.New(e.Fs, report.Root)
	ex.Logger = e.logger().With("run_id", opts.RunID)
	if mps := e.Config.Execution.MaxDeletesPerSecond; mps > 0 {
		ex.Limiter = rate.NewLimiter(rate.Limit(mps), 1)
	}

	var res types.ExecutionResult
	err := runStage(ctx, "execute", e.Config.Timeouts.Execute, func(ctx context.Context) error {
		var err error
		res, err = ex.Execute(ctx, report.Recommendations, opts)
		return err
	})
	// The partial result is returned with the error: files it lists as
	// removed really are gone
	return res, err
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// runStage runs fn under the stage timeout. Hitting the deadline surfaces as
// *types.StageTimeoutError; cancellation of the parent context is returned
// as is. A zero timeout means no limit.
func runStage(ctx context.Context, stage string, timeout config.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	stageCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout))
	defer cancel()

	err := fn(stageCtx)
	if err != nil && ctx.Err() == nil && errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
		return &types.StageTimeoutError{Stage: stage, Timeout: time.Duration(timeout)}
	}
	return err
}

// backupIgnorePatterns keeps the backup directory out of the scan when it
// lives under root, so backups are never reported as duplicates of the
// files they preserve.
func backupIgnorePatterns(root, backupDir string) []string {
	if backupDir == "" {
		return nil
	}
	dir := backupDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	return []string{"re:^" + regexp.QuoteMeta(filepath.ToSlash(rel)) + "(/|$)"}
}
