// Package executor applies duplicate-resolution recommendations to the
// filesystem. Every removal is preceded by a verified backup, and dry runs
// never modify anything.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/steveyegge/dupescan/internal/types"
)

// ErrConfirmationRequired is returned when manual groups are requested for
// an apply run without a way to confirm them.
var ErrConfirmationRequired = errors.New("including manual groups requires a confirmation callback")

// Executor applies recommendations under Root.
type Executor struct {
	Fs   afero.Fs
	Root string

	// Limiter throttles deletions when set
	Limiter *rate.Limiter

	Logger *slog.Logger
}

// Options controls one Execute call.
type Options struct {
	Mode types.ApplyMode

	// BackupDir receives copies of removed files under <BackupDir>/<RunID>/.
	// Relative paths are resolved against Root.
	BackupDir string

	// IncludeManual also executes groups below the safety threshold, but
	// only after ConfirmManual returns true for them. ConfirmManual is only
	// called in apply mode; a dry run reports manual groups as
	// NeedsConfirmationGroupIDs instead of asking.
	IncludeManual bool
	ConfirmManual func(manual []types.Recommendation) bool

	// RunID names the backup subdirectory. Generated when empty.
	RunID string
}

// New creates an executor over fs rooted at root.
func New(fs afero.Fs, root string) *Executor {
	return &Executor{Fs: fs, Root: root, Logger: slog.Default()}
}

// Execute processes recommendations sequentially in the given order.
//
// Run-level problems (unwritable backup directory, missing confirmation
// callback) return an error before any file is touched. Per-group problems
// skip the group and are reported in the result. On cancellation the
// remaining groups are skipped with reason Canceled and the context error is
// returned together with the partial result.
func (e *Executor) Execute(ctx context.Context, recs []types.Recommendation, opts Options) (types.ExecutionResult, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mode := opts.Mode
	if mode == "" {
		mode = types.ModeDryRun
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	res := types.ExecutionResult{
		RunID:       runID,
		Mode:        mode,
		BackupPaths: make(map[string]string),
		StartedAt:   time.Now(),
	}
	finish := func() types.ExecutionResult {
		res.FinishedAt = time.Now()
		return res
	}

	if mode != types.ModeDryRun && mode != types.ModeApply {
		return finish(), fmt.Errorf("unknown mode %q", mode)
	}
	if opts.IncludeManual && mode == types.ModeApply && opts.ConfirmManual == nil {
		return finish(), ErrConfirmationRequired
	}
	if opts.BackupDir == "" {
		return finish(), fmt.Errorf("%w: no backup directory configured", types.ErrBackupDirUnwritable)
	}

	backupDir := opts.BackupDir
	if !filepath.IsAbs(backupDir) && e.Root != "" {
		backupDir = filepath.Join(e.Root, backupDir)
	}
	runDir := filepath.Join(backupDir, runID)

	if err := checkWritable(e.Fs, runDir, mode == types.ModeApply); err != nil {
		logger.Error("backup directory unusable", "dir", runDir, "error", err)
		return finish(), fmt.Errorf("%w: %s: %v", types.ErrBackupDirUnwritable, runDir, err)
	}

	manualApproved := false
	if opts.IncludeManual {
		var manual []types.Recommendation
		for _, r := range recs {
			if r.Consistent() && !r.Automatic {
				manual = append(manual, r)
			}
		}
		switch {
		case len(manual) == 0:
		case mode == types.ModeDryRun:
			manualApproved = true
			logger.Info("manual groups would need confirmation", "groups", len(manual))
		default:
			manualApproved = opts.ConfirmManual(manual)
			logger.Info("manual groups confirmation", "groups", len(manual), "approved", manualApproved)
		}
	}

	skip := func(rec types.Recommendation, path string, reason types.ReasonCode, err error) {
		res.SkippedGroupIDs = append(res.SkippedGroupIDs, rec.GroupID)
		res.Errors = append(res.Errors, *types.NewGroupError(rec.GroupID, path, reason, err))
		logger.Info("group skipped", "group_id", rec.GroupID, "reason", reason, "path", path)
	}

	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			for _, rest := range recs[i:] {
				skip(rest, "", types.ReasonCanceled, err)
			}
			return finish(), err
		}

		if !rec.Consistent() {
			skip(rec, "", types.ReasonInconsistent, types.ErrInconsistent)
			continue
		}
		if !rec.Automatic && !manualApproved {
			skip(rec, "", types.ReasonRequiresReview, types.ErrRequiresReview)
			continue
		}

		if _, err := e.lstat(rec.CanonicalPath); err != nil {
			skip(rec, rec.CanonicalPath, types.ReasonCanonicalMissing, err)
			continue
		}

		present, sizes, err := e.presentMembers(rec.Remove)
		if err != nil {
			var ge *types.GroupError
			if errors.As(err, &ge) {
				skip(rec, ge.Path, ge.Reason, ge.Err)
			} else {
				skip(rec, "", types.ReasonUnreadable, err)
			}
			continue
		}
		if len(present) == 0 {
			res.AlreadyResolvedGroupIDs = append(res.AlreadyResolvedGroupIDs, rec.GroupID)
			logger.Info("group already resolved", "group_id", rec.GroupID)
			continue
		}

		if mode == types.ModeDryRun {
			if path, err := e.checkReadable(present); err != nil {
				skip(rec, path, types.ReasonUnreadable, err)
				continue
			}
			res.WouldApplyGroupIDs = append(res.WouldApplyGroupIDs, rec.GroupID)
			if !rec.Automatic {
				res.NeedsConfirmationGroupIDs = append(res.NeedsConfirmationGroupIDs, rec.GroupID)
			}
			for _, p := range present {
				res.BytesReclaimable += sizes[p]
			}
			logger.Info("group would apply", "group_id", rec.GroupID, "remove", len(present))
			continue
		}

		e.applyGroup(ctx, rec, present, sizes, runDir, &res, logger)
	}

	return finish(), nil
}

// applyGroup backs up every removal member, then deletes them. A single
// failed backup skips the group before anything is deleted.
func (e *Executor) applyGroup(ctx context.Context, rec types.Recommendation, present []string, sizes map[string]uint64,
	runDir string, res *types.ExecutionResult, logger *slog.Logger) {

	backups := make(map[string]string, len(present))
	for _, p := range present {
		dst := backupPath(runDir, e.Root, p)
		if _, err := copyVerified(e.Fs, p, dst); err != nil {
			// Nothing was deleted; drop the partial backups of this group
			for _, b := range backups {
				_ = e.Fs.Remove(b)
			}
			_ = e.Fs.Remove(dst)
			res.SkippedGroupIDs = append(res.SkippedGroupIDs, rec.GroupID)
			res.Errors = append(res.Errors, *types.NewGroupError(rec.GroupID, p, types.ReasonBackupFailed, err))
			logger.Warn("backup failed, group skipped", "group_id", rec.GroupID, "path", p, "error", err)
			return
		}
		backups[p] = dst
	}

	failed := false
	for _, p := range present {
		if e.Limiter != nil {
			if err := e.Limiter.Wait(ctx); err != nil {
				res.Errors = append(res.Errors, *types.NewGroupError(rec.GroupID, p, types.ReasonDeleteFailed, err))
				failed = true
				break
			}
		}
		if err := e.Fs.Remove(p); err != nil {
			res.Errors = append(res.Errors, *types.NewGroupError(rec.GroupID, p, types.ReasonDeleteFailed, err))
			logger.Warn("delete failed", "group_id", rec.GroupID, "path", p, "error", err)
			failed = true
			continue
		}
		res.BackupPaths[p] = backups[p]
		res.BytesSaved += sizes[p]
	}

	if failed {
		res.SkippedGroupIDs = append(res.SkippedGroupIDs, rec.GroupID)
		return
	}
	res.AppliedGroupIDs = append(res.AppliedGroupIDs, rec.GroupID)
	logger.Info("group applied", "group_id", rec.GroupID, "canonical", rec.CanonicalPath, "removed", len(present))
}

// presentMembers returns the removal members that still exist, with sizes.
// Members that are gone are ignored.
func (e *Executor) presentMembers(paths []string) ([]string, map[string]uint64, error) {
	var present []string
	sizes := make(map[string]uint64, len(paths))
	for _, p := range paths {
		info, err := e.lstat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, nil, types.NewGroupError("", p, types.ReasonUnreadable, err)
		}
		if !info.Mode().IsRegular() {
			return nil, nil, types.NewGroupError("", p, types.ReasonUnreadable, fmt.Errorf("not a regular file"))
		}
		present = append(present, p)
		sizes[p] = uint64(info.Size())
	}
	return present, sizes, nil
}

// checkReadable opens each path without reading or modifying it.
func (e *Executor) checkReadable(paths []string) (string, error) {
	for _, p := range paths {
		f, err := e.Fs.Open(p)
		if err != nil {
			return p, err
		}
		_ = f.Close()
	}
	return "", nil
}

func (e *Executor) lstat(path string) (os.FileInfo, error) {
	if l, ok := e.Fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(path)
		return info, err
	}
	return e.Fs.Stat(path)
}
