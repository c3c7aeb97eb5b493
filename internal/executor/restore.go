package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/steveyegge/dupescan/internal/types"
)

// RestoreResult reports what Restore did.
type RestoreResult struct {
	Restored []string
	// Present lists originals that already exist; they are left alone
	Present []string
	Errors  []*types.FileError
}

// Restore copies backups back to their original paths. An original that
// exists again is never overwritten. Backups are kept so a restore can be
// repeated.
func (e *Executor) Restore(ctx context.Context, backups []types.BackupRecord) (RestoreResult, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var res RestoreResult
	for _, b := range backups {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if _, err := e.lstat(b.OriginalPath); err == nil {
			res.Present = append(res.Present, b.OriginalPath)
			continue
		} else if !os.IsNotExist(err) {
			res.Errors = append(res.Errors, types.NewFileError(b.OriginalPath, types.ReasonUnreadable, "stat original", err))
			continue
		}

		if _, err := copyVerified(e.Fs, b.BackupPath, b.OriginalPath); err != nil {
			logger.Warn("restore failed", "path", b.OriginalPath, "backup", b.BackupPath, "error", err)
			res.Errors = append(res.Errors, types.NewFileError(b.OriginalPath, types.ReasonBackupFailed,
				fmt.Sprintf("from %s", b.BackupPath), err))
			continue
		}
		logger.Info("restored", "path", b.OriginalPath, "backup", b.BackupPath)
		res.Restored = append(res.Restored, b.OriginalPath)
	}
	return res, nil
}

// DiscardBackups deletes the backup copies recorded for a run together with
// its <backup-dir>/<run-id> directory. After this the run cannot be restored.
// It returns how many backup files existed.
func (e *Executor) DiscardBackups(ctx context.Context, runID string, backups []types.BackupRecord) (int, error) {
	var (
		removed int
		errs    []error
		runDirs = make(map[string]bool)
	)
	for _, b := range backups {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if _, err := e.Fs.Stat(b.BackupPath); err == nil {
			removed++
		}
		if dir := runDir(b.BackupPath, runID); dir != "" {
			runDirs[dir] = true
			continue
		}
		if err := e.Fs.Remove(b.BackupPath); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("removing %s: %w", b.BackupPath, err))
		}
	}

	dirs := make([]string, 0, len(runDirs))
	for dir := range runDirs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		if err := e.Fs.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", dir, err))
		}
	}
	return removed, errors.Join(errs...)
}

// runDir returns the ancestor of path named runID, or "" if there is none.
func runDir(path, runID string) string {
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if filepath.Base(dir) == runID {
			return dir
		}
		if parent := filepath.Dir(dir); parent == dir {
			return ""
		}
	}
}
