package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/steveyegge/dupescan/internal/types"
)

// RecordScan stores a scan's run row and its recommendations. Recording the
// same run ID again replaces the earlier scan.
func (s *SQLiteStorage) RecordScan(ctx context.Context, scan *types.ScanRecord) error {
	if scan == nil || scan.RunID == "" {
		return fmt.Errorf("scan record requires a run ID")
	}

	groups := make(map[string]types.DuplicateGroup, len(scan.Groups))
	var wasted uint64
	for _, g := range scan.Groups {
		groups[g.ID] = g
		wasted += g.WastedBytes
	}
	automatic := 0
	for _, r := range scan.Recommendations {
		if r.Automatic {
			automatic++
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, root, started_at, finished_at, groups_found, automatic, manual,
			wasted_bytes, file_errors, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			root = excluded.root,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			groups_found = excluded.groups_found,
			automatic = excluded.automatic,
			manual = excluded.manual,
			wasted_bytes = excluded.wasted_bytes,
			file_errors = excluded.file_errors
	`, scan.RunID, scan.Root, scan.StartedAt.UTC(), scan.FinishedAt.UTC(), len(scan.Groups),
		automatic, len(scan.Recommendations)-automatic, int64(wasted), scan.FileErrors, string(types.RunStatusScanned))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM recommendations WHERE run_id = ?`, scan.RunID); err != nil {
		return fmt.Errorf("failed to clear recommendations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO recommendations (run_id, group_id, position, method, members, canonical_path,
			remove_paths, similarity, total_bytes, wasted_bytes, confidence, safety_threshold,
			automatic, rationale, review_note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, r := range scan.Recommendations {
		g, ok := groups[r.GroupID]
		if !ok {
			return fmt.Errorf("recommendation references unknown group %s", r.GroupID)
		}
		if !r.Method.Valid() {
			return fmt.Errorf("recommendation %s has unknown method %q", r.GroupID, r.Method)
		}
		members, err := json.Marshal(g.Members)
		if err != nil {
			return fmt.Errorf("failed to marshal members: %w", err)
		}
		remove, err := json.Marshal(r.Remove)
		if err != nil {
			return fmt.Errorf("failed to marshal removals: %w", err)
		}

		_, err = stmt.ExecContext(ctx, scan.RunID, r.GroupID, i, string(r.Method), string(members),
			r.CanonicalPath, string(remove), g.Similarity, int64(g.TotalSizeBytes), int64(g.WastedBytes),
			r.Confidence, r.SafetyThreshold, r.Automatic, r.Rationale, r.ReviewNote)
		if err != nil {
			return fmt.Errorf("failed to insert recommendation %s: %w", r.GroupID, err)
		}
	}

	return tx.Commit()
}

// RecordExecution stores an execution attempt against an already recorded
// run, with its group errors and backups, and rolls the outcome up into the
// run row. Dry runs never change the applied counters.
func (s *SQLiteStorage) RecordExecution(ctx context.Context, res *types.ExecutionResult) error {
	if res == nil || res.RunID == "" {
		return fmt.Errorf("execution result requires a run ID")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id = ?`, res.RunID).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("run %s not found", res.RunID)
	}
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	applied, err := marshalIDs(res.AppliedGroupIDs)
	if err != nil {
		return err
	}
	skipped, err := marshalIDs(res.SkippedGroupIDs)
	if err != nil {
		return err
	}
	resolved, err := marshalIDs(res.AlreadyResolvedGroupIDs)
	if err != nil {
		return err
	}
	wouldApply, err := marshalIDs(res.WouldApplyGroupIDs)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO executions (run_id, mode, started_at, finished_at, applied_groups, skipped_groups,
			resolved_groups, would_apply_groups, bytes_saved, bytes_reclaimable)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, res.RunID, string(res.Mode), res.StartedAt.UTC(), res.FinishedAt.UTC(), applied, skipped,
		resolved, wouldApply, int64(res.BytesSaved), int64(res.BytesReclaimable))
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	executionID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get execution ID: %w", err)
	}

	for _, ge := range res.Errors {
		msg := ""
		if ge.Err != nil {
			msg = ge.Err.Error()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO execution_errors (execution_id, group_id, path, reason, message)
			VALUES (?, ?, ?, ?, ?)
		`, executionID, ge.GroupID, ge.Path, string(ge.Reason), msg)
		if err != nil {
			return fmt.Errorf("failed to insert execution error: %w", err)
		}
	}

	originals := make([]string, 0, len(res.BackupPaths))
	for p := range res.BackupPaths {
		originals = append(originals, p)
	}
	sort.Strings(originals)
	for _, p := range originals {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO backups (run_id, original_path, backup_path, created_at)
			VALUES (?, ?, ?, ?)
		`, res.RunID, p, res.BackupPaths[p], res.FinishedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert backup: %w", err)
		}
	}

	if res.Mode == types.ModeApply {
		newStatus := types.RunStatusApplied
		if len(res.SkippedGroupIDs) > 0 || types.RunStatus(status) == types.RunStatusPartial {
			newStatus = types.RunStatusPartial
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE runs SET
				mode = ?,
				bytes_saved = bytes_saved + ?,
				applied_groups = applied_groups + ?,
				skipped_groups = ?,
				status = ?
			WHERE run_id = ?
		`, string(res.Mode), int64(res.BytesSaved), len(res.AppliedGroupIDs), len(res.SkippedGroupIDs),
			string(newStatus), res.RunID)
	} else if types.RunStatus(status) == types.RunStatusScanned {
		_, err = tx.ExecContext(ctx, `
			UPDATE runs SET mode = ?, skipped_groups = ?, status = ? WHERE run_id = ?
		`, string(res.Mode), len(res.SkippedGroupIDs), string(types.RunStatusDryRun), res.RunID)
	}
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	return tx.Commit()
}

const runColumns = `run_id, root, started_at, finished_at, groups_found, automatic, manual,
	wasted_bytes, file_errors, mode, bytes_saved, applied_groups, skipped_groups, status`

// GetRun returns one run, or nil if it was never recorded.
func (s *SQLiteStorage) GetRun(ctx context.Context, runID string) (*types.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all runs.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]*types.RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, run_id`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*types.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// GetRecommendations returns a run's recommendations in the order they were
// recorded.
func (s *SQLiteStorage) GetRecommendations(ctx context.Context, runID string) ([]types.Recommendation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id, method, canonical_path, remove_paths, confidence, safety_threshold,
			automatic, rationale, review_note
		FROM recommendations
		WHERE run_id = ?
		ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get recommendations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []types.Recommendation
	for rows.Next() {
		var r types.Recommendation
		var method, remove string
		if err := rows.Scan(&r.GroupID, &method, &r.CanonicalPath, &remove, &r.Confidence,
			&r.SafetyThreshold, &r.Automatic, &r.Rationale, &r.ReviewNote); err != nil {
			return nil, fmt.Errorf("failed to scan recommendation: %w", err)
		}
		r.Method = types.DetectionMethod(method)
		if !r.Method.Valid() {
			return nil, fmt.Errorf("recommendation %s has unknown method %q", r.GroupID, method)
		}
		if err := json.Unmarshal([]byte(remove), &r.Remove); err != nil {
			return nil, fmt.Errorf("failed to unmarshal removals for %s: %w", r.GroupID, err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recommendations: %w", err)
	}
	return recs, nil
}

// GetBackups returns the backups taken for a run, ordered by original path.
func (s *SQLiteStorage) GetBackups(ctx context.Context, runID string) ([]types.BackupRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, original_path, backup_path, created_at
		FROM backups
		WHERE run_id = ?
		ORDER BY original_path
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get backups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var backups []types.BackupRecord
	for rows.Next() {
		var b types.BackupRecord
		if err := rows.Scan(&b.RunID, &b.OriginalPath, &b.BackupPath, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		backups = append(backups, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backups: %w", err)
	}
	return backups, nil
}

// DeleteRun removes a run and everything recorded for it. Deleting an
// unknown run is not an error.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*types.RunRecord, error) {
	var run types.RunRecord
	var wasted, saved int64
	var mode, status string
	var startedAt, finishedAt time.Time

	err := row.Scan(&run.RunID, &run.Root, &startedAt, &finishedAt, &run.Groups, &run.Automatic,
		&run.Manual, &wasted, &run.FileErrors, &mode, &saved, &run.AppliedGroups,
		&run.SkippedGroups, &status)
	if err != nil {
		return nil, err
	}

	run.StartedAt = startedAt
	run.FinishedAt = finishedAt
	run.WastedBytes = uint64(wasted)
	run.BytesSaved = uint64(saved)
	run.Mode = types.ApplyMode(mode)
	run.Status = types.RunStatus(status)
	return &run, nil
}

func marshalIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("failed to marshal group IDs: %w", err)
	}
	return string(data), nil
}
