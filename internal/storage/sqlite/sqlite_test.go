package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/dupescan/internal/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()

	store, err := New(filepath.Join(t.TempDir(), "audit", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testScan(runID string, started time.Time) *types.ScanRecord {
	sizes := map[string]uint64{"/r/a": 10, "/r/b": 10, "/r/c": 8, "/r/d": 6}
	exact := types.NewGroup(types.MethodExact, []string{"/r/a", "/r/b"}, sizes, 1)
	near := types.NewGroup(types.MethodStatistical, []string{"/r/c", "/r/d"}, sizes, 0.8)

	auto, _ := types.NewRecommendation(exact, "/r/a", 1, 0.85, "newest")
	manual, _ := types.NewRecommendation(near, "/r/c", 0.8, 0.85, "lexical")
	manual.ReviewNote = "check encoding"

	return &types.ScanRecord{
		RunID:           runID,
		Root:            "/r",
		StartedAt:       started,
		FinishedAt:      started.Add(time.Second),
		Groups:          []types.DuplicateGroup{exact, near},
		Recommendations: []types.Recommendation{auto, manual},
		FileErrors:      1,
	}
}

func TestRecordScan(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	scan := testScan("run-1", started)

	require.NoError(t, store.RecordScan(ctx, scan))

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "/r", run.Root)
	assert.True(t, started.Equal(run.StartedAt))
	assert.Equal(t, 2, run.Groups)
	assert.Equal(t, 1, run.Automatic)
	assert.Equal(t, 1, run.Manual)
	assert.Equal(t, uint64(16), run.WastedBytes)
	assert.Equal(t, 1, run.FileErrors)
	assert.Equal(t, types.RunStatusScanned, run.Status)

	recs, err := store.GetRecommendations(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, scan.Recommendations, recs)

	t.Run("rerecording replaces recommendations", func(t *testing.T) {
		again := testScan("run-1", started)
		again.Recommendations = again.Recommendations[:1]
		require.NoError(t, store.RecordScan(ctx, again))

		recs, err := store.GetRecommendations(ctx, "run-1")
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})

	t.Run("unknown group rejected", func(t *testing.T) {
		bad := testScan("run-2", started)
		bad.Recommendations[0].GroupID = "missing"
		assert.Error(t, store.RecordScan(ctx, bad))

		run, err := store.GetRun(ctx, "run-2")
		require.NoError(t, err)
		assert.Nil(t, run, "failed scan must not leave a run behind")
	})

	t.Run("run ID required", func(t *testing.T) {
		assert.Error(t, store.RecordScan(ctx, &types.ScanRecord{}))
	})

	t.Run("unknown method rejected", func(t *testing.T) {
		bad := testScan("run-3", started)
		bad.Recommendations[1].Method = "fuzzy"
		err := store.RecordScan(ctx, bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown method")
	})
}

func TestGetRecommendations_UnknownMethod(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	require.NoError(t, store.RecordScan(ctx, testScan("run-1", time.Now())))

	_, err := store.db.ExecContext(ctx,
		`UPDATE recommendations SET method = 'fuzzy' WHERE run_id = ? AND position = 1`, "run-1")
	require.NoError(t, err)

	_, err = store.GetRecommendations(ctx, "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown method "fuzzy"`)
}

func TestGetRun_NotFound(t *testing.T) {
	store := setupTestDB(t)

	run, err := store.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestRecordExecution(t *testing.T) {
	ctx := context.Background()
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		results []types.ExecutionResult
		status  types.RunStatus
		mode    types.ApplyMode
		saved   uint64
		applied int
		skipped int
	}{
		{
			name: "dry run",
			results: []types.ExecutionResult{
				{Mode: types.ModeDryRun, WouldApplyGroupIDs: []string{"g1"}, BytesReclaimable: 10},
			},
			status: types.RunStatusDryRun,
			mode:   types.ModeDryRun,
		},
		{
			name: "clean apply",
			results: []types.ExecutionResult{
				{Mode: types.ModeApply, AppliedGroupIDs: []string{"g1"}, BytesSaved: 10,
					BackupPaths: map[string]string{"/r/b": "/bk/run-1/b"}},
			},
			status:  types.RunStatusApplied,
			mode:    types.ModeApply,
			saved:   10,
			applied: 1,
		},
		{
			name: "apply with skipped group",
			results: []types.ExecutionResult{
				{Mode: types.ModeApply, AppliedGroupIDs: []string{"g1"}, SkippedGroupIDs: []string{"g2"}, BytesSaved: 10,
					Errors: []types.GroupError{*types.NewGroupError("g2", "", types.ReasonRequiresReview, types.ErrRequiresReview)}},
			},
			status:  types.RunStatusPartial,
			mode:    types.ModeApply,
			saved:   10,
			applied: 1,
			skipped: 1,
		},
		{
			name: "dry run after apply keeps applied status",
			results: []types.ExecutionResult{
				{Mode: types.ModeApply, AppliedGroupIDs: []string{"g1"}, BytesSaved: 10},
				{Mode: types.ModeDryRun, AlreadyResolvedGroupIDs: []string{"g1"}},
			},
			status:  types.RunStatusApplied,
			mode:    types.ModeApply,
			saved:   10,
			applied: 1,
		},
		{
			name: "second apply accumulates",
			results: []types.ExecutionResult{
				{Mode: types.ModeApply, AppliedGroupIDs: []string{"g1"}, BytesSaved: 10},
				{Mode: types.ModeApply, AppliedGroupIDs: []string{"g2"}, BytesSaved: 6},
			},
			status:  types.RunStatusApplied,
			mode:    types.ModeApply,
			saved:   16,
			applied: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestDB(t)
			require.NoError(t, store.RecordScan(ctx, testScan("run-1", started)))

			for _, res := range tt.results {
				res.RunID = "run-1"
				res.StartedAt = started.Add(time.Minute)
				res.FinishedAt = started.Add(2 * time.Minute)
				require.NoError(t, store.RecordExecution(ctx, &res))
			}

			run, err := store.GetRun(ctx, "run-1")
			require.NoError(t, err)
			require.NotNil(t, run)
			assert.Equal(t, tt.status, run.Status)
			assert.Equal(t, tt.mode, run.Mode)
			assert.Equal(t, tt.saved, run.BytesSaved)
			assert.Equal(t, tt.applied, run.AppliedGroups)
			assert.Equal(t, tt.skipped, run.SkippedGroups)
		})
	}
}

func TestRecordExecution_UnknownRun(t *testing.T) {
	store := setupTestDB(t)
	err := store.RecordExecution(context.Background(), &types.ExecutionResult{RunID: "ghost", Mode: types.ModeApply})
	assert.Error(t, err)
}

func TestGetBackups(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordScan(ctx, testScan("run-1", started)))

	res := &types.ExecutionResult{
		RunID: "run-1",
		Mode:  types.ModeApply,
		BackupPaths: map[string]string{
			"/r/d": "/bk/run-1/d",
			"/r/b": "/bk/run-1/b",
		},
		Errors: []types.GroupError{
			*types.NewGroupError("g9", "/r/x", types.ReasonDeleteFailed, errors.New("busy")),
		},
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}
	require.NoError(t, store.RecordExecution(ctx, res))

	backups, err := store.GetBackups(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.Equal(t, "/r/b", backups[0].OriginalPath)
	assert.Equal(t, "/bk/run-1/b", backups[0].BackupPath)
	assert.Equal(t, "/r/d", backups[1].OriginalPath)
	assert.Equal(t, "run-1", backups[1].RunID)

	none, err := store.GetBackups(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, store.RecordScan(ctx, testScan(id, base.Add(time.Duration(i)*time.Hour))))
	}

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "new", runs[0].RunID)
	assert.Equal(t, "old", runs[2].RunID)

	limited, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "mid", limited[1].RunID)
}

func TestDeleteRun(t *testing.T) {
	ctx := context.Background()
	store := setupTestDB(t)
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordScan(ctx, testScan("run-1", started)))
	require.NoError(t, store.RecordExecution(ctx, &types.ExecutionResult{
		RunID:       "run-1",
		Mode:        types.ModeApply,
		BackupPaths: map[string]string{"/r/b": "/bk/run-1/b"},
		StartedAt:   started,
		FinishedAt:  started,
	}))

	require.NoError(t, store.DeleteRun(ctx, "run-1"))

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Nil(t, run)

	recs, err := store.GetRecommendations(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, recs)

	backups, err := store.GetBackups(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, backups)

	assert.NoError(t, store.DeleteRun(ctx, "never-existed"))
}
