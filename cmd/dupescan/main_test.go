package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/dupescan/internal/config"
	"github.com/steveyegge/dupescan/internal/engine"
	"github.com/steveyegge/dupescan/internal/types"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n        uint64
		expected string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatBytes(tt.n))
		})
	}
}

func TestResolveDir(t *testing.T) {
	assert.Equal(t, "/r/.dupescan-backups", resolveDir("/r", ".dupescan-backups"))
	assert.Equal(t, "/elsewhere", resolveDir("/r", "/elsewhere"))
}

func TestScanConfig_Layering(t *testing.T) {
	t.Setenv("DUPESCAN_SIMILARITY_THRESHOLD", "0.8")
	t.Setenv("DUPESCAN_SAFETY_THRESHOLD", "0.9")

	require.NoError(t, scanCmd.Flags().Set("safety-threshold", "0.95"))
	require.NoError(t, scanCmd.Flags().Set("ignore", "*.bak"))
	require.NoError(t, scanCmd.Flags().Set("apply", "true"))

	cfg, err := scanConfig(scanCmd)
	require.NoError(t, err)

	assert.Equal(t, 0.8, cfg.Strategy.SimilarityThreshold, "environment overrides defaults")
	assert.Equal(t, 0.95, cfg.Strategy.SafetyThreshold, "flags override environment")
	assert.Equal(t, config.ModeApply, cfg.Execution.Mode)
	assert.Contains(t, cfg.Scan.IgnorePatterns, ".git/", "ignore flag extends the defaults")
	assert.Contains(t, cfg.Scan.IgnorePatterns, "*.bak")
	assert.Contains(t, cfg.Scan.IgnorePatterns, ".dupescan/")
	assert.Equal(t, config.DefaultConfig().Strategy.ClusteringMethod, cfg.Strategy.ClusteringMethod)
}

func testReport(t *testing.T) *engine.Report {
	t.Helper()
	sizes := map[string]uint64{"/r/a": 2048, "/r/b": 2048, "/r/c": 10, "/r/d": 10}
	exact := types.NewGroup(types.MethodExact, []string{"/r/a", "/r/b"}, sizes, 1)
	near := types.NewGroup(types.MethodStatistical, []string{"/r/c", "/r/d"}, sizes, 0.75)

	auto, err := types.NewRecommendation(exact, "/r/a", 1, 0.85, "newest modification time")
	require.NoError(t, err)
	manual, err := types.NewRecommendation(near, "/r/c", 0.75, 0.85, "lexically first path")
	require.NoError(t, err)
	manual.ReviewNote = "compare the footers"

	return &engine.Report{
		RunID:           "run-1",
		Root:            "/r",
		Groups:          []types.DuplicateGroup{exact, near},
		Recommendations: []types.Recommendation{auto, manual},
		Stats: engine.Stats{
			FilesAnalyzed: 4, Groups: 2, ExactGroups: 1, StatisticalGroups: 1,
			Automatic: 1, Manual: 1, WastedBytes: 2058,
		},
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, testReport(t))
	out := buf.String()

	assert.Contains(t, out, "=== Duplicate Scan ===")
	assert.Contains(t, out, "Groups:    2 (1 exact, 1 statistical, 0 ml-cluster)")
	assert.Contains(t, out, "keep   /r/a (newest modification time)")
	assert.Contains(t, out, "remove /r/b")
	assert.Contains(t, out, "needs review")
	assert.Contains(t, out, "note   compare the footers")
	assert.Contains(t, out, "2.0 KiB")
}

func TestPrintExecution(t *testing.T) {
	t.Run("dry run", func(t *testing.T) {
		var buf bytes.Buffer
		printExecution(&buf, types.ExecutionResult{
			RunID: "run-1", Mode: types.ModeDryRun,
			WouldApplyGroupIDs: []string{"g1", "g2"}, BytesReclaimable: 2048,
			NeedsConfirmationGroupIDs: []string{"g2"},
		})
		assert.Contains(t, buf.String(), "Would clean up 2 groups, reclaiming 2.0 KiB")
		assert.Contains(t, buf.String(), "1 of them need confirmation when applied")
		assert.Contains(t, buf.String(), "Nothing was changed")
	})

	t.Run("apply with skips", func(t *testing.T) {
		var buf bytes.Buffer
		printExecution(&buf, types.ExecutionResult{
			RunID: "run-1", Mode: types.ModeApply,
			AppliedGroupIDs: []string{"g1"}, SkippedGroupIDs: []string{"g2"},
			BackupPaths: map[string]string{"/r/b": "/r/.dupescan-backups/run-1/b"},
			BytesSaved:  2048,
			Errors:      []types.GroupError{*types.NewGroupError("g2", "", types.ReasonRequiresReview, types.ErrRequiresReview)},
		})
		out := buf.String()
		assert.Contains(t, out, "Cleaned up 1 groups, saved 2.0 KiB")
		assert.Contains(t, out, "dupescan restore run-1")
		assert.Contains(t, out, "Skipped:   1 groups")
		assert.Contains(t, out, "g2")
	})
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	res := types.ExecutionResult{RunID: "run-1", Mode: types.ModeDryRun, WouldApplyGroupIDs: []string{"g1"}}
	require.NoError(t, writeJSON(&buf, testReport(t), res))

	var decoded jsonReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.Len(t, decoded.Recommendations, 2)
	require.NotNil(t, decoded.Execution)
	assert.Equal(t, types.ModeDryRun, decoded.Execution.Mode)

	buf.Reset()
	require.NoError(t, writeJSON(&buf, testReport(t), types.ExecutionResult{}))
	assert.NotContains(t, buf.String(), `"execution"`)
}
