package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/dupescan/internal/types"
)

// staticRefs is a ReferenceChecker backed by a map.
type staticRefs struct {
	refs map[string]bool
	err  error
}

func (s staticRefs) Referenced(_ context.Context, path string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.refs[path], nil
}

var (
	older = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	newer = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
)

func TestDecide_Confidence(t *testing.T) {
	tests := []struct {
		name       string
		method     types.DetectionMethod
		similarity float64
		confidence float64
		automatic  bool
	}{
		{"exact is always certain", types.MethodExact, 0.3, 1.0, true},
		{"statistical above threshold", types.MethodStatistical, 0.9, 0.9, true},
		{"statistical at threshold", types.MethodStatistical, 0.85, 0.85, true},
		{"statistical below threshold", types.MethodStatistical, 0.84, 0.84, false},
		{"cluster below threshold", types.MethodMLCluster, 0.7, 0.7, false},
		{"negative similarity clamps to zero", types.MethodMLCluster, -0.2, 0.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := types.NewGroup(tt.method, []string{"a", "b"}, nil, tt.similarity)
			e := &Engine{SafetyThreshold: DefaultSafetyThreshold}

			res, err := e.Decide(context.Background(), []types.DuplicateGroup{g}, nil)
			require.NoError(t, err)
			require.Len(t, res.Recommendations, 1)

			rec := res.Recommendations[0]
			assert.InDelta(t, tt.confidence, rec.Confidence, 1e-12)
			assert.Equal(t, tt.automatic, rec.Automatic)
			assert.True(t, rec.Consistent())
			assert.Equal(t, g.ID, rec.GroupID)
			assert.Equal(t, DefaultSafetyThreshold, rec.SafetyThreshold)
		})
	}
}

func TestDecide_CanonicalPrecedence(t *testing.T) {
	records := []types.FileRecord{
		{Path: "a", LastModified: older},
		{Path: "b", LastModified: newer},
		{Path: "c", LastModified: older},
	}
	g := types.NewGroup(types.MethodExact, []string{"a", "b", "c"}, nil, 1)

	tests := []struct {
		name      string
		refs      ReferenceChecker
		records   []types.FileRecord
		canonical string
		reason    string
	}{
		{"newest wins without references", nil, records, "b", reasonNewest},
		{"referenced beats newest", staticRefs{refs: map[string]bool{"c": true}}, records, "c", reasonReferenced},
		{"newest among referenced", staticRefs{refs: map[string]bool{"b": true, "c": true}}, records, "b", reasonNewest},
		{"lexical tie-break", nil, []types.FileRecord{
			{Path: "a", LastModified: older},
			{Path: "b", LastModified: older},
			{Path: "c", LastModified: older},
		}, "a", reasonLexical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Engine{SafetyThreshold: DefaultSafetyThreshold, References: tt.refs}
			res, err := e.Decide(context.Background(), []types.DuplicateGroup{g}, tt.records)
			require.NoError(t, err)
			require.Len(t, res.Recommendations, 1)

			rec := res.Recommendations[0]
			assert.Equal(t, tt.canonical, rec.CanonicalPath)
			assert.NotContains(t, rec.Remove, tt.canonical)
			assert.Len(t, rec.Remove, 2)
			assert.Contains(t, rec.Rationale, tt.reason)
			assert.Empty(t, res.Errors)
		})
	}
}

func TestDecide_ReferenceCheckFailure(t *testing.T) {
	records := []types.FileRecord{
		{Path: "a", LastModified: newer},
		{Path: "b", LastModified: older},
	}
	g := types.NewGroup(types.MethodExact, []string{"a", "b"}, nil, 1)
	e := &Engine{SafetyThreshold: DefaultSafetyThreshold, References: staticRefs{err: errors.New("git not found")}}

	res, err := e.Decide(context.Background(), []types.DuplicateGroup{g}, records)
	require.NoError(t, err)
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, "a", res.Recommendations[0].CanonicalPath)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, g.ID, res.Errors[0].GroupID)
	assert.ErrorIs(t, res.Errors[0], types.ErrReferenceCheckFailed)
}

func TestDecide_Canceled(t *testing.T) {
	g := types.NewGroup(types.MethodExact, []string{"a", "b"}, nil, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Engine{SafetyThreshold: 0.85}).Decide(ctx, []types.DuplicateGroup{g}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 1.0, Confidence(types.DuplicateGroup{Method: types.MethodExact, Similarity: 0}))
	assert.Equal(t, 1.0, Confidence(types.DuplicateGroup{Method: types.MethodStatistical, Similarity: 1.2}))
	assert.Equal(t, 0.5, Confidence(types.DuplicateGroup{Method: types.MethodMLCluster, Similarity: 0.5}))
}
