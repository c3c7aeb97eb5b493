package similarity

import (
	"testing"

	"github.com/steveyegge/dupescan/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float64
		expected float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1.0},
		{"scaled", []float64{1, 2, 3}, []float64{2, 4, 6}, 1.0},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0.0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1.0},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Cosine(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCentroidAndMinToCentroid(t *testing.T) {
	vecs := [][]float64{{1, 0}, {0, 1}}
	assert.Equal(t, []float64{0.5, 0.5}, Centroid(vecs))
	assert.InDelta(t, 0.7071, MinToCentroid(vecs), 1e-4)
}

func TestMinPairwise(t *testing.T) {
	vecs := [][]float64{{1, 0}, {1, 1}, {0, 1}}
	assert.InDelta(t, 0.0, MinPairwise(vecs), 1e-9)
	assert.Equal(t, 1.0, MinPairwise(vecs[:1]))
}

func TestCheckDimensions(t *testing.T) {
	dim, err := CheckDimensions(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, dim)

	dim, err = CheckDimensions([]types.FileRecord{
		{Path: "a", FeatureVector: []float64{1, 2}},
		{Path: "b", FeatureVector: []float64{3, 4}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, dim)

	_, err = CheckDimensions([]types.FileRecord{
		{Path: "a", FeatureVector: []float64{1, 2}},
		{Path: "b", FeatureVector: []float64{3}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrHeterogeneousFeatureVector)
}

func TestCandidates(t *testing.T) {
	records := []types.FileRecord{
		{Path: "/r/d", FeatureVector: []float64{1, 0}},
		{Path: "/r/a", FeatureVector: []float64{0, 1}},
		{Path: "/r/bin", FeatureVector: []float64{1, 1}, Opaque: true},
		{Path: "/r/empty", FeatureVector: []float64{0, 0}},
		{Path: "/r/claimed", FeatureVector: []float64{1, 1}},
	}

	got := Candidates(records, map[string]bool{"/r/claimed": true})

	var paths []string
	for _, r := range got {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{"/r/a", "/r/d"}, paths)
	assert.Empty(t, Candidates(nil, nil))
}

func TestIsZero(t *testing.T) {
	assert.True(t, IsZero(nil))
	assert.True(t, IsZero([]float64{0, 0}))
	assert.False(t, IsZero([]float64{0, 1e-9}))
}
