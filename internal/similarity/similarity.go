// Package similarity holds the vector math shared by the detectors: cosine
// similarity, centroids and the dimensionality check every detector runs
// before comparing feature vectors.
package similarity

import (
	"fmt"
	"math"
	"sort"

	"github.com/steveyegge/dupescan/internal/types"
)

// Cosine returns the cosine similarity of a and b. Zero vectors have
// similarity 0 with everything.
func Cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Rounding can push identical vectors slightly past 1
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// SquaredEuclidean returns the squared L2 distance between a and b.
func SquaredEuclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Centroid returns the element-wise mean of vecs. vecs must be non-empty
// and share one length.
func Centroid(vecs [][]float64) []float64 {
	c := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i, x := range v {
			c[i] += x
		}
	}
	n := float64(len(vecs))
	for i := range c {
		c[i] /= n
	}
	return c
}

// MinPairwise returns the lowest cosine similarity over all pairs in vecs.
// A single vector has similarity 1 with itself.
func MinPairwise(vecs [][]float64) float64 {
	min := 1.0
	for i := 0; i < len(vecs); i++ {
		for j := i + 1; j < len(vecs); j++ {
			if s := Cosine(vecs[i], vecs[j]); s < min {
				min = s
			}
		}
	}
	return min
}

// MinToCentroid returns the lowest cosine similarity between any vector and
// the centroid of vecs.
func MinToCentroid(vecs [][]float64) float64 {
	if len(vecs) == 0 {
		return 0
	}
	c := Centroid(vecs)
	min := 1.0
	for _, v := range vecs {
		if s := Cosine(v, c); s < min {
			min = s
		}
	}
	return min
}

// CheckDimensions verifies that every record carries a vector of the same
// length and returns that length. An empty run has dimension 0.
func CheckDimensions(records []types.FileRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	dim := len(records[0].FeatureVector)
	for _, r := range records[1:] {
		if len(r.FeatureVector) != dim {
			return 0, fmt.Errorf("%w: %s has %d dimensions, %s has %d",
				types.ErrHeterogeneousFeatureVector,
				records[0].Path, dim, r.Path, len(r.FeatureVector))
		}
	}
	return dim, nil
}

// Vectors returns the feature vectors of members, looked up in byPath.
func Vectors(members []string, byPath map[string]types.FileRecord) [][]float64 {
	vecs := make([][]float64, 0, len(members))
	for _, m := range members {
		vecs = append(vecs, byPath[m].FeatureVector)
	}
	return vecs
}

// Index maps records by path.
func Index(records []types.FileRecord) map[string]types.FileRecord {
	idx := make(map[string]types.FileRecord, len(records))
	for _, r := range records {
		idx[r.Path] = r
	}
	return idx
}

// Sizes maps records to their sizes in bytes.
func Sizes(records []types.FileRecord) map[string]uint64 {
	sizes := make(map[string]uint64, len(records))
	for _, r := range records {
		sizes[r.Path] = r.SizeBytes
	}
	return sizes
}

// Candidates returns the records that can take part in similarity detection:
// not opaque, not excluded, with a non-zero vector. Order is by path.
func Candidates(records []types.FileRecord, exclude map[string]bool) []types.FileRecord {
	var out []types.FileRecord
	for _, r := range records {
		if r.Opaque || exclude[r.Path] || IsZero(r.FeatureVector) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
