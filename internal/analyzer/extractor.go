package analyzer

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// FeatureExtractor turns file content into a fixed-length vector.
// Every vector produced by one extractor must have Dimensions() entries.
type FeatureExtractor interface {
	Dimensions() int
	Extract(content []byte) ([]float64, error)
}

// Default shingle parameters
const (
	DefaultShingleSize = 3
	DefaultBuckets     = 256
)

// ShingleExtractor hashes lower-cased word k-shingles into a fixed number of
// buckets and L2-normalizes the counts. Near-identical documents share most
// shingles, so their vectors have a cosine close to 1.
type ShingleExtractor struct {
	K       int
	Buckets int
}

// NewShingleExtractor returns an extractor with 3-word shingles and 256 buckets.
func NewShingleExtractor() *ShingleExtractor {
	return &ShingleExtractor{K: DefaultShingleSize, Buckets: DefaultBuckets}
}

// Dimensions implements FeatureExtractor.
func (e *ShingleExtractor) Dimensions() int {
	return e.Buckets
}

// Extract implements FeatureExtractor. Content without words yields a zero vector.
func (e *ShingleExtractor) Extract(content []byte) ([]float64, error) {
	vec := make([]float64, e.Buckets)

	words := strings.FieldsFunc(strings.ToLower(string(content)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return vec, nil
	}

	k := e.K
	if k <= 0 {
		k = DefaultShingleSize
	}
	// Short documents collapse to a single shingle
	if len(words) < k {
		k = len(words)
	}

	for i := 0; i+k <= len(words); i++ {
		h := fnv.New32a()
		for j := i; j < i+k; j++ {
			if j > i {
				h.Write([]byte{' '})
			}
			h.Write([]byte(words[j]))
		}
		vec[h.Sum32()%uint32(e.Buckets)]++
	}

	normalize(vec)
	return vec, nil
}

// normalize scales v to unit length in place. Zero vectors are left alone.
func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
}
