package detection

import (
	"math/rand"
	"sort"
)

// simHashIndex buckets vectors by random-hyperplane signatures. Each band is
// Rows sign bits; two vectors sharing any band become a candidate pair. The
// chance of sharing a band grows with their cosine similarity.
type simHashIndex struct {
	planes  [][]float64
	bands   int
	rows    int
	buckets map[bandKey][]int
}

type bandKey struct {
	band int
	bits uint64
}

func newSimHashIndex(dim, bands, rows int, seed int64) *simHashIndex {
	rng := rand.New(rand.NewSource(seed))
	planes := make([][]float64, bands*rows)
	for p := range planes {
		plane := make([]float64, dim)
		for d := range plane {
			plane[d] = rng.NormFloat64()
		}
		planes[p] = plane
	}
	return &simHashIndex{
		planes:  planes,
		bands:   bands,
		rows:    rows,
		buckets: make(map[bandKey][]int),
	}
}

func (x *simHashIndex) add(id int, vec []float64) {
	for b := 0; b < x.bands; b++ {
		var bits uint64
		for r := 0; r < x.rows; r++ {
			plane := x.planes[b*x.rows+r]
			var dot float64
			for d, v := range vec {
				dot += v * plane[d]
			}
			if dot >= 0 {
				bits |= 1 << uint(r)
			}
		}
		key := bandKey{band: b, bits: bits}
		x.buckets[key] = append(x.buckets[key], id)
	}
}

// pairs returns every distinct candidate pair (i < j), sorted.
func (x *simHashIndex) pairs() []edge {
	seen := make(map[edge]struct{})
	for _, ids := range x.buckets {
		for a := 0; a < len(ids); a++ {
			for b := a + 1; b < len(ids); b++ {
				i, j := ids[a], ids[b]
				if i > j {
					i, j = j, i
				}
				seen[edge{i, j}] = struct{}{}
			}
		}
	}

	out := make([]edge, 0, len(seen))
	for e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].i != out[b].i {
			return out[a].i < out[b].i
		}
		return out[a].j < out[b].j
	})
	return out
}
