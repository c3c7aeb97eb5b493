package clustering

import (
	"context"
	"sort"

	"github.com/steveyegge/dupescan/internal/similarity"
)

// hierarchical runs average-linkage agglomerative clustering over cosine
// similarity. Linkages are updated with the Lance-Williams formula, so each
// merge costs one pass over the active clusters. Among equal linkages the
// pair with the lowest (i, j) merges first.
func (d *Detector) hierarchical(ctx context.Context, vecs [][]float64) ([][]int, error) {
	n := len(vecs)

	sim := make([][]float64, n)
	for i := range sim {
		sim[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			s := similarity.Cosine(vecs[i], vecs[j])
			sim[i][j], sim[j][i] = s, s
		}
	}

	members := make([][]int, n)
	active := make([]bool, n)
	for i := range members {
		members[i] = []int{i}
		active[i] = true
	}
	remaining := n

	for remaining > 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if d.MaxClusters > 0 && remaining <= d.MaxClusters {
			break
		}

		bi, bj := -1, -1
		best := 0.0
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if !active[j] {
					continue
				}
				if bi < 0 || sim[i][j] > best {
					bi, bj, best = i, j, sim[i][j]
				}
			}
		}

		if d.MaxClusters == 0 && best < d.MinSimilarity {
			break
		}

		// Merge bj into bi
		ni, nj := float64(len(members[bi])), float64(len(members[bj]))
		for k := 0; k < n; k++ {
			if !active[k] || k == bi || k == bj {
				continue
			}
			s := (ni*sim[bi][k] + nj*sim[bj][k]) / (ni + nj)
			sim[bi][k], sim[k][bi] = s, s
		}
		members[bi] = append(members[bi], members[bj]...)
		members[bj] = nil
		active[bj] = false
		remaining--
	}

	var clusters [][]int
	for i := 0; i < n; i++ {
		if active[i] {
			c := append([]int(nil), members[i]...)
			sort.Ints(c)
			clusters = append(clusters, c)
		}
	}
	return clusters, nil
}
