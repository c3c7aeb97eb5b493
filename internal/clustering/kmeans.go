package clustering

import (
	"context"
	"fmt"
	"math"

	"github.com/steveyegge/dupescan/internal/similarity"
	"github.com/steveyegge/dupescan/internal/types"
)

// partition runs k-means. With MaxClusters set, k is min(MaxClusters, n);
// otherwise k comes from the elbow of the SSE curve.
func (d *Detector) partition(ctx context.Context, vecs [][]float64) ([][]int, error) {
	n := len(vecs)

	if d.MaxClusters > 0 {
		k := d.MaxClusters
		if k > n {
			k = n
		}
		assign, _, err := d.kmeans(ctx, vecs, k)
		if err != nil {
			return nil, err
		}
		return groupAssignments(assign, k), nil
	}

	maxK := int(math.Ceil(math.Sqrt(float64(n)))) + 1
	if maxK > n {
		maxK = n
	}

	assignments := make([][]int, maxK+1)
	sse := make([]float64, maxK+1)
	for k := 1; k <= maxK; k++ {
		assign, s, err := d.kmeans(ctx, vecs, k)
		if err != nil {
			return nil, err
		}
		assignments[k], sse[k] = assign, s
	}

	k := elbow(sse[1:])
	return groupAssignments(assignments[k], k), nil
}

// elbow picks k (1-based) from sse[k-1] = SSE(k): the point farthest from the
// line through the first and last points. Ties pick the smaller k.
func elbow(sse []float64) int {
	last := len(sse)
	if last <= 2 {
		return 1
	}

	x1, y1 := 1.0, sse[0]
	x2, y2 := float64(last), sse[last-1]
	norm := math.Hypot(y2-y1, x2-x1)

	best, bestDist := 1, -1.0
	for k := 1; k <= last; k++ {
		x0, y0 := float64(k), sse[k-1]
		dist := math.Abs((y2-y1)*x0-(x2-x1)*y0+x2*y1-y2*x1) / norm
		if dist > bestDist {
			best, bestDist = k, dist
		}
	}
	return best
}

// kmeans clusters vecs into k groups and returns the assignment of each
// vector and the sum of squared distances to the assigned centers.
//
// Centers start from a farthest-point walk beginning at vecs[0], so runs are
// deterministic. Assignment ties go to the lower center index.
func (d *Detector) kmeans(ctx context.Context, vecs [][]float64, k int) ([]int, float64, error) {
	centers := farthestPointInit(vecs, k)
	assign := make([]int, len(vecs))
	for i := range assign {
		assign[i] = -1
	}

	maxIter := d.MaxIterations
	if maxIter <= 0 {
		maxIter = 100
	}

	converged := false
	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		changed := false
		for i, v := range vecs {
			c := nearest(v, centers)
			if c != assign[i] {
				assign[i] = c
				changed = true
			}
		}
		if !changed {
			converged = true
			break
		}

		// Recompute centers; an empty cluster keeps its previous center
		for c := range centers {
			var members [][]float64
			for i, a := range assign {
				if a == c {
					members = append(members, vecs[i])
				}
			}
			if len(members) > 0 {
				centers[c] = similarity.Centroid(members)
			}
		}
	}
	if !converged {
		return nil, 0, fmt.Errorf("%w: k-means with k=%d still reassigning after %d iterations",
			types.ErrClusteringNonconvergent, k, maxIter)
	}

	var sse float64
	for i, v := range vecs {
		sse += similarity.SquaredEuclidean(v, centers[assign[i]])
	}
	return assign, sse, nil
}

func farthestPointInit(vecs [][]float64, k int) [][]float64 {
	centers := [][]float64{copyVec(vecs[0])}
	chosen := map[int]bool{0: true}

	minDist := make([]float64, len(vecs))
	for i, v := range vecs {
		minDist[i] = similarity.SquaredEuclidean(v, centers[0])
	}

	for len(centers) < k {
		next, far := -1, -1.0
		for i, dist := range minDist {
			if chosen[i] {
				continue
			}
			if dist > far {
				next, far = i, dist
			}
		}
		chosen[next] = true
		centers = append(centers, copyVec(vecs[next]))
		for i, v := range vecs {
			if dd := similarity.SquaredEuclidean(v, vecs[next]); dd < minDist[i] {
				minDist[i] = dd
			}
		}
	}
	return centers
}

func nearest(v []float64, centers [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, center := range centers {
		if dd := similarity.SquaredEuclidean(v, center); dd < bestDist {
			best, bestDist = c, dd
		}
	}
	return best
}

func groupAssignments(assign []int, k int) [][]int {
	clusters := make([][]int, k)
	for i, c := range assign {
		clusters[c] = append(clusters[c], i)
	}
	return clusters
}

func copyVec(v []float64) []float64 {
	return append([]float64(nil), v...)
}
