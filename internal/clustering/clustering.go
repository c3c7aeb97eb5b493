// Package clustering groups near-duplicate files by clustering their feature
// vectors, either agglomeratively (hierarchical) or by k-means (partition).
package clustering

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/steveyegge/dupescan/internal/config"
	"github.com/steveyegge/dupescan/internal/similarity"
	"github.com/steveyegge/dupescan/internal/types"
)

// Detector runs one clustering method and keeps the tight clusters.
type Detector struct {
	// Method is config.ClusteringHierarchical or config.ClusteringPartition
	Method string

	// MaxClusters fixes the cluster count. 0 = chosen automatically.
	MaxClusters int

	// MinSimilarity is the lowest member-to-centroid cosine a retained
	// cluster may have. Hierarchical clustering also stops merging below it
	// when MaxClusters is 0.
	MinSimilarity float64

	// MaxIterations bounds k-means refinement
	MaxIterations int

	// MaxItems bounds the input size
	MaxItems int

	Logger *slog.Logger
}

// NewDetector builds a detector from the strategy configuration.
func NewDetector(cfg config.StrategyConfig) *Detector {
	return &Detector{
		Method:        cfg.ClusteringMethod,
		MaxClusters:   cfg.MaxClusters,
		MinSimilarity: cfg.MinClusterSimilarity,
		MaxIterations: cfg.MaxIterations,
		MaxItems:      cfg.MaxClusterItems,
	}
}

// Detect clusters the eligible records (not opaque, not excluded, non-zero
// vector) and returns one ml-cluster group per retained cluster. A cluster is
// retained when it has at least two members and every member's cosine to
// the centroid is at least MinSimilarity. The group similarity is the lowest
// pairwise cosine, which is never above the centroid figure.
//
// Inputs above MaxItems and k-means runs that keep reassigning after
// MaxIterations return an error matching types.ErrClusteringNonconvergent.
func (d *Detector) Detect(ctx context.Context, records []types.FileRecord, exclude map[string]bool) ([]types.DuplicateGroup, error) {
	if _, err := similarity.CheckDimensions(records); err != nil {
		return nil, err
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	items := similarity.Candidates(records, exclude)
	if len(items) < 2 {
		return nil, nil
	}
	if d.MaxItems > 0 && len(items) > d.MaxItems {
		return nil, fmt.Errorf("%w: %d items exceeds the limit of %d",
			types.ErrClusteringNonconvergent, len(items), d.MaxItems)
	}

	vecs := make([][]float64, len(items))
	for i, it := range items {
		vecs[i] = it.FeatureVector
	}

	var (
		clusters [][]int
		err      error
	)
	switch d.Method {
	case config.ClusteringHierarchical, "":
		clusters, err = d.hierarchical(ctx, vecs)
	case config.ClusteringPartition:
		clusters, err = d.partition(ctx, vecs)
	default:
		return nil, fmt.Errorf("unknown clustering method %q", d.Method)
	}
	if err != nil {
		return nil, err
	}

	sizes := similarity.Sizes(items)
	var groups []types.DuplicateGroup
	for _, c := range clusters {
		if len(c) < 2 {
			continue
		}
		members := make([]string, len(c))
		cvecs := make([][]float64, len(c))
		for k, idx := range c {
			members[k] = items[idx].Path
			cvecs[k] = vecs[idx]
		}
		if tight := similarity.MinToCentroid(cvecs); tight < d.MinSimilarity {
			logger.Debug("discarding loose cluster", "size", len(c), "centroid_similarity", tight)
			continue
		}
		groups = append(groups, types.NewGroup(types.MethodMLCluster, members, sizes, similarity.MinPairwise(cvecs)))
	}

	types.SortGroups(groups)
	logger.Debug("clustering complete", "method", d.Method, "items", len(items),
		"clusters", len(clusters), "retained", len(groups))
	return groups, nil
}
