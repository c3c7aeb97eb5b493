package detection

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/dupescan/internal/config"
	"github.com/steveyegge/dupescan/internal/similarity"
	"github.com/steveyegge/dupescan/internal/types"
)

// Statistical groups files whose feature vectors are connected by pairwise
// cosine similarity at or above Threshold.
type Statistical struct {
	// Threshold is the minimum cosine that links two files
	Threshold float64

	// IndexThreshold is the candidate count at which the detector stops
	// comparing all pairs and switches to the LSH index
	IndexThreshold int

	// Workers splits the all-pairs scan. 0 = number of logical CPUs.
	Workers int

	// Bands and Rows shape the LSH signature (Bands*Rows hyperplanes)
	Bands int
	Rows  int

	// Seed fixes the LSH hyperplanes so runs are reproducible
	Seed int64

	Logger *slog.Logger
}

// Default LSH shape: 16 bands of 8 bits
const (
	DefaultBands = 16
	DefaultRows  = 8
	DefaultSeed  = 1
)

// NewStatistical builds a detector from the strategy configuration.
func NewStatistical(cfg config.StrategyConfig) *Statistical {
	return &Statistical{
		Threshold:      cfg.SimilarityThreshold,
		IndexThreshold: cfg.IndexThreshold,
		Bands:          DefaultBands,
		Rows:           DefaultRows,
		Seed:           DefaultSeed,
	}
}

type edge struct{ i, j int }

// Detect returns statistical groups over records. Opaque records, records
// with a zero vector and paths in exclude are not considered. All records
// must share one vector length.
func (s *Statistical) Detect(ctx context.Context, records []types.FileRecord, exclude map[string]bool) ([]types.DuplicateGroup, error) {
	if _, err := similarity.CheckDimensions(records); err != nil {
		return nil, err
	}

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	candidates := similarity.Candidates(records, exclude)
	if len(candidates) < 2 {
		return nil, nil
	}

	var (
		edges []edge
		err   error
	)
	indexThreshold := s.IndexThreshold
	if indexThreshold <= 0 {
		indexThreshold = config.DefaultConfig().Strategy.IndexThreshold
	}
	if len(candidates) < indexThreshold {
		edges, err = s.allPairs(ctx, candidates)
	} else {
		logger.Info("using LSH index", "candidates", len(candidates), "bands", s.Bands, "rows", s.Rows)
		edges, err = s.indexed(ctx, candidates)
	}
	if err != nil {
		return nil, err
	}

	// Edge order fixes the union order, so results do not depend on worker scheduling
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].i != edges[b].i {
			return edges[a].i < edges[b].i
		}
		return edges[a].j < edges[b].j
	})

	uf := newUnionFind(len(candidates))
	for _, e := range edges {
		uf.union(e.i, e.j)
	}

	sizes := similarity.Sizes(candidates)
	var groups []types.DuplicateGroup
	for _, comp := range uf.components(2) {
		members := make([]string, len(comp))
		vecs := make([][]float64, len(comp))
		for k, idx := range comp {
			members[k] = candidates[idx].Path
			vecs[k] = candidates[idx].FeatureVector
		}
		groups = append(groups, types.NewGroup(types.MethodStatistical, members, sizes, similarity.MinPairwise(vecs)))
	}

	types.SortGroups(groups)
	logger.Debug("statistical detection complete",
		"candidates", len(candidates), "edges", len(edges), "groups", len(groups))
	return groups, nil
}

// allPairs compares every pair. Rows of the comparison triangle are handed
// out round-robin so workers get similar amounts of work.
func (s *Statistical) allPairs(ctx context.Context, candidates []types.FileRecord) ([]edge, error) {
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	n := len(candidates)
	if workers > n {
		workers = n
	}

	partial := make([][]edge, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			var local []edge
			for i := w; i < n; i += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				for j := i + 1; j < n; j++ {
					if similarity.Cosine(candidates[i].FeatureVector, candidates[j].FeatureVector) >= s.Threshold {
						local = append(local, edge{i, j})
					}
				}
			}
			partial[w] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pairwise comparison: %w", err)
	}

	var edges []edge
	for _, p := range partial {
		edges = append(edges, p...)
	}
	return edges, nil
}

// indexed finds candidate pairs through the LSH index and verifies each with
// the exact cosine.
func (s *Statistical) indexed(ctx context.Context, candidates []types.FileRecord) ([]edge, error) {
	bands, rows := s.Bands, s.Rows
	if bands <= 0 {
		bands = DefaultBands
	}
	if rows <= 0 || rows > 64 {
		rows = DefaultRows
	}

	idx := newSimHashIndex(len(candidates[0].FeatureVector), bands, rows, s.Seed)
	for i, c := range candidates {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		idx.add(i, c.FeatureVector)
	}

	var edges []edge
	for _, p := range idx.pairs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if similarity.Cosine(candidates[p.i].FeatureVector, candidates[p.j].FeatureVector) >= s.Threshold {
			edges = append(edges, p)
		}
	}
	return edges, nil
}
