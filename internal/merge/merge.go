// Package merge combines the detector outputs into one set of
// non-overlapping duplicate groups.
package merge

import (
	"log/slog"
	"sort"

	"github.com/steveyegge/dupescan/internal/similarity"
	"github.com/steveyegge/dupescan/internal/types"
)

// DropReason explains why a detected group is absent from the merged result.
type DropReason string

const (
	// DropTooFewMembers means higher-priority groups claimed all but one member
	DropTooFewMembers DropReason = "fewer than two unclaimed members"
)

// Dropped records a detected group that did not survive merging.
type Dropped struct {
	Group  types.DuplicateGroup `json:"group"`
	Reason DropReason           `json:"reason"`

	// Remaining holds the members that were still unclaimed
	Remaining []string `json:"remaining,omitempty"`
}

// Result is the merged partition.
type Result struct {
	// Groups never share a path. Ordered by first member.
	Groups []types.DuplicateGroup

	Dropped []Dropped
}

// Merge claims paths in priority order (exact, then statistical, then
// ml-cluster; within a method by first member). A group loses every path an
// earlier group claimed. Groups left with fewer than two members are dropped;
// groups that lost members get their totals, similarity and ID recomputed
// over the survivors. The inputs are not modified. A nil logger means
// slog.Default().
func Merge(records []types.FileRecord, exact, statistical, clustered []types.DuplicateGroup, logger *slog.Logger) Result {
	if logger == nil {
		logger = slog.Default()
	}

	all := make([]types.DuplicateGroup, 0, len(exact)+len(statistical)+len(clustered))
	all = append(all, exact...)
	all = append(all, statistical...)
	all = append(all, clustered...)

	sort.SliceStable(all, func(i, j int) bool {
		pi, pj := all[i].Method.Priority(), all[j].Method.Priority()
		if pi != pj {
			return pi < pj
		}
		return all[i].Members[0] < all[j].Members[0]
	})

	byPath := similarity.Index(records)
	sizes := similarity.Sizes(records)
	claimed := make(map[string]bool)

	var res Result
	for _, g := range all {
		var remaining []string
		for _, m := range g.Members {
			if !claimed[m] {
				remaining = append(remaining, m)
			}
		}

		if len(remaining) < 2 {
			logger.Debug("dropping group", "group_id", g.ID, "method", g.Method, "remaining", len(remaining))
			res.Dropped = append(res.Dropped, Dropped{Group: g, Reason: DropTooFewMembers, Remaining: remaining})
			continue
		}

		merged := g
		if len(remaining) != len(g.Members) {
			merged = types.NewGroup(g.Method, remaining, sizes, groupSimilarity(g.Method, remaining, byPath))
		} else {
			merged.Members = append([]string(nil), g.Members...)
		}

		for _, m := range merged.Members {
			claimed[m] = true
		}
		res.Groups = append(res.Groups, merged)
	}

	types.SortGroups(res.Groups)
	return res
}

// groupSimilarity is the lowest pairwise cosine of the survivors. Exact
// groups stay at 1.
func groupSimilarity(method types.DetectionMethod, members []string, byPath map[string]types.FileRecord) float64 {
	if method == types.MethodExact {
		return 1.0
	}
	return similarity.MinPairwise(similarity.Vectors(members, byPath))
}
