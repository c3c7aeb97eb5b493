// Package detection finds duplicate groups by content digest and by pairwise
// feature-vector similarity.
package detection

import (
	"github.com/steveyegge/dupescan/internal/similarity"
	"github.com/steveyegge/dupescan/internal/types"
)

// Exact partitions records by digest. Every digest shared by two or more
// files becomes an exact group with similarity 1.0. Groups are ordered by
// their first member.
func Exact(records []types.FileRecord) []types.DuplicateGroup {
	byDigest := make(map[types.Digest][]string)
	for _, r := range records {
		byDigest[r.Digest] = append(byDigest[r.Digest], r.Path)
	}

	sizes := similarity.Sizes(records)
	var groups []types.DuplicateGroup
	for _, members := range byDigest {
		if len(members) < 2 {
			continue
		}
		groups = append(groups, types.NewGroup(types.MethodExact, members, sizes, 1.0))
	}

	types.SortGroups(groups)
	return groups
}

// Claimed returns the set of paths that appear in any group.
func Claimed(groups []types.DuplicateGroup) map[string]bool {
	claimed := make(map[string]bool)
	for _, g := range groups {
		for _, m := range g.Members {
			claimed[m] = true
		}
	}
	return claimed
}
