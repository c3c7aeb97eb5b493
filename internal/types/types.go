package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Digest is the SHA-256 of a file's content. Metadata never contributes to it.
type Digest [sha256.Size]byte

// String returns the hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest was never computed.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// FileRecord describes one analyzed file.
type FileRecord struct {
	// Path is unique within a scan
	Path string `json:"path"`

	SizeBytes uint64 `json:"size_bytes"`
	Digest    Digest `json:"digest"`

	// FeatureVector has the same length for every record in a run
	FeatureVector []float64 `json:"feature_vector"`

	LastModified time.Time `json:"last_modified"`

	// Opaque marks binary content. Opaque files take part in exact matching only.
	Opaque bool `json:"opaque,omitempty"`
}

// DetectionMethod identifies which detector produced a group.
type DetectionMethod string

const (
	// MethodExact groups files with identical digests
	MethodExact DetectionMethod = "exact"

	// MethodStatistical groups files connected by pairwise similarity above threshold
	MethodStatistical DetectionMethod = "statistical"

	// MethodMLCluster groups files placed in the same cluster by the clustering detector
	MethodMLCluster DetectionMethod = "ml-cluster"
)

// Priority orders methods for the merge step. Lower claims first.
func (m DetectionMethod) Priority() int {
	switch m {
	case MethodExact:
		return 0
	case MethodStatistical:
		return 1
	case MethodMLCluster:
		return 2
	default:
		return 3
	}
}

// Valid reports whether m is a known method.
func (m DetectionMethod) Valid() bool {
	return m.Priority() < 3
}

// DuplicateGroup is a set of files judged redundant copies of each other.
type DuplicateGroup struct {
	ID      string          `json:"id"`
	Members []string        `json:"members"` // sorted, at least 2
	Method  DetectionMethod `json:"detection_method"`

	TotalSizeBytes uint64 `json:"total_size_bytes"`
	WastedBytes    uint64 `json:"wasted_bytes"`

	// Similarity is 1.0 for exact groups, the minimum pairwise cosine for
	// statistical groups and the minimum member-to-centroid cosine for clusters.
	Similarity float64 `json:"similarity"`
}

// Contains reports whether path is a member of the group.
func (g DuplicateGroup) Contains(path string) bool {
	i := sort.SearchStrings(g.Members, path)
	return i < len(g.Members) && g.Members[i] == path
}

// groupNamespace scopes group IDs so equal memberships under different
// methods never collide.
var groupNamespace = uuid.MustParse("6f0b5a52-3c1e-4f5e-9b7a-2d9a8c1e4b10")

// NewGroupID derives a stable ID from the method and the membership.
// The same membership always yields the same ID, which keeps runs reproducible.
func NewGroupID(method DetectionMethod, members []string) string {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	name := string(method) + "\x00" + strings.Join(sorted, "\x00")
	return uuid.NewSHA1(groupNamespace, []byte(name)).String()
}

// NewGroup builds a group with sorted members, a derived ID and size totals.
// sizes maps each member to its size in bytes.
func NewGroup(method DetectionMethod, members []string, sizes map[string]uint64, similarity float64) DuplicateGroup {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)

	var total, largest uint64
	for _, m := range sorted {
		s := sizes[m]
		total += s
		if s > largest {
			largest = s
		}
	}

	return DuplicateGroup{
		ID:             NewGroupID(method, sorted),
		Members:        sorted,
		Method:         method,
		TotalSizeBytes: total,
		WastedBytes:    total - largest,
		Similarity:     similarity,
	}
}

// SortGroups orders groups by first member, then by method priority.
func SortGroups(groups []DuplicateGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Members[0] != b.Members[0] {
			return a.Members[0] < b.Members[0]
		}
		return a.Method.Priority() < b.Method.Priority()
	})
}

// Recommendation is the decision attached to a duplicate group.
type Recommendation struct {
	GroupID       string          `json:"group_id"`
	Method        DetectionMethod `json:"detection_method"`
	CanonicalPath string          `json:"canonical_path"`

	// Remove is the group membership minus the canonical path
	Remove []string `json:"remove"`

	Confidence      float64 `json:"confidence"`
	SafetyThreshold float64 `json:"safety_threshold"`

	// Automatic is exactly Confidence >= SafetyThreshold
	Automatic bool `json:"automatic"`

	Rationale string `json:"rationale"`

	// ReviewNote is advisory text for human reviewers. It never affects Automatic.
	ReviewNote string `json:"review_note,omitempty"`
}

// NewRecommendation builds a recommendation for g keeping canonical.
// Automatic is derived from confidence and threshold here and nowhere else.
func NewRecommendation(g DuplicateGroup, canonical string, confidence, threshold float64, rationale string) (Recommendation, error) {
	if !g.Contains(canonical) {
		return Recommendation{}, fmt.Errorf("canonical path %q is not a member of group %s", canonical, g.ID)
	}
	if confidence < 0.0 || confidence > 1.0 {
		return Recommendation{}, fmt.Errorf("confidence must be between 0.0 and 1.0 (got %.2f)", confidence)
	}

	remove := make([]string, 0, len(g.Members)-1)
	for _, m := range g.Members {
		if m != canonical {
			remove = append(remove, m)
		}
	}

	return Recommendation{
		GroupID:         g.ID,
		Method:          g.Method,
		CanonicalPath:   canonical,
		Remove:          remove,
		Confidence:      confidence,
		SafetyThreshold: threshold,
		Automatic:       confidence >= threshold,
		Rationale:       rationale,
	}, nil
}

// Consistent reports whether Automatic still matches the gating rule.
func (r Recommendation) Consistent() bool {
	return r.Automatic == (r.Confidence >= r.SafetyThreshold)
}

// ApplyMode selects whether the execution engine mutates the filesystem.
type ApplyMode string

const (
	// ModeDryRun validates without copying or deleting anything
	ModeDryRun ApplyMode = "dryRun"

	// ModeApply backs up and removes files
	ModeApply ApplyMode = "apply"
)

// ExecutionResult is the auditable outcome of applying recommendations.
type ExecutionResult struct {
	RunID string    `json:"run_id"`
	Mode  ApplyMode `json:"mode"`

	AppliedGroupIDs         []string `json:"applied_group_ids"`
	WouldApplyGroupIDs      []string `json:"would_apply_group_ids,omitempty"`
	SkippedGroupIDs         []string `json:"skipped_group_ids"`
	AlreadyResolvedGroupIDs []string `json:"already_resolved_group_ids,omitempty"`

	// NeedsConfirmationGroupIDs is the part of WouldApplyGroupIDs that an
	// apply run would only touch after confirmation
	NeedsConfirmationGroupIDs []string `json:"needs_confirmation_group_ids,omitempty"`

	// BackupPaths maps each removed path to its backup location
	BackupPaths map[string]string `json:"backup_paths"`

	BytesSaved       uint64 `json:"bytes_saved"`
	BytesReclaimable uint64 `json:"bytes_reclaimable,omitempty"`

	Errors []GroupError `json:"errors,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
