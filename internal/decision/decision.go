// Package decision picks a canonical file for each duplicate group and
// scores how safe it is to remove the rest automatically.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/steveyegge/dupescan/internal/similarity"
	"github.com/steveyegge/dupescan/internal/types"
)

// ReferenceChecker reports whether something outside the file itself refers
// to it (an import, a link, a build rule). Referenced files are preferred as
// canonical.
type ReferenceChecker interface {
	Referenced(ctx context.Context, path string) (bool, error)
}

// DefaultSafetyThreshold is the confidence required for automatic cleanup.
const DefaultSafetyThreshold = 0.85

// Engine turns groups into recommendations.
type Engine struct {
	SafetyThreshold float64

	// References is optional
	References ReferenceChecker

	Logger *slog.Logger
}

// Result holds one recommendation per group plus per-group problems that did
// not prevent a recommendation.
type Result struct {
	Recommendations []types.Recommendation
	Errors          []*types.GroupError
}

// Canonical choice reasons, used in rationales
const (
	reasonReferenced = "referenced by other files"
	reasonNewest     = "most recently modified"
	reasonLexical    = "lexically first path"
)

type choice struct {
	path       string
	referenced bool
	modified   time.Time
}

// Decide builds a recommendation for every group. Canonical precedence is:
// referenced, then most recent LastModified, then the lexically smallest
// path. Confidence is 1.0 for exact groups and the group similarity
// (clamped to [0, 1]) otherwise; Automatic is Confidence >= SafetyThreshold.
func (e *Engine) Decide(ctx context.Context, groups []types.DuplicateGroup, records []types.FileRecord) (Result, error) {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	byPath := similarity.Index(records)
	var res Result

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		choices := make([]choice, len(g.Members))
		for i, m := range g.Members {
			choices[i] = choice{path: m, modified: byPath[m].LastModified}
		}

		if e.References != nil {
			if err := e.markReferenced(ctx, choices); err != nil {
				if ctx.Err() != nil {
					return Result{}, ctx.Err()
				}
				logger.Warn("reference check failed, using modification time", "group_id", g.ID, "error", err)
				res.Errors = append(res.Errors, types.NewGroupError(g.ID, "", types.ReasonReferenceCheckFailed, err))
				for i := range choices {
					choices[i].referenced = false
				}
			}
		}

		canonical, why := pickCanonical(choices)
		confidence := Confidence(g)
		rationale := fmt.Sprintf("%s group of %d files (similarity %.2f); keeping %s: %s",
			g.Method, len(g.Members), g.Similarity, canonical, why)

		rec, err := types.NewRecommendation(g, canonical, confidence, e.SafetyThreshold, rationale)
		if err != nil {
			return Result{}, fmt.Errorf("building recommendation for group %s: %w", g.ID, err)
		}

		logger.Info("recommendation",
			"group_id", g.ID, "method", g.Method, "canonical", canonical,
			"confidence", confidence, "automatic", rec.Automatic)
		res.Recommendations = append(res.Recommendations, rec)
	}

	return res, nil
}

// Confidence is 1.0 for exact groups and the clamped similarity otherwise.
func Confidence(g types.DuplicateGroup) float64 {
	if g.Method == types.MethodExact {
		return 1.0
	}
	c := g.Similarity
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func (e *Engine) markReferenced(ctx context.Context, choices []choice) error {
	for i := range choices {
		ref, err := e.References.Referenced(ctx, choices[i].path)
		if err != nil {
			return fmt.Errorf("checking %s: %w", choices[i].path, err)
		}
		choices[i].referenced = ref
	}
	return nil
}

// pickCanonical orders choices by precedence and returns the winner together
// with the rule that separated it from the runner-up.
func pickCanonical(choices []choice) (string, string) {
	sorted := append([]choice(nil), choices...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.referenced != b.referenced {
			return a.referenced
		}
		if !a.modified.Equal(b.modified) {
			return a.modified.After(b.modified)
		}
		return a.path < b.path
	})

	first := sorted[0]
	if len(sorted) == 1 {
		return first.path, reasonLexical
	}
	second := sorted[1]
	switch {
	case first.referenced != second.referenced:
		return first.path, reasonReferenced
	case !first.modified.Equal(second.modified):
		return first.path, reasonNewest
	default:
		return first.path, reasonLexical
	}
}
