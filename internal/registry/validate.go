package registry

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ValidationIssue is a single invariant violation. validate never fails
// fast: it enumerates every issue it finds in one pass.
type ValidationIssue struct {
	Field  string
	Reason string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Reason)
}

// Validate enumerates every invariant violation on e. An empty slice means
// e is safe to register or update.
func Validate(e *Entry) []ValidationIssue {
	var issues []ValidationIssue

	if strings.TrimSpace(e.ID) == "" {
		issues = append(issues, ValidationIssue{"id", "must not be empty"})
	}
	if strings.TrimSpace(e.Namespace) == "" {
		issues = append(issues, ValidationIssue{"namespace", "must not be empty"})
	}
	if strings.TrimSpace(e.Name) == "" {
		issues = append(issues, ValidationIssue{"name", "must not be empty"})
	}
	if _, err := semver.NewVersion(e.Version); err != nil {
		issues = append(issues, ValidationIssue{"version", "must be a valid semantic version"})
	}
	if !IsValidCategory(e.Category) {
		issues = append(issues, ValidationIssue{"category", fmt.Sprintf("unknown category %q", e.Category)})
	}
	if e.TenantID == "" {
		issues = append(issues, ValidationIssue{"tenant_id", "must default to \"default\", never empty"})
	}

	conflictSet := make(map[string]bool, len(e.Conflicts))
	for _, c := range e.Conflicts {
		conflictSet[c] = true
	}
	for _, d := range e.Dependencies {
		if conflictSet[d] {
			issues = append(issues, ValidationIssue{"dependencies", fmt.Sprintf("entry %q is both a dependency and a conflict", d)})
		}
	}

	if e.UpdatedAt.Before(e.CreatedAt) {
		issues = append(issues, ValidationIssue{"updated_at", "must not precede created_at"})
	}

	for field, score := range map[string]float64{
		"gefs.quality": e.GEFS.Quality, "gefs.reliability": e.GEFS.Reliability,
		"gefs.performance": e.GEFS.Performance, "gefs.security": e.GEFS.Security,
		"gefs.compatibility": e.GEFS.Compatibility, "gefs.documentation": e.GEFS.Documentation,
	} {
		if score < 0 || score > 100 {
			issues = append(issues, ValidationIssue{field, "must be within [0, 100]"})
		}
	}

	if e.Status != "" {
		if _, ok := statusTransitions[e.Status]; !ok {
			issues = append(issues, ValidationIssue{"status", fmt.Sprintf("unknown status %q", e.Status)})
		}
	}

	return issues
}

// ValidateChecksum reports whether e.Checksum matches a recomputation over
// e's canonical payload.
func ValidateChecksum(e *Entry) bool {
	want, err := e.ComputeChecksum()
	if err != nil {
		return false
	}
	return want == e.Checksum
}
