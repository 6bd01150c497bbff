package rules

import (
	"path"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
)

// Env carries run-wide inputs a rule may depend on.
type Env struct {
	// Now is the audit run start time; age-based rules measure from it.
	Now time.Time
}

// Check inspects one identity. It returns the findings to raise; IdentityID
// and RuleName are filled in by the engine.
type Check func(env Env, identity domain.Identity) ([]domain.AuditFinding, error)

// Rule is a named, stateless check.
type Rule struct {
	Name        string
	Description string
	Check       Check
}

// matchRole reports whether role matches any of the glob patterns, where *
// stands for a single role path segment (e.g. roles/*.admin).
func matchRole(role string, patterns ...string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, role); err == nil && ok {
			return true
		}
	}
	return false
}

func matchingRoles(identity domain.Identity, patterns ...string) []string {
	var matched []string
	for _, role := range identity.Roles {
		if matchRole(role, patterns...) {
			matched = append(matched, role)
		}
	}
	return matched
}
