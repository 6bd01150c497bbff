package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/de-tools/identity-atlas/pkg/models/domain"
)

const (
	BroadViewerRoleName    = "broad-viewer-role"
	AdminRoleGrantName     = "admin-role-grant"
	StaleCredentialName    = "stale-credential"
	PrimitiveRoleGrantName = "primitive-role-grant"
	TokenCreatorGrantName  = "token-creator-grant"
	DisabledWithGrantsName = "disabled-with-grants"
	UserManagedKeyName     = "user-managed-key"
)

// Settings contains the tunables of the built-in rules
type Settings struct {
	// StalenessThreshold is how long an identity may go unused before it is flagged (default: 90 days)
	StalenessThreshold time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		StalenessThreshold: 90 * 24 * time.Hour,
	}
}

// Builtin returns the default rule set, ordered by name.
func Builtin(settings Settings) []Rule {
	return []Rule{
		AdminRoleGrant(),
		BroadViewerRole(),
		StaleCredential(settings.StalenessThreshold),
	}
}

// Extended returns the default rule set plus the supplementary IAM checks.
func Extended(settings Settings) []Rule {
	all := append(Builtin(settings),
		DisabledWithGrants(),
		PrimitiveRoleGrant(),
		TokenCreatorGrant(),
		UserManagedKey(),
	)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Select returns the named rules in the order given. Unknown names are a
// configuration error.
func Select(settings Settings, names []string) ([]Rule, error) {
	catalog := make(map[string]Rule)
	for _, r := range Extended(settings) {
		catalog[r.Name] = r
	}

	selected := make([]Rule, 0, len(names))
	for _, name := range names {
		r, ok := catalog[name]
		if !ok {
			return nil, domain.NewConfigurationError("select rules", fmt.Errorf("unknown rule %q", name))
		}
		selected = append(selected, r)
	}
	return selected, nil
}

func BroadViewerRole() Rule {
	return Rule{
		Name:        BroadViewerRoleName,
		Description: "Identity holds a project-wide viewer role alongside other grants",
		Check: func(_ Env, identity domain.Identity) ([]domain.AuditFinding, error) {
			if len(identity.Roles) <= 1 {
				return nil, nil
			}
			if len(matchingRoles(identity, "roles/viewer", "roles/*.viewer")) == 0 {
				return nil, nil
			}
			return []domain.AuditFinding{{
				Severity:       domain.SeverityHigh,
				Description:    "Service account has broad viewer permissions",
				Recommendation: "Consider limiting to specific resources",
			}}, nil
		},
	}
}

func AdminRoleGrant() Rule {
	return Rule{
		Name:        AdminRoleGrantName,
		Description: "Identity holds a service admin role",
		Check: func(_ Env, identity domain.Identity) ([]domain.AuditFinding, error) {
			matched := matchingRoles(identity, "roles/*.admin")
			if len(matched) == 0 {
				return nil, nil
			}

			names := make([]string, 0, len(matched))
			scopes := make([]string, 0, len(matched))
			for _, role := range matched {
				name := strings.TrimPrefix(role, "roles/")
				names = append(names, name)
				scopes = append(scopes, strings.ReplaceAll(name, ".", " "))
			}
			noun := "role"
			if len(names) > 1 {
				noun = "roles"
			}

			return []domain.AuditFinding{{
				Severity:       domain.SeverityCritical,
				Description:    fmt.Sprintf("Service account has %s %s", strings.Join(names, ", "), noun),
				Recommendation: fmt.Sprintf("Review if full %s access is required", strings.Join(scopes, ", ")),
			}}, nil
		},
	}
}

func StaleCredential(threshold time.Duration) Rule {
	if threshold <= 0 {
		threshold = DefaultSettings().StalenessThreshold
	}
	days := int(threshold.Hours() / 24)

	return Rule{
		Name:        StaleCredentialName,
		Description: fmt.Sprintf("Identity unused for more than %d days or never observed in use", days),
		Check: func(env Env, identity domain.Identity) ([]domain.AuditFinding, error) {
			if identity.LastUsed == nil {
				return []domain.AuditFinding{{
					Severity:       domain.SeverityMedium,
					Description:    "Service account has never been observed in use",
					Recommendation: "Disable or delete the service account if it is not needed",
				}}, nil
			}

			idle := env.Now.Sub(*identity.LastUsed)
			if idle <= threshold {
				return nil, nil
			}
			return []domain.AuditFinding{{
				Severity:       domain.SeverityMedium,
				Description:    fmt.Sprintf("Service account has not been used for %d days (threshold %d days)", int(idle.Hours()/24), days),
				Recommendation: "Disable unused service accounts and rotate or remove their keys",
			}}, nil
		},
	}
}

func PrimitiveRoleGrant() Rule {
	return Rule{
		Name:        PrimitiveRoleGrantName,
		Description: "Identity holds the Owner or Editor basic role",
		Check: func(_ Env, identity domain.Identity) ([]domain.AuditFinding, error) {
			matched := matchingRoles(identity, "roles/owner", "roles/editor")
			if len(matched) == 0 {
				return nil, nil
			}
			return []domain.AuditFinding{{
				Severity:       domain.SeverityHigh,
				Description:    fmt.Sprintf("Overly permissive role assignment: %s", strings.Join(matched, ", ")),
				Recommendation: "Avoid assigning Owner/Editor roles. Use least privilege.",
			}}, nil
		},
	}
}

func TokenCreatorGrant() Rule {
	return Rule{
		Name:        TokenCreatorGrantName,
		Description: "Identity can mint tokens for other service accounts",
		Check: func(_ Env, identity domain.Identity) ([]domain.AuditFinding, error) {
			if len(matchingRoles(identity, "roles/iam.serviceAccountTokenCreator")) == 0 {
				return nil, nil
			}
			return []domain.AuditFinding{{
				Severity:       domain.SeverityMedium,
				Description:    "ServiceAccountTokenCreator assigned",
				Recommendation: "Restrict ServiceAccountTokenCreator to only trusted identities.",
			}}, nil
		},
	}
}

func DisabledWithGrants() Rule {
	return Rule{
		Name:        DisabledWithGrantsName,
		Description: "Disabled identity still holds role grants",
		Check: func(_ Env, identity domain.Identity) ([]domain.AuditFinding, error) {
			if identity.Status != domain.StatusDisabled || len(identity.Roles) == 0 {
				return nil, nil
			}
			return []domain.AuditFinding{{
				Severity:       domain.SeverityLow,
				Description:    fmt.Sprintf("Disabled service account still holds %d role grant(s)", len(identity.Roles)),
				Recommendation: "Remove role bindings from disabled service accounts",
			}}, nil
		},
	}
}

func UserManagedKey() Rule {
	return Rule{
		Name:        UserManagedKeyName,
		Description: "Identity authenticates with user-managed keys",
		Check: func(_ Env, identity domain.Identity) ([]domain.AuditFinding, error) {
			if identity.UserManagedKeys == 0 {
				return nil, nil
			}
			return []domain.AuditFinding{{
				Severity:       domain.SeverityHigh,
				Description:    fmt.Sprintf("Service account has %d user-managed key(s)", identity.UserManagedKeys),
				Recommendation: "Rotate and remove user-managed keys where possible. Use Workload Identity.",
			}}, nil
		},
	}
}
